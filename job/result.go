package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/codec"
)

// Result describes the outcome of a finished job.
type Result struct {
	JobID           string        `json:"jobId"`
	Type            Type          `json:"type"`
	Success         bool          `json:"success"`
	Result          any           `json:"result,omitempty"`
	Error           string        `json:"error,omitempty"`
	ProcessingTime  time.Duration `json:"-"`
	WorkerID        string        `json:"workerId,omitempty"`
	SpawnedChildIDs []string      `json:"spawnedChildIds,omitempty"`
	Attempts        int           `json:"attempts"`
}

// MarshalJSON reports ProcessingTime in milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	return json.Marshal(struct {
		alias
		ProcessingTimeMs int64 `json:"processingTimeMs"`
	}{alias(r), r.ProcessingTime.Milliseconds()})
}

// ResultOf builds the Result of a terminal job, decoding its stored result.
func ResultOf(j *Job) (*Result, error) {
	if !j.State.Terminal() {
		return nil, conductor.ErrNotTerminal
	}
	res := &Result{
		JobID:           j.ID,
		Type:            j.Type,
		Success:         j.State == StateCompleted,
		Error:           j.LastError,
		ProcessingTime:  j.ProcessingTime,
		WorkerID:        j.WorkerID.String(),
		SpawnedChildIDs: append([]string(nil), j.SpawnedChildIDs...),
		Attempts:        j.Attempts,
	}
	if res.Success {
		res.Error = ""
	}
	if j.Result != "" {
		v, err := codec.Decode(j.Result)
		if err != nil {
			return nil, err
		}
		res.Result = v
	}
	return res, nil
}

package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xraph/conductor/inference"
	"github.com/xraph/conductor/job"
)

// CaseAnalysis runs a reasoning step over the case, then fans out to
// research and compliance work. An entity lookup is added when the
// payload sets entityInvolved.
func CaseAnalysis(ctx context.Context, inv *Invocation) (any, error) {
	analysis, err := inv.Inference.GenerateResponse(ctx, Prompt(inv.Job.Type, inv.Payload), inference.ClassReasoning)
	if err != nil {
		return nil, err
	}

	child := childPayload(inv.Payload, analysis)
	recs := []job.Record{
		inv.child(job.TypeLegalResearch, child),
		inv.child(job.TypeComplianceCheck, child),
	}
	if truthy(field(inv.Payload, "entityInvolved")) {
		recs = append(recs, inv.child(job.TypeEntityLookup, child))
	}

	ids, err := inv.Spawn(ctx, recs...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": analysis, "children": ids}, nil
}

// StrategyPlanning fans out to drafting and deadline work without a
// reasoning step of its own.
func StrategyPlanning(ctx context.Context, inv *Invocation) (any, error) {
	child := childPayload(inv.Payload, nil)
	ids, err := inv.Spawn(ctx,
		inv.child(job.TypeDocumentGeneration, child),
		inv.child(job.TypeDeadlineCalculation, child),
	)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": nil, "children": ids}, nil
}

// DocumentEmbedding embeds the payload's text field, or the whole payload
// when it is a string.
func DocumentEmbedding(ctx context.Context, inv *Invocation) (any, error) {
	text, ok := inv.Payload.(string)
	if !ok {
		text, _ = field(inv.Payload, "text").(string)
	}
	vec, err := inv.Inference.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"embedding": vec, "dimensions": len(vec)}, nil
}

// Generic is the single-step handler used for every type without a
// dedicated one. It asks the model class of the job's queue.
func Generic(ctx context.Context, inv *Invocation) (any, error) {
	out, err := inv.Inference.GenerateResponse(ctx, Prompt(inv.Job.Type, inv.Payload), inv.Affinity)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": out}, nil
}

// Prompt renders a job type and payload as model input. Map keys are
// sorted so equal payloads give equal prompts.
func Prompt(t job.Type, payload any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t)
	switch p := payload.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, p[k])
		}
	default:
		fmt.Fprintf(&b, "%v\n", p)
	}
	return b.String()
}

func (inv *Invocation) child(t job.Type, payload any) job.Record {
	return job.Record{
		Type:    t,
		Payload: payload,
		Metadata: job.Metadata{
			Tags: inv.Job.Metadata.Tags,
		},
	}
}

// childPayload copies a map payload and adds the parent's analysis; any
// other payload is wrapped.
func childPayload(payload any, analysis any) map[string]any {
	out := make(map[string]any)
	if m, ok := payload.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	} else if payload != nil {
		out["input"] = payload
	}
	if analysis != nil {
		out["analysis"] = analysis
	}
	return out
}

func field(payload any, key string) any {
	if m, ok := payload.(map[string]any); ok {
		return m[key]
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true" || x == "yes" || x == "1"
	case float64:
		return x != 0
	}
	return false
}

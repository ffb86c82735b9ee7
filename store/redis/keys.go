package redis

// Redis key naming conventions. All keys are prefixed with "conductor:".

const keyPrefix = "conductor:"

// ── Job keys ──

// jobKey returns the Hash key for a job: conductor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobKeyPrefix is passed to scripts that build job keys themselves.
const jobKeyPrefix = keyPrefix + "job:"

// readyKey returns the Sorted Set of due jobs for a queue, scored by
// priority then RunAt.
func readyKey(queue string) string { return keyPrefix + "ready:" + queue }

// delayedKey returns the Sorted Set of not-yet-due jobs for a queue,
// scored by RunAt in milliseconds.
func delayedKey(queue string) string { return keyPrefix + "delayed:" + queue }

// readyScoresKey is a Hash of job ID to the score it takes in its ready
// set once promoted from the delayed set.
const readyScoresKey = keyPrefix + "ready_scores"

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Dependency keys ──

// depsKey returns the Set of outstanding children of a parent.
func depsKey(parentID string) string { return keyPrefix + "deps:" + parentID }

// depsKeyPrefix is passed to the dependency removal script.
const depsKeyPrefix = keyPrefix + "deps:"

// depsFailedKeyPrefix prefixes the per-parent failed child counter.
const depsFailedKeyPrefix = keyPrefix + "deps_failed:"

// parentOfKey is a Hash of child ID to parent ID.
const parentOfKey = keyPrefix + "parent_of"

// parentsKey is the Set of parents with outstanding children.
const parentsKey = keyPrefix + "parents"

// ── DLQ keys ──

// dlqKey returns the Hash key for a DLQ entry: conductor:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

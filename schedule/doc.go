// Package schedule runs periodic work on cron expressions: recurring job
// submissions and the retention janitor that purges old terminal jobs and
// dead-letter entries.
//
// Expressions use the standard five fields or descriptors such as
// "@every 30s" and "@daily". Schedules run in-process on a single node;
// an entry that is still running when its next tick arrives is skipped.
package schedule

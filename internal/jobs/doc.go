// Package jobs owns the job lifecycle: upload intake, pricing and debit,
// dispatch to a bounded worker pool, clip production through the splitter,
// and the terminal transitions.
//
// RequestProcess returns as soon as the job is charged and queued. Callers
// observe completion through the persisted job row. Within the pool a job is
// owned by one worker; cancellation is soft and takes effect between
// segments. Failed jobs are refunded when credits.refund_on_failure is set.
package jobs

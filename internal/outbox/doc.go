// Package outbox implements transactional event publishing for job
// lifecycle events.
//
// Events are staged in the outbox_events table by the Emitter in the same
// database that holds job state, then drained to Kafka by the Dispatcher.
// A Postgres advisory lock elects a single draining replica, and delivery
// is at-least-once: an event whose publish or bookkeeping write fails is
// retried on the next poll, so consumers deduplicate on event_id.
//
// The service publishes one event per job lifecycle edge:
//
//   - discovery.job.started
//   - discovery.job.completed (carries the cost the billing boundary charges)
//   - discovery.job.failed
//   - discovery.job.cancelled (carries no cost; cancellation is never charged)
//
// Messages are keyed by aggregate ID so one job's events stay ordered
// within a partition.
package outbox

// Package metrics defines the observability events emitted by the scheduler
// tasks and the recorder interfaces sinks implement. Sinks like PromSink and
// InfluxSink live in infra/metrics, register themselves by type name and are
// combined with NewMultiSink when several are configured.
package metrics

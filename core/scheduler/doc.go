// Package scheduler runs named periodic tasks. Each task owns a goroutine and
// a ticker; a tick that fires while the previous run of the same task is still
// in flight is skipped and counted. Stop waits for in-flight runs.
package scheduler

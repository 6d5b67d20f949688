/*
Package events is a small in-memory pub/sub broker used by the
Creation Job Registry to publish stage-transition and terminal-status
events: a queued Publish from the registry (it waits only while the
100-event queue is full), buffered per-subscriber channels for callers
tailing a job's progress.
*/
package events

// Package stream implements real-time delivery of task events to observers.
// It holds the registry of open per-task channels, the emitter that resolves
// a task to its current channel at send time, the per-channel heartbeat, and
// the lifecycle coordinator that guarantees each channel is torn down exactly
// once regardless of whether the producer finishes, the consumer disconnects,
// or the transport fails first.
package stream

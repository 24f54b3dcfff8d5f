// Package issue is the domain core of herald's alert distribution. It
// defines the Issue aggregate and its state machine, the Store contract
// (persistence with optimistic concurrency), the metrics Sink, and the
// Service for operator-driven lifecycle transitions.
package issue

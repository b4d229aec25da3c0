// Package probequeue holds the due-time schedule the health checker pulls
// from. Two implementations exist: an in-memory heap for single-instance
// deployments and a Redis sorted set that lets several instances share one
// probe workload.
package probequeue

import (
	"context"
	"time"
)

// Schedule orders proxies by their next probe due-time. Enroll leaves an
// already scheduled proxy where it is, so the periodic reconcile sweep
// cannot reset a backed-off entry; Requeue always moves it.
type Schedule interface {
	Enroll(proxyID string, due time.Time) error
	Requeue(proxyID string, due time.Time) error
	Remove(proxyID string) error

	// PopDue blocks until some proxy's due-time has passed, removes it
	// from the schedule and returns it. The caller requeues it after the
	// probe completes.
	PopDue(ctx context.Context) (string, time.Time, error)

	Len() (int64, error)
}

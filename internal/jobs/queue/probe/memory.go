package probequeue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// idleWait bounds how long PopDue sleeps when the schedule is empty, so a
// concurrent Enroll or Requeue is noticed even if the wake signal is missed.
const idleWait = time.Second

type scheduleEntry struct {
	proxyID string
	due     time.Time
	index   int
}

type entryHeap []*scheduleEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*scheduleEntry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// MemorySchedule is the default, single-instance schedule: a min-heap on
// due-time with a map for O(1) upserts.
type MemorySchedule struct {
	mu   sync.Mutex
	clk  clock.Clock
	heap entryHeap
	byID map[string]*scheduleEntry
	wake chan struct{}
}

func NewMemorySchedule(clk clock.Clock) *MemorySchedule {
	if clk == nil {
		clk = clock.New()
	}
	return &MemorySchedule{
		clk:  clk,
		byID: make(map[string]*scheduleEntry),
		wake: make(chan struct{}, 1),
	}
}

func (s *MemorySchedule) Enroll(proxyID string, due time.Time) error {
	return s.add(proxyID, due, false)
}

func (s *MemorySchedule) Requeue(proxyID string, due time.Time) error {
	return s.add(proxyID, due, true)
}

func (s *MemorySchedule) add(proxyID string, due time.Time, move bool) error {
	s.mu.Lock()
	if entry, ok := s.byID[proxyID]; ok {
		if !move {
			s.mu.Unlock()
			return nil
		}
		entry.due = due
		heap.Fix(&s.heap, entry.index)
	} else {
		entry := &scheduleEntry{proxyID: proxyID, due: due}
		s.byID[proxyID] = entry
		heap.Push(&s.heap, entry)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *MemorySchedule) Remove(proxyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.byID[proxyID]; ok {
		delete(s.byID, proxyID)
		heap.Remove(&s.heap, entry.index)
	}
	return nil
}

func (s *MemorySchedule) PopDue(ctx context.Context) (string, time.Time, error) {
	for {
		s.mu.Lock()
		wait := idleWait
		if len(s.heap) > 0 {
			next := s.heap[0]
			now := s.clk.Now()
			if !next.due.After(now) {
				heap.Pop(&s.heap)
				delete(s.byID, next.proxyID)
				s.mu.Unlock()
				return next.proxyID, next.due, nil
			}
			if until := next.due.Sub(now); until < wait {
				wait = until
			}
		}
		s.mu.Unlock()

		timer := s.clk.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", time.Time{}, ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *MemorySchedule) Len() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.heap)), nil
}

package schedule

import (
	"container/heap"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/topicwatch/internal/topic"
)

// Key identifies the single armed fire slot of a topic cadence.
type Key struct {
	TopicID string
	Cadence topic.Cadence
}

// Fire is one armed run of a topic cadence.
type Fire struct {
	JobID   string
	TopicID string
	Cadence topic.Cadence
	At      time.Time
}

// Key returns the slot the fire occupies.
func (f Fire) Key() Key {
	return Key{TopicID: f.TopicID, Cadence: f.Cadence}
}

type entry struct {
	Fire
	index int
}

type fireHeap []*entry

func (h fireHeap) Len() int { return len(h) }

func (h fireHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].JobID < h[j].JobID
	}
	return h[i].At.Before(h[j].At)
}

func (h fireHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *fireHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue holds armed fires ordered by time. At most one fire exists per Key;
// arming a key replaces its previous fire.
type Queue struct {
	mu    sync.Mutex
	items fireHeap
	byKey map[Key]*entry
	wake  chan struct{}
	now   func() time.Time
}

// NewQueue returns an empty queue reading time from now.
func NewQueue(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{
		byKey: make(map[Key]*entry),
		wake:  make(chan struct{}, 1),
		now:   now,
	}
}

// Arm schedules f, cancelling any fire already armed for the same key.
func (q *Queue) Arm(f Fire) (replaced bool) {
	q.mu.Lock()
	if prev, ok := q.byKey[f.Key()]; ok {
		heap.Remove(&q.items, prev.index)
		replaced = true
	}
	e := &entry{Fire: f}
	heap.Push(&q.items, e)
	q.byKey[f.Key()] = e
	q.mu.Unlock()
	q.signal()
	return replaced
}

// Cancel removes the fire armed for key.
func (q *Queue) Cancel(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&q.items, e.index)
	delete(q.byKey, key)
	return true
}

// CancelTopic removes every fire of a topic and reports how many were armed.
func (q *Queue) CancelTopic(topicID string) int {
	n := 0
	for _, c := range topic.Cadences {
		if q.Cancel(Key{TopicID: topicID, Cadence: c}) {
			n++
		}
	}
	return n
}

// Lookup returns the fire armed for key.
func (q *Queue) Lookup(key Key) (Fire, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byKey[key]
	if !ok {
		return Fire{}, false
	}
	return e.Fire, true
}

// Pending lists armed fires, soonest first.
func (q *Queue) Pending() []Fire {
	q.mu.Lock()
	out := make([]Fire, 0, len(q.items))
	for _, e := range q.items {
		out = append(out, e.Fire)
	}
	q.mu.Unlock()
	slices.SortFunc(out, func(a, b Fire) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		if a.JobID < b.JobID {
			return -1
		}
		if a.JobID > b.JobID {
			return 1
		}
		return 0
	})
	return out
}

// Len reports the number of armed fires.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every armed fire.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.byKey = make(map[Key]*entry)
	return n
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run waits for the soonest fire and hands every due fire to fn, removing
// it from the queue first. fn runs on the loop goroutine and must not block.
// Run returns when ctx is done.
func (q *Queue) Run(ctx context.Context, fn func(Fire)) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		due, wait := q.popDue()
		for _, f := range due {
			fn(f)
		}
		if len(due) > 0 {
			continue
		}
		var timerC <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timerC:
		}
		timer.Stop()
	}
}

// popDue removes fires whose time has come and reports how long to wait for
// the next one, or -1 when the queue is empty.
func (q *Queue) popDue() ([]Fire, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var due []Fire
	for len(q.items) > 0 && !q.items[0].At.After(now) {
		e := heap.Pop(&q.items).(*entry)
		delete(q.byKey, e.Key())
		due = append(due, e.Fire)
	}
	if len(q.items) == 0 {
		return due, -1
	}
	return due, q.items[0].At.Sub(now)
}

// Package taskpool implements the task pool of spec §4.8: a single
// cooperative worker that runs due tasks, one-shot or recurring, drawn
// from a time-ordered min-heap.
package taskpool

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// task is one scheduled unit of work. Recurring tasks carry a non-zero
// interval and are re-pushed onto the heap after each run.
type task struct {
	id       uuid.UUID
	name     string
	fire     time.Time
	interval time.Duration
	jitter   time.Duration
	fn       func()
	index    int
	cancelled bool
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].fire.Before(h[j].fire) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Pool is a cooperative task scheduler: all due work runs on whatever
// goroutine calls DoWorkOnce, never on a dedicated goroutine of its own.
// Safe for concurrent Schedule*/Cancel calls; DoWorkOnce should be
// driven by a single caller (in this tree, boot's own ticker goroutine,
// System.drivePool).
type Pool struct {
	mu sync.Mutex
	h  taskHeap
	by map[uuid.UUID]*task
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{by: make(map[uuid.UUID]*task)}
}

// Tracker lets a caller cancel a task it scheduled, RAII-style: holding
// one and forgetting to call Cancel simply lets the task keep running or
// expire naturally; there is no finalizer.
type Tracker struct {
	pool *Pool
	id   uuid.UUID
}

// Cancel prevents the task from running again. Safe to call more than
// once, and safe to call after the task has already fired.
func (t *Tracker) Cancel() {
	t.pool.cancel(t.id)
}

// ID returns the task's identifier, useful for logging.
func (t *Tracker) ID() uuid.UUID { return t.id }

func (p *Pool) schedule(name string, delay, interval, jitter time.Duration, fn func()) *Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	tk := &task{
		id:       uuid.New(),
		name:     name,
		fire:     time.Now().Add(applyJitter(delay, jitter)),
		interval: interval,
		jitter:   jitter,
		fn:       fn,
	}
	heap.Push(&p.h, tk)
	p.by[tk.id] = tk
	return &Tracker{pool: p, id: tk.id}
}

// ScheduleOnce runs fn once after delay elapses.
func (p *Pool) ScheduleOnce(delay time.Duration, fn func()) *Tracker {
	return p.schedule("", delay, 0, 0, fn)
}

// ScheduleRecurring runs fn every interval, starting after the first
// interval elapses. jitter, if non-zero, randomizes each firing within
// +/-jitter to avoid every recurring task waking in lockstep.
func (p *Pool) ScheduleRecurring(interval, jitter time.Duration, fn func()) *Tracker {
	return p.schedule("", interval, interval, jitter, fn)
}

func (p *Pool) cancel(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.by[id]
	if !ok {
		return
	}
	t.cancelled = true
	delete(p.by, id)
	if t.index >= 0 && t.index < len(p.h) {
		heap.Remove(&p.h, t.index)
	}
}

// DoWorkOnce runs every task due at or before now, reschedules recurring
// ones, and returns the next pending deadline (hasNext is false if the
// pool is empty). Tasks run synchronously, one after another, on the
// calling goroutine (spec §4.8 "cooperative pool").
func (p *Pool) DoWorkOnce(now time.Time) (next time.Time, hasNext bool) {
	for {
		p.mu.Lock()
		if p.h.Len() == 0 || p.h[0].fire.After(now) {
			if p.h.Len() > 0 {
				next, hasNext = p.h[0].fire, true
			}
			p.mu.Unlock()
			return next, hasNext
		}
		t := heap.Pop(&p.h).(*task)
		if t.interval == 0 {
			delete(p.by, t.id)
		}
		p.mu.Unlock()

		if t.cancelled {
			continue
		}
		t.fn()

		if t.interval > 0 {
			p.mu.Lock()
			if !t.cancelled {
				t.fire = now.Add(applyJitter(t.interval, t.jitter))
				heap.Push(&p.h, t)
			}
			p.mu.Unlock()
		}
	}
}

// Len reports the number of tasks currently pending.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.Len()
}

func applyJitter(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	d := base + offset
	if d < 0 {
		d = 0
	}
	return d
}

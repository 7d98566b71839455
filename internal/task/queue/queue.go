// Package queue holds pending tasks ordered by (DueTime, Priority, ID).
//
// A Queue is not safe for concurrent use; the scheduler guards it with its own lock.
package queue

import (
	"container/heap"

	"schedq/internal/task"
)

// Less is the queue ordering: earlier DueTime first, then smaller Priority,
// then ID so the order is total and deterministic.
func Less(a, b *task.Task) bool {
	if !a.DueTime.Equal(b.DueTime) {
		return a.DueTime.Before(b.DueTime)
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

type entry struct {
	t     *task.Task
	index int
}

// taskHeap implements container/heap.Interface and keeps entry.index current.
type taskHeap []*entry

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return Less(h[i].t, h[j].t) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a min-heap of tasks with an ID index for O(log n) removal.
type Queue struct {
	h    taskHeap
	byID map[string]*entry
}

func New() *Queue {
	return &Queue{byID: make(map[string]*entry)}
}

func (q *Queue) Len() int { return len(q.h) }

// Insert adds t. An existing entry with the same ID is replaced.
func (q *Queue) Insert(t *task.Task) {
	if t == nil {
		return
	}
	if e, ok := q.byID[t.ID]; ok {
		e.t = t
		heap.Fix(&q.h, e.index)
		return
	}
	e := &entry{t: t}
	heap.Push(&q.h, e)
	q.byID[t.ID] = e
}

// PeekMin returns the first task in queue order without removing it.
func (q *Queue) PeekMin() (*task.Task, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0].t, true
}

// PopMin removes and returns the first task in queue order.
func (q *Queue) PopMin() (*task.Task, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	e := heap.Pop(&q.h).(*entry)
	delete(q.byID, e.t.ID)
	return e.t, true
}

// Remove deletes the task with the given ID.
func (q *Queue) Remove(id string) (*task.Task, bool) {
	e, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byID, id)
	return e.t, true
}

func (q *Queue) Get(id string) (*task.Task, bool) {
	e, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	return e.t, true
}

// Contains reports whether a task with the given ID is queued.
func (q *Queue) Contains(id string) bool {
	_, ok := q.byID[id]
	return ok
}

// Ascend calls fn for each task in queue order until fn returns false.
// fn must not modify the queue.
func (q *Queue) Ascend(fn func(t *task.Task) bool) {
	if len(q.h) == 0 {
		return
	}
	// Frontier of heap indices ordered by their tasks; a node's children are
	// only pushed once the node itself has been visited.
	f := &frontier{h: q.h, idx: []int{0}}
	for f.Len() > 0 {
		i := heap.Pop(f).(int)
		if !fn(q.h[i].t) {
			return
		}
		if l := 2*i + 1; l < len(q.h) {
			heap.Push(f, l)
		}
		if r := 2*i + 2; r < len(q.h) {
			heap.Push(f, r)
		}
	}
}

// List returns the queued tasks in queue order. A non-empty group filters by Group.
func (q *Queue) List(group string) []*task.Task {
	out := make([]*task.Task, 0, len(q.h))
	q.Ascend(func(t *task.Task) bool {
		if group == "" || t.Group == group {
			out = append(out, t)
		}
		return true
	})
	return out
}

type frontier struct {
	h   taskHeap
	idx []int
}

func (f *frontier) Len() int           { return len(f.idx) }
func (f *frontier) Less(i, j int) bool { return Less(f.h[f.idx[i]].t, f.h[f.idx[j]].t) }
func (f *frontier) Swap(i, j int)      { f.idx[i], f.idx[j] = f.idx[j], f.idx[i] }
func (f *frontier) Push(x any)         { f.idx = append(f.idx, x.(int)) }
func (f *frontier) Pop() any {
	n := len(f.idx)
	x := f.idx[n-1]
	f.idx = f.idx[:n-1]
	return x
}

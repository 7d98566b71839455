package scheduler

import (
	"sync"

	"schedq/internal/task"
)

// statusTable maps task ID to its status. Updates are per key: each ID has its
// own cell, so writers of different tasks never contend.
type statusTable struct {
	m sync.Map // string -> *statusCell
}

type statusCell struct {
	mu sync.Mutex
	st task.Status
}

func (t *statusTable) get(id string) (task.Status, bool) {
	v, ok := t.m.Load(id)
	if !ok {
		return task.Status{}, false
	}
	c := v.(*statusCell)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Clone(), true
}

func (t *statusTable) put(id string, st task.Status) {
	v, loaded := t.m.LoadOrStore(id, &statusCell{st: st.Clone()})
	if !loaded {
		return
	}
	c := v.(*statusCell)
	c.mu.Lock()
	c.st = st.Clone()
	c.mu.Unlock()
}

// update applies fn to the status of id. It reports false if id has no status.
func (t *statusTable) update(id string, fn func(st *task.Status)) bool {
	v, ok := t.m.Load(id)
	if !ok {
		return false
	}
	c := v.(*statusCell)
	c.mu.Lock()
	fn(&c.st)
	c.mu.Unlock()
	return true
}

func (t *statusTable) delete(id string) {
	t.m.Delete(id)
}

func (t *statusTable) state(id string) (task.State, bool) {
	st, ok := t.get(id)
	return st.State, ok
}

func (t *statusTable) len() int {
	n := 0
	t.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

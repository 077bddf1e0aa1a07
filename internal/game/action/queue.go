package action

// Queue runs one action at a time in FIFO order.
//
// Clear may be called from inside the running action's Step (for example
// when the action's own harm lands crowd-control on its caster). Every Clear
// bumps a generation counter; Tick compares it after each callback and stops
// touching the old action as soon as it changes.
type Queue struct {
	enabled    bool
	current    *Action
	pending    []*Action
	needsEntry bool
	generation uint64

	onStart func(a *Action)
}

// NewQueue returns an enabled queue. onStart, when set, is the
// simulate-on-entry pass: it runs once per action, after its first step.
func NewQueue(onStart func(a *Action)) *Queue {
	return &Queue{enabled: true, onStart: onStart}
}

// Enqueue schedules a. Disabled queues drop it.
func (q *Queue) Enqueue(a *Action) {
	if !q.enabled || a == nil {
		return
	}
	if q.current == nil {
		q.current = a
		q.needsEntry = true
		return
	}
	q.pending = append(q.pending, a)
}

// Clear ends the current action and drops everything pending.
func (q *Queue) Clear() {
	q.generation++
	cur := q.current
	q.current = nil
	q.needsEntry = false
	clear(q.pending)
	q.pending = q.pending[:0]
	if cur != nil {
		cur.End()
	}
}

// Tick advances the current action.
func (q *Queue) Tick(dt float64) {
	cur := q.current
	if cur == nil {
		return
	}
	gen := q.generation

	active := cur.Update(dt)
	if q.generation != gen {
		return
	}

	if q.needsEntry {
		q.needsEntry = false
		if q.onStart != nil && cur.TypeID != NoTypeID {
			q.onStart(cur)
			if q.generation != gen {
				return
			}
		}
	}

	if active {
		return
	}

	cur.End()
	if q.generation != gen {
		return
	}
	q.advance()
}

func (q *Queue) advance() {
	if len(q.pending) == 0 {
		q.current = nil
		q.needsEntry = false
		return
	}
	q.current = q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.needsEntry = true
}

// Current returns the running action, or nil.
func (q *Queue) Current() *Action {
	return q.current
}

// NeedsEntry reports whether the current action still owes its
// simulate-on-entry pass.
func (q *Queue) NeedsEntry() bool {
	return q.current != nil && q.needsEntry
}

// Len returns the number of scheduled actions, current included.
func (q *Queue) Len() int {
	if q.current == nil {
		return 0
	}
	return 1 + len(q.pending)
}

// SetEnabled toggles the queue. Either way the queue is cleared.
func (q *Queue) SetEnabled(enabled bool) {
	q.enabled = enabled
	q.Clear()
}

func (q *Queue) Enabled() bool {
	return q.enabled
}

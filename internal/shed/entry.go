package shed

import "container/list"

// entry pairs a queued task with the request it originated from.
type entry struct {
	task    Task
	request Request
}

// entryQueue is the FIFO of an engine. It is backed by container/list so an
// entry can be unlinked from the middle in O(1) once the skip scan finds it.
// Callers hold the shed mutex.
type entryQueue struct {
	entries *list.List
}

func newEntryQueue() *entryQueue {
	return &entryQueue{entries: list.New()}
}

func (q *entryQueue) push(t Task, r Request) {
	q.entries.PushBack(&entry{task: t, request: r})
}

func (q *entryQueue) len() int {
	return q.entries.Len()
}

// popNonFrozen removes and returns the first entry whose task is not frozen,
// or nil when every queued task is frozen.
func (q *entryQueue) popNonFrozen() *entry {
	for e := q.entries.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if !ent.task.Frozen() {
			q.entries.Remove(e)
			return ent
		}
	}
	return nil
}

// drain removes all entries in arrival order.
func (q *entryQueue) drain() []*entry {
	drained := make([]*entry, 0, q.entries.Len())
	for e := q.entries.Front(); e != nil; e = e.Next() {
		drained = append(drained, e.Value.(*entry))
	}
	q.entries.Init()
	return drained
}

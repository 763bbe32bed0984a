package oversight

import (
	"container/heap"

	"github.com/havenline/triage/pkg/contracts"
)

// caseQueue is a priority queue over pending cases: higher priority
// first, ties broken by arrival order. A side table gives O(1) lookup
// and removal by case id. Callers synchronize; the queue itself is not
// goroutine safe.
type caseQueue struct {
	items []*queueItem
	byID  map[string]*queueItem
	seq   uint64
}

type queueItem struct {
	c     *contracts.OversightCase
	seq   uint64
	index int
}

func newCaseQueue() *caseQueue {
	q := &caseQueue{byID: make(map[string]*queueItem)}
	heap.Init(q)
	return q
}

func (q *caseQueue) Len() int { return len(q.items) }

func (q *caseQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.c.Priority.Rank() != b.c.Priority.Rank() {
		return a.c.Priority.Rank() > b.c.Priority.Rank()
	}
	return a.seq < b.seq
}

func (q *caseQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *caseQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
}

func (q *caseQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// add enqueues a case, preserving arrival order within a priority tier.
func (q *caseQueue) add(c *contracts.OversightCase) {
	q.seq++
	item := &queueItem{c: c, seq: q.seq}
	heap.Push(q, item)
	q.byID[c.ID] = item
}

// peek returns the highest-priority case without removing it.
func (q *caseQueue) peek() *contracts.OversightCase {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].c
}

// remove deletes a case by id, reporting whether it was queued.
func (q *caseQueue) remove(id string) bool {
	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(q, item.index)
	delete(q.byID, id)
	return true
}

// snapshot returns the queued cases in priority order.
func (q *caseQueue) snapshot() []*contracts.OversightCase {
	clone := &caseQueue{
		items: make([]*queueItem, len(q.items)),
		byID:  make(map[string]*queueItem, len(q.byID)),
	}
	for i, item := range q.items {
		ci := *item
		clone.items[i] = &ci
	}
	out := make([]*contracts.OversightCase, 0, len(clone.items))
	for clone.Len() > 0 {
		out = append(out, heap.Pop(clone).(*queueItem).c)
	}
	return out
}

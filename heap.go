// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import "container/heap"

// taskHeap is an array-backed min-heap of tasks keyed by sortIndex. The
// scheduler keeps two of them: the timer queue (sortIndex = startTime) and
// the ready queue (sortIndex = expirationTime). Cancelled tasks are never
// removed in place; they stay as nil-callback husks until popped, so the
// heap needs no index bookkeeping.
type taskHeap []*task

func (h *taskHeap) Len() int { return len(*h) }

// Less returns if the task at index [i] sorts before the task at index [j].
// Ties are broken by id, so tasks of equal urgency run in submission order.
func (h *taskHeap) Less(i, j int) bool {
	a, b := (*h)[i], (*h)[j]
	if !a.sortIndex.Equal(b.sortIndex) {
		return a.sortIndex.Before(b.sortIndex)
	}
	return a.id < b.id
}

// Swap swaps the values at index [i] and [j]
func (h *taskHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
}

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*task))
}

func (h *taskHeap) Pop() any {
	old := *h
	len := h.Len()
	t := old[len-1]
	old[len-1] = nil
	*h = old[0 : len-1]
	return t
}

// push inserts the task keyed by its current sortIndex.
func (h *taskHeap) push(t *task) {
	heap.Push(h, t)
}

// peek returns the root without removing it, or nil if the heap is empty.
func (h *taskHeap) peek() *task {
	if h.Len() == 0 {
		return nil
	}
	return (*h)[0]
}

// pop removes and returns the root, or nil if the heap is empty.
func (h *taskHeap) pop() *task {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*task)
}

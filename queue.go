package libcluster

import (
	"container/heap"
)

type proposalKind int

const (
	proposalMerge proposalKind = iota
	proposalSplit
)

// proposal is a candidate structural change: merging clusters k and l, or
// splitting cluster k along its principal axis.
type proposal struct {
	kind proposalKind
	k, l int
	p    float64
	i    int
}

// priority queue of proposals, highest priority first
type proposalQueue []*proposal

func newProposalQueue(size int) proposalQueue {
	q := make(proposalQueue, 0, size)
	heap.Init(&q)

	return q
}

func (pq proposalQueue) Len() int { return len(pq) }

func (pq proposalQueue) Less(i, j int) bool {
	return pq[i].p > pq[j].p
}

func (pq proposalQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].i = i
	pq[j].i = j
}

func (pq *proposalQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*proposal)
	item.i = n
	*pq = append(*pq, item)
	heap.Fix(pq, item.i)
}

func (pq *proposalQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	item.i = -1
	*pq = old[0 : n-1]
	return item
}

func (pq *proposalQueue) NotEmpty() bool {
	return len(*pq) > 0
}

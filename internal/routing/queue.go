package routing

import "container/heap"

const costEpsilon = 1e-9

// label is a tentative path to node.
type label struct {
	node    string
	cost    float64
	latency float64
	path    []string
}

func (l *label) hops() int {
	return len(l.path) - 1
}

// less orders labels by cost, then hop count, then node-id sequence.
func less(a, b *label) bool {
	if d := a.cost - b.cost; d < -costEpsilon || d > costEpsilon {
		return d < 0
	}
	if a.hops() != b.hops() {
		return a.hops() < b.hops()
	}
	for i := 0; i < len(a.path) && i < len(b.path); i++ {
		if a.path[i] != b.path[i] {
			return a.path[i] < b.path[i]
		}
	}
	return len(a.path) < len(b.path)
}

type labelQueue []*label

func (q labelQueue) Len() int           { return len(q) }
func (q labelQueue) Less(i, j int) bool { return less(q[i], q[j]) }
func (q labelQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *labelQueue) Push(x any) { *q = append(*q, x.(*label)) }

func (q *labelQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func newLabelQueue(start *label) *labelQueue {
	q := &labelQueue{start}
	heap.Init(q)
	return q
}

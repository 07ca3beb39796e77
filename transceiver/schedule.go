package transceiver

import (
	"container/heap"
	"fmt"
	"strings"
)

// A Schedule is the execution order of a set of functions. A function runs
// after every function producing one of its sources; independent functions
// keep their declaration order.
type Schedule struct {
	order      []*Function
	upstream   map[string][]string
	downstream map[string][]string
}

// NewSchedule orders the functions of a table. It fails with
// ErrCyclicDependency if the dependency graph has a cycle.
func NewSchedule(t *Table) (*Schedule, error) {
	functions := t.Functions()
	n := len(functions)

	s := &Schedule{
		upstream:   make(map[string][]string),
		downstream: make(map[string][]string),
	}

	succ := make([][]int, n)
	inDegree := make([]int, n)

	for i, producer := range functions {
		for j, consumer := range functions {
			if i == j || !feeds(producer, consumer) {
				continue
			}

			succ[i] = append(succ[i], j)
			inDegree[j]++
			s.downstream[producer.name] = append(
				s.downstream[producer.name], consumer.name)
			s.upstream[consumer.name] = append(
				s.upstream[consumer.name], producer.name)
		}
	}

	ready := &indexHeap{}
	for i := range functions {
		if inDegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		s.order = append(s.order, functions[i])

		for _, j := range succ[i] {
			inDegree[j]--
			if inDegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	if len(s.order) < n {
		var cycle []string
		for i, f := range functions {
			if inDegree[i] > 0 {
				cycle = append(cycle, f.name)
			}
		}

		return nil, fmt.Errorf("%w among %s",
			ErrCyclicDependency, strings.Join(cycle, ", "))
	}

	return s, nil
}

// feeds tells if the producer writes a source of the consumer. A producer
// without declared outputs may write any device of its target engine, so it
// feeds every source reading that engine.
func feeds(producer, consumer *Function) bool {
	if len(producer.outputs) == 0 {
		for _, s := range consumer.sources {
			if engine := s.Engine(); engine == "" || engine == producer.target {
				return true
			}
		}

		return false
	}

	for _, out := range producer.outputs {
		if consumer.Consumes(out) {
			return true
		}
	}

	return false
}

// Order returns the functions in execution order.
func (s *Schedule) Order() []*Function {
	order := make([]*Function, len(s.order))
	copy(order, s.order)

	return order
}

// Names returns the function names in execution order.
func (s *Schedule) Names() []string {
	names := make([]string, len(s.order))
	for i, f := range s.order {
		names[i] = f.name
	}

	return names
}

// Upstream returns the functions that must run before the named one.
func (s *Schedule) Upstream(name string) []string {
	return append([]string(nil), s.upstream[name]...)
}

// Downstream returns the functions that consume outputs of the named one.
func (s *Schedule) Downstream(name string) []string {
	return append([]string(nil), s.downstream[name]...)
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap) Push(x interface{}) {
	*h = append(*h, x.(int))
}

func (h *indexHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}

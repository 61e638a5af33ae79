package merge

import (
	"container/heap"

	"go.uber.org/multierr"
)

// multiResult owns the close of every input.
type multiResult struct {
	results []QueryResult
	err     error
}

func (m *multiResult) Columns() []string {
	return m.results[0].Columns()
}

func (m *multiResult) Err() error {
	return m.err
}

func (m *multiResult) Close() error {
	var err error
	for _, r := range m.results {
		err = multierr.Append(err, r.Close())
	}
	return err
}

// iteratorResult concatenates results in unit order.
type iteratorResult struct {
	multiResult
	pos     int
	current []interface{}
}

func newIteratorResult(results []QueryResult) *iteratorResult {
	return &iteratorResult{multiResult: multiResult{results: results}}
}

func (it *iteratorResult) Next() bool {
	for it.err == nil && it.pos < len(it.results) {
		r := it.results[it.pos]
		if r.Next() {
			it.current = r.Values()
			return true
		}
		if err := r.Err(); err != nil {
			it.err = err
			return false
		}
		it.pos++
	}
	return false
}

func (it *iteratorResult) Values() []interface{} {
	return it.current
}

type cursor struct {
	result QueryResult
	row    []interface{}
	unit   int
}

type cursorHeap struct {
	cursors []*cursor
	cmp     Comparator
}

func (h *cursorHeap) Len() int { return len(h.cursors) }

func (h *cursorHeap) Less(i, j int) bool {
	if c := h.cmp(h.cursors[i].row, h.cursors[j].row); c != 0 {
		return c < 0
	}
	return h.cursors[i].unit < h.cursors[j].unit
}

func (h *cursorHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *cursorHeap) Push(x interface{}) { h.cursors = append(h.cursors, x.(*cursor)) }

func (h *cursorHeap) Pop() interface{} {
	old := h.cursors
	c := old[len(old)-1]
	h.cursors = old[:len(old)-1]
	return c
}

// orderedResult merges results each already sorted by cmp. Equal rows keep unit order.
type orderedResult struct {
	multiResult
	heap    *cursorHeap
	started bool
	current []interface{}
}

func newOrderedResult(results []QueryResult, cmp Comparator) *orderedResult {
	return &orderedResult{multiResult: multiResult{results: results}, heap: &cursorHeap{cmp: cmp}}
}

func (o *orderedResult) advance(c *cursor) bool {
	if c.result.Next() {
		c.row = c.result.Values()
		return true
	}
	if err := c.result.Err(); err != nil && o.err == nil {
		o.err = err
	}
	return false
}

func (o *orderedResult) Next() bool {
	if !o.started {
		o.started = true
		for i, r := range o.results {
			c := &cursor{result: r, unit: i}
			if o.advance(c) {
				o.heap.cursors = append(o.heap.cursors, c)
			}
		}
		heap.Init(o.heap)
	} else if o.heap.Len() > 0 {
		top := o.heap.cursors[0]
		if o.advance(top) {
			heap.Fix(o.heap, 0)
		} else {
			heap.Pop(o.heap)
		}
	}
	if o.err != nil || o.heap.Len() == 0 {
		return false
	}
	o.current = o.heap.cursors[0].row
	return true
}

func (o *orderedResult) Values() []interface{} {
	return o.current
}

// paginatedResult skips offset rows of its input and stops after rowCount rows.
type paginatedResult struct {
	QueryResult
	offset   int64
	rowCount int64
	skipped  bool
	returned int64
}

func (p *paginatedResult) Next() bool {
	if !p.skipped {
		p.skipped = true
		for i := int64(0); i < p.offset; i++ {
			if !p.QueryResult.Next() {
				return false
			}
		}
	}
	if p.rowCount >= 0 && p.returned >= p.rowCount {
		return false
	}
	if !p.QueryResult.Next() {
		return false
	}
	p.returned++
	return true
}

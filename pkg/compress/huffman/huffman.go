// Package huffman builds length-limited canonical prefix codes from symbol
// frequencies. It is shared by the JPEG encoder and any other writer that
// transmits only per-symbol code lengths.
package huffman

import (
	"container/heap"
	"errors"
	"sort"
)

// MaxCodeLength is the longest code length Codes can represent.
const MaxCodeLength = 16

var (
	ErrNoSymbols      = errors.New("huffman: no symbol has a non-zero frequency")
	ErrTooManySymbols = errors.New("huffman: too many symbols for the length limit")
	ErrInvalidLimit   = errors.New("huffman: invalid maximum code length")
)

// node is either a leaf (one symbol) or the merge of two pending nodes.
type node struct {
	count  uint64
	minSym int
	parent int
}

// pending is a min-heap over node indices ordered by count, then by the
// smallest symbol beneath the node.
type pending struct {
	nodes []node
	idx   []int
}

func (p *pending) Len() int { return len(p.idx) }

func (p *pending) Less(i, j int) bool {
	a, b := &p.nodes[p.idx[i]], &p.nodes[p.idx[j]]
	if a.count != b.count {
		return a.count < b.count
	}
	return a.minSym < b.minSym
}

func (p *pending) Swap(i, j int) { p.idx[i], p.idx[j] = p.idx[j], p.idx[i] }

func (p *pending) Push(x any) { p.idx = append(p.idx, x.(int)) }

func (p *pending) Pop() any {
	n := len(p.idx) - 1
	v := p.idx[n]
	p.idx = p.idx[:n]
	return v
}

// Lengths returns the code length of every symbol in freq (0 for unused
// symbols) such that no length exceeds maxLen and the lengths describe a
// complete prefix code.
func Lengths(freq []uint32, maxLen int) ([]uint8, error) {
	if maxLen < 1 || maxLen > MaxCodeLength {
		return nil, ErrInvalidLimit
	}
	var syms []int
	for i, f := range freq {
		if f > 0 {
			syms = append(syms, i)
		}
	}
	switch {
	case len(syms) == 0:
		return nil, ErrNoSymbols
	case len(syms) > 1<<maxLen:
		return nil, ErrTooManySymbols
	}
	lengths := make([]uint8, len(freq))
	if len(syms) == 1 {
		lengths[syms[0]] = 1
		return lengths, nil
	}

	depths := treeDepths(freq, syms)
	count := make([]int, maxLen+1)
	overflow := false
	for _, d := range depths {
		if d > maxLen {
			d = maxLen
			overflow = true
		}
		count[d]++
	}
	if overflow {
		limitCounts(count, maxLen)
	}

	// deal the lengths back out, shortest codes to the most frequent symbols
	order := append([]int(nil), syms...)
	sort.SliceStable(order, func(i, j int) bool {
		fi, fj := freq[order[i]], freq[order[j]]
		if fi != fj {
			return fi > fj
		}
		return order[i] < order[j]
	})
	k := 0
	for l := 1; l <= maxLen; l++ {
		for n := 0; n < count[l]; n++ {
			lengths[order[k]] = uint8(l)
			k++
		}
	}
	return lengths, nil
}

// treeDepths merges the two least frequent pending nodes until one remains
// and returns each leaf's depth, indexed like syms.
func treeDepths(freq []uint32, syms []int) []int {
	p := &pending{nodes: make([]node, 0, 2*len(syms))}
	for _, s := range syms {
		p.nodes = append(p.nodes, node{count: uint64(freq[s]), minSym: s, parent: -1})
		p.idx = append(p.idx, len(p.nodes)-1)
	}
	heap.Init(p)
	for p.Len() > 1 {
		a := heap.Pop(p).(int)
		b := heap.Pop(p).(int)
		m := node{
			count:  p.nodes[a].count + p.nodes[b].count,
			minSym: min(p.nodes[a].minSym, p.nodes[b].minSym),
			parent: -1,
		}
		p.nodes = append(p.nodes, m)
		id := len(p.nodes) - 1
		p.nodes[a].parent = id
		p.nodes[b].parent = id
		heap.Push(p, id)
	}
	depths := make([]int, len(syms))
	for i := range syms {
		d := 0
		for n := i; p.nodes[n].parent >= 0; n = p.nodes[n].parent {
			d++
		}
		depths[i] = d
	}
	return depths
}

// limitCounts rebalances a per-length histogram whose overlong codes were
// already folded into count[maxLen] until the Kraft sum is exactly 1.
func limitCounts(count []int, maxLen int) {
	total := 0
	for l := 1; l <= maxLen; l++ {
		total += count[l] << (maxLen - l)
	}
	for total > 1<<maxLen {
		count[maxLen]--
		for l := maxLen - 1; l > 0; l-- {
			if count[l] > 0 {
				count[l]--
				count[l+1] += 2
				break
			}
		}
		total--
	}
}

// Counts returns the number of codes of each length 0..maxLen.
func Counts(lengths []uint8, maxLen int) []int {
	count := make([]int, maxLen+1)
	for _, l := range lengths {
		if int(l) <= maxLen {
			count[l]++
		}
	}
	return count
}

// Codes assigns canonical codes: shorter codes first and, within a length,
// ascending symbol order. With reversed set each code is bit-reversed within
// its length for formats that transmit codes LSB first.
func Codes(lengths []uint8, reversed bool) []uint16 {
	var count [MaxCodeLength + 1]int
	for _, l := range lengths {
		if l > 0 && l <= MaxCodeLength {
			count[l]++
		}
	}
	var next [MaxCodeLength + 1]int
	code := 0
	for l := 1; l <= MaxCodeLength; l++ {
		code = (code + count[l-1]) << 1
		next[l] = code
	}
	codes := make([]uint16, len(lengths))
	for sym, l := range lengths {
		if l == 0 || l > MaxCodeLength {
			continue
		}
		c := next[l]
		next[l]++
		if reversed {
			c = reverse(c, int(l))
		}
		codes[sym] = uint16(c)
	}
	return codes
}

func reverse(c, n int) int {
	r := 0
	for i := 0; i < n; i++ {
		r = r<<1 | c&1
		c >>= 1
	}
	return r
}

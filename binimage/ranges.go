package binimage

import "sort"

// Ranges stores values keyed by half-open address ranges [lo, hi) and
// supports O(log n) point lookup once sorted.
type Ranges struct {
	rs     []rangeEnt
	sorted bool
}

type rangeEnt struct {
	lo, hi uint64
	val    any
}

// Add inserts val for the range [lo, hi). Add is undefined if [lo, hi)
// overlaps a range already present.
func (r *Ranges) Add(lo, hi uint64, val any) {
	r.rs = append(r.rs, rangeEnt{lo, hi, val})
	r.sorted = false
}

// Get returns the range and value containing addr.
func (r *Ranges) Get(addr uint64) (lo, hi uint64, val any, ok bool) {
	if r == nil {
		return 0, 0, nil, false
	}
	if !r.sorted {
		sort.Slice(r.rs, func(i, j int) bool { return r.rs[i].lo < r.rs[j].lo })
		r.sorted = true
	}
	i := sort.Search(len(r.rs), func(i int) bool { return addr < r.rs[i].hi })
	if i < len(r.rs) && r.rs[i].lo <= addr && addr < r.rs[i].hi {
		return r.rs[i].lo, r.rs[i].hi, r.rs[i].val, true
	}
	return 0, 0, nil, false
}

package engine

// batch is a bounded slice of a block range. Declared ranges can be
// arbitrarily large, so I/O happens in batches to cap the size of a single
// read or write call.
type batch struct {
	start  uint64
	end    uint64 // inclusive
	length uint64 // blocks, end - start + 1
}

// batchSplitter partitions the inclusive block range [first, last] into
// consecutive batches of size blocks each, the last one possibly shorter.
// Pure planning, no I/O.
type batchSplitter struct {
	next uint64
	last uint64
	size uint64
	done bool
}

func newBatchSplitter(first, last, size uint64) *batchSplitter {
	return &batchSplitter{next: first, last: last, size: size, done: size == 0}
}

func (s *batchSplitter) Next() (batch, bool) {
	if s.done {
		return batch{}, false
	}

	length := s.size
	if remaining := s.last - s.next + 1; remaining < length {
		length = remaining
	}

	b := batch{start: s.next, end: s.next + length - 1, length: length}
	if b.end == s.last {
		s.done = true
	} else {
		s.next = b.end + 1
	}
	return b, true
}

package outstream

import (
	"fmt"
	"io"
	"sort"

	"github.com/raodj/musesim/internal/types"

	"github.com/raodj/musesim/internal/syncutil"
)

// SharedBuffer is the collective variant of Stream: many agents across
// many workers write into the same buffer, keyed by timestamp, and a
// single commit pass writes every worker's output out in one
// globally-ordered pass once GVT has cleared it (spec §4.9 "shared
// output buffers"). Write is safe to call concurrently from any worker
// goroutine; Commit is expected to run once per GVT advance, serialized
// by the caller.
type SharedBuffer struct {
	lock   syncutil.SpinLock
	buffer map[types.Time][]byte

	sink      io.Writer
	indexSink io.Writer
}

// NewSharedBuffer creates a shared buffer writing committed output to
// sink. indexSink is optional (nil disables it); when set, Commit
// writes one line per committed timestamp recording the byte offset at
// which that timestamp's data begins, mirroring the reference
// implementation's rank-0 index file.
func NewSharedBuffer(sink, indexSink io.Writer) *SharedBuffer {
	return &SharedBuffer{
		buffer:    make(map[types.Time][]byte),
		sink:      sink,
		indexSink: indexSink,
	}
}

// Write appends data to whatever has already been buffered for at.
// Multiple agents writing at the same timestamp are concatenated in
// whatever order their Write calls arrive.
func (b *SharedBuffer) Write(at types.Time, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	b.lock.Lock()
	defer b.lock.Unlock()
	b.buffer[at] = append(b.buffer[at], cp...)
}

// Commit writes every buffered timestamp strictly before gvt to the
// sink in ascending timestamp order, then removes them from the
// buffer. It returns the number of distinct timestamps committed.
func (b *SharedBuffer) Commit(gvt types.Time) (committed int, err error) {
	b.lock.Lock()
	var due []types.Time
	for t := range b.buffer {
		if t < gvt {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	var offset int64
	for _, t := range due {
		data := b.buffer[t]
		delete(b.buffer, t)
		b.lock.Unlock()

		if _, werr := b.sink.Write(data); werr != nil {
			return committed, fmt.Errorf("outstream: committing shared buffer at %v: %w", t, werr)
		}
		if b.indexSink != nil {
			if _, werr := fmt.Fprintf(b.indexSink, "%v\t%d\n", t, offset); werr != nil {
				return committed, fmt.Errorf("outstream: writing index entry at %v: %w", t, werr)
			}
		}
		offset += int64(len(data))
		committed++

		b.lock.Lock()
	}
	b.lock.Unlock()
	return committed, nil
}

// Pending reports how many distinct timestamps are currently buffered.
func (b *SharedBuffer) Pending() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.buffer)
}

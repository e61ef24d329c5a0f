package outstream

import (
	"fmt"
	"io"

	"github.com/raodj/musesim/internal/types"
)

// entry is one buffered write, tagged with the virtual time at which the
// owning agent produced it.
type entry struct {
	at   types.Time
	data []byte
}

// Stream is a private, per-agent output buffer. Agents call Write
// instead of writing to a real file or socket directly, since a
// speculative write may still be rolled back. Writes must arrive in
// non-decreasing LVT order, matching how an agent's ExecuteTask calls
// advance.
type Stream struct {
	sink    io.Writer
	entries []entry
}

// NewStream wraps sink so its writes become rollback-safe. sink is
// typically a *os.File or a bytes.Buffer in tests; it is never touched
// until GarbageCollect commits a batch of entries to it.
func NewStream(sink io.Writer) *Stream {
	return &Stream{sink: sink}
}

// Write buffers data tagged with at. It does not touch the sink.
func (s *Stream) Write(at types.Time, data []byte) error {
	if n := len(s.entries); n > 0 && at < s.entries[n-1].at {
		return fmt.Errorf("outstream: write at %v precedes previous write at %v", at, s.entries[n-1].at)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.entries = append(s.entries, entry{at: at, data: cp})
	return nil
}

// Rollback discards every buffered entry tagged strictly after
// restoredTime, undoing writes made by work the kernel is retracting.
func (s *Stream) Rollback(restoredTime types.Time) (discarded int) {
	cut := len(s.entries)
	for cut > 0 && s.entries[cut-1].at > restoredTime {
		cut--
	}
	discarded = len(s.entries) - cut
	s.entries = s.entries[:cut]
	return discarded
}

// GarbageCollect commits every entry tagged strictly before gvt to the
// sink, in timestamp order, and discards them: no future rollback can
// reach a time before GVT, so the write is now safe to make permanent.
func (s *Stream) GarbageCollect(gvt types.Time) (committed int, err error) {
	cut := 0
	for cut < len(s.entries) && s.entries[cut].at < gvt {
		if _, werr := s.sink.Write(s.entries[cut].data); werr != nil {
			return committed, fmt.Errorf("outstream: committing entry at %v: %w", s.entries[cut].at, werr)
		}
		committed++
		cut++
	}
	s.entries = s.entries[cut:]
	return committed, nil
}

// Pending reports how many entries are currently buffered, awaiting
// either commit or rollback.
func (s *Stream) Pending() int {
	return len(s.entries)
}

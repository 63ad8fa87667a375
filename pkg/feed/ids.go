package feed

import (
	"strconv"
	"sync/atomic"
)

// recordSeq breaks ties between records minted within the same millisecond.
var recordSeq uint64

const seqWidth = 4 // base36 digits; wraps after 36^4 ids per process

// newRecordID returns a filename-safe ID that sorts lexically by creation
// order: the millisecond timestamp in base36 followed by a fixed-width
// monotonic counter.
func newRecordID(ms int64) string {
	seq := atomic.AddUint64(&recordSeq, 1) % (36 * 36 * 36 * 36)
	return pad36(ms, 9) + pad36(int64(seq), seqWidth)
}

// pad36 renders n in base36, left-padded with zeros to the given width.
func pad36(n int64, width int) string {
	s := strconv.FormatInt(n, 36)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

package chat

import (
	"bufio"
	"bytes"

	"i4.energy/across/modemchat/at"
)

// framer assembles received bytes into lines in a fixed size buffer.
type framer struct {
	buf       []byte
	delimiter []byte
	filter    []byte
	split     bufio.SplitFunc
	// discarding is set while the remainder of an overlong line is dropped.
	discarding bool
	// overflows counts dropped lines.
	overflows int
}

func newFramer(size int, delimiter, filter []byte, prompts [][]byte) *framer {
	return &framer{
		buf:       make([]byte, 0, size),
		delimiter: delimiter,
		filter:    filter,
		split:     at.NewSplitter(delimiter, prompts...),
	}
}

// feed appends p to the buffer and returns the completed lines. The
// returned lines do not alias the buffer.
func (f *framer) feed(p []byte) [][]byte {
	var lines [][]byte
	for _, b := range p {
		if bytes.IndexByte(f.filter, b) >= 0 {
			continue
		}
		f.buf = append(f.buf, b)

		if f.discarding {
			f.skip()
			continue
		}

		advance, token, _ := f.split(f.buf, false)
		if advance > 0 {
			lines = append(lines, bytes.Clone(token))
			f.buf = f.buf[:copy(f.buf, f.buf[advance:])]
			continue
		}

		if len(f.buf) == cap(f.buf) {
			f.overflows++
			f.discarding = true
			f.skip()
		}
	}
	return lines
}

// skip drops buffered bytes of an overlong line, keeping only what may be
// the start of the delimiter.
func (f *framer) skip() {
	if bytes.HasSuffix(f.buf, f.delimiter) {
		f.buf = f.buf[:0]
		f.discarding = false
		return
	}
	keep := len(f.delimiter) - 1
	if len(f.buf) > keep {
		f.buf = f.buf[:copy(f.buf, f.buf[len(f.buf)-keep:])]
	}
}

// reset drops any partial line.
func (f *framer) reset() {
	f.buf = f.buf[:0]
	f.discarding = false
}

package protocol

import "bytes"

// MaxLineLength bounds the partial fragment a LineSplitter keeps while
// waiting for a newline.
const MaxLineLength = 4096

// LineSplitter reassembles newline-delimited messages from arbitrary
// stream chunks. A partial trailing fragment is carried over to the
// next Feed call. Not safe for concurrent use.
type LineSplitter struct {
	buf     []byte
	dropped int
}

// Feed appends chunk and returns every complete, non-empty line it
// closes, without the trailing newline.
func (s *LineSplitter) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(s.buf[:i])
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		s.buf = s.buf[i+1:]
	}

	if len(s.buf) > MaxLineLength {
		s.dropped += len(s.buf)
		s.buf = nil
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// Pending returns the buffered partial fragment.
func (s *LineSplitter) Pending() []byte {
	return s.buf
}

// Dropped is the number of bytes discarded because a fragment grew past
// MaxLineLength without a newline.
func (s *LineSplitter) Dropped() int {
	return s.dropped
}

// Reset discards any buffered fragment, e.g. after a reconnect.
func (s *LineSplitter) Reset() {
	s.buf = nil
}

package process

import (
	"bytes"
	"io"
	"sync"
	"unicode"
	"unicode/utf8"
)

// lineSink receives the merged stdout/stderr stream, splits it into lines as
// the bytes arrive, echoes each completed line and keeps the trimmed copy.
// The same *lineSink is installed as Stdout and Stderr so os/exec shares a
// single pipe and ordering follows the child's writes.
type lineSink struct {
	mu      sync.Mutex
	echo    io.Writer
	partial []byte
	lines   [][]byte
}

func newLineSink(echo io.Writer) *lineSink {
	return &lineSink{echo: echo}
}

func (s *lineSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		s.emit(s.partial[:i])
		s.partial = s.partial[i+1:]
	}
	// Reclaim the consumed prefix once nothing is pending.
	if len(s.partial) == 0 {
		s.partial = nil
	}
	return len(p), nil
}

// emit must be called with mu held.
func (s *lineSink) emit(line []byte) {
	if s.echo != nil {
		// Echo failures must not abort the child, so the error is dropped.
		_, _ = s.echo.Write(append(bytes.Clone(line), '\n'))
	}
	s.lines = append(s.lines, bytes.TrimRightFunc(bytes.Clone(line), unicode.IsSpace))
}

// flush emits a final line the child did not terminate with a newline.
func (s *lineSink) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.partial) > 0 {
		s.emit(s.partial)
		s.partial = nil
	}
}

// text returns the joined lines with trailing blank lines removed and
// reports whether the bytes are valid UTF-8.
func (s *lineSink) text() (string, bool) {
	s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	joined := bytes.TrimRight(bytes.Join(s.lines, []byte{'\n'}), "\n")
	if !utf8.Valid(joined) {
		return "", false
	}
	return string(joined), true
}

package monitor

import (
	"bytes"
	"regexp"
	"sync"
)

// DefaultOutputLimit is the number of trailing output bytes kept per run.
const DefaultOutputLimit = 1 << 20

const maxLine = 4096

// output collects a process's stdout and stderr, keeping the last limit
// bytes and matching complete lines against the error patterns.
type output struct {
	mu       sync.Mutex
	buf      []byte
	limit    int
	line     []byte
	patterns []*regexp.Regexp
	match    string
	matched  bool
}

func newOutput(limit int, patterns []*regexp.Regexp) *output {
	return &output{limit: limit, patterns: patterns}
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.buf = append(o.buf, p...)
	if over := len(o.buf) - o.limit; over > 0 {
		o.buf = append(o.buf[:0], o.buf[over:]...)
	}

	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			o.line = append(o.line, rest...)
			if len(o.line) > maxLine {
				o.check(o.line)
				o.line = o.line[:0]
			}
			break
		}
		o.line = append(o.line, rest[:i]...)
		o.check(o.line)
		o.line = o.line[:0]
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (o *output) check(line []byte) {
	if o.matched {
		return
	}
	line = bytes.TrimRight(line, "\r")
	for _, re := range o.patterns {
		if re.Match(line) {
			o.match, o.matched = string(line), true
			return
		}
	}
}

// flush checks a trailing line without a newline.
func (o *output) flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.line) > 0 {
		o.check(o.line)
		o.line = o.line[:0]
	}
}

func (o *output) Bytes() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return bytes.Clone(o.buf)
}

func (o *output) Match() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.match, o.matched
}

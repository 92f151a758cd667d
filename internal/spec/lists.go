package spec

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
)

// DefaultLimit is the per-sequence cap of a limit entry without a number.
const DefaultLimit = 1

// Lists is the block list and the limit list. The zero value allows
// everything.
type Lists struct {
	blocked map[string]bool
	limits  map[string]int
}

// LoadLists reads the block and limit lists. An empty path means no list.
func LoadLists(blockPath, limitPath string) (*Lists, error) {
	var block, limit io.Reader
	if blockPath != "" {
		f, err := os.Open(blockPath)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("block list: %v", err)}
		}
		defer f.Close()
		block = f
	}
	if limitPath != "" {
		f, err := os.Open(limitPath)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("limit list: %v", err)}
		}
		defer f.Close()
		limit = f
	}
	return ParseLists(block, limit)
}

// ParseLists parses list contents. Each non-blank line names one API;
// text after '#' is a comment. A limit line may end with its cap. An API
// on both lists stays blocked.
func ParseLists(block, limit io.Reader) (*Lists, error) {
	l := &Lists{blocked: map[string]bool{}, limits: map[string]int{}}
	if block != nil {
		err := scanLines(block, func(n int, fields []string) error {
			if len(fields) != 1 {
				return fmt.Errorf("block list line %d: expected one API name", n)
			}
			l.blocked[fields[0]] = true
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if limit != nil {
		err := scanLines(limit, func(n int, fields []string) error {
			maxUses := DefaultLimit
			switch len(fields) {
			case 1:
			case 2:
				c, err := strconv.Atoi(fields[1])
				if err != nil || c < 0 {
					return fmt.Errorf("limit list line %d: invalid cap %q", n, fields[1])
				}
				maxUses = c
			default:
				return fmt.Errorf("limit list line %d: expected API name and optional cap", n)
			}
			l.limits[fields[0]] = maxUses
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}

func scanLines(r io.Reader, fn func(n int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := fn(n, fields); err != nil {
			return &LoadError{Code: ErrCodeInvalidList, Message: err.Error()}
		}
	}
	return sc.Err()
}

// Blocked reports whether api may never be selected.
func (l *Lists) Blocked(api string) bool {
	return l != nil && l.blocked[api]
}

// Limit returns the per-sequence cap of api, if it has one.
func (l *Lists) Limit(api string) (int, bool) {
	if l == nil {
		return 0, false
	}
	c, ok := l.limits[api]
	return c, ok
}

// Allowed reports whether api may be selected once more in a sequence that
// already uses it used times.
func (l *Lists) Allowed(api string, used int) bool {
	if l.Blocked(api) {
		return false
	}
	if c, ok := l.Limit(api); ok {
		return used < c
	}
	return true
}

// BlockedNames returns the blocked APIs, sorted.
func (l *Lists) BlockedNames() []string {
	if l == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(l.blocked))
}

// Unknown returns list entries that name no API in s, sorted.
func (l *Lists) Unknown(s *Store) []string {
	if l == nil {
		return nil
	}
	var out []string
	for name := range l.blocked {
		if _, ok := s.API(name); !ok {
			out = append(out, name)
		}
	}
	for name := range l.limits {
		if _, ok := s.API(name); !ok && !l.blocked[name] {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

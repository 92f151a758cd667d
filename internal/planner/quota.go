package planner

import (
	"fmt"

	"github.com/roach88/scriptfuzz/internal/spec"
)

// usage counts API selections within one sequence, nested hook calls
// included, and enforces the limit list.
type usage struct {
	lists  *spec.Lists
	counts map[string]int
}

func newUsage(lists *spec.Lists) *usage {
	return &usage{lists: lists, counts: make(map[string]int)}
}

// allowed reports whether api may be selected once more.
func (u *usage) allowed(api string) bool {
	return u.lists.Allowed(api, u.counts[api])
}

func (u *usage) take(api string) { u.counts[api]++ }

// snapshot and restore undo the selections of a failed call.
func (u *usage) snapshot() map[string]int {
	out := make(map[string]int, len(u.counts))
	for k, v := range u.counts {
		out[k] = v
	}
	return out
}

func (u *usage) restore(s map[string]int) { u.counts = s }

// attempts bounds consecutive failed selections for one position.
type attempts struct {
	max     int
	current int
}

// fail records a failed attempt and returns AttemptsExceededError when
// the budget is spent.
func (a *attempts) fail(index int) error {
	a.current++
	if a.current >= a.max {
		return &AttemptsExceededError{Index: index, Attempts: a.current, Limit: a.max}
	}
	return nil
}

// AttemptsExceededError is returned when a position exhausts its
// selection budget.
type AttemptsExceededError struct {
	Index    int
	Attempts int
	Limit    int
}

func (e *AttemptsExceededError) Error() string {
	return fmt.Sprintf("position %d: no call generated after %d attempts (limit %d)", e.Index, e.Attempts, e.Limit)
}

package types

import (
	"fmt"
	"strings"
)

// SlotStatus is the commitment level of a slot. Values are ordered: a slot
// advances strictly Processed -> Confirmed -> Rooted and never backward.
// The ordinal is also what gets persisted, so the store can reject
// regressions with a plain comparison.
type SlotStatus int

const (
	StatusUnknown SlotStatus = iota
	StatusProcessed
	StatusConfirmed
	StatusRooted
)

func (s SlotStatus) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusConfirmed:
		return "confirmed"
	case StatusRooted:
		return "rooted"
	default:
		return "unknown"
	}
}

// ParseSlotStatus converts a status string into a SlotStatus.
func ParseSlotStatus(s string) (SlotStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processed":
		return StatusProcessed, nil
	case "confirmed":
		return StatusConfirmed, nil
	case "rooted":
		return StatusRooted, nil
	default:
		return StatusUnknown, fmt.Errorf("invalid slot status: %q (must be one of: processed, confirmed, rooted)", s)
	}
}

// CanAdvanceTo reports whether a slot currently at status s may transition
// to next. Same-status repeats are allowed (idempotent delivery); skipping
// a predecessor or moving backward is not.
func (s SlotStatus) CanAdvanceTo(next SlotStatus) bool {
	if next < StatusProcessed || next > StatusRooted {
		return false
	}
	return next == s || next == s+1
}

package category

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category is the closed set of thought classifications. Each category routes
// to exactly one automation endpoint and carries its own delivery profile.
type Category string

const (
	Idea      Category = "idea"
	Note      Category = "note"
	Task      Category = "task"
	Journal   Category = "journal"
	Sensitive Category = "sensitive"
)

// All lists every known category in a stable order.
func All() []Category {
	return []Category{Idea, Note, Task, Journal, Sensitive}
}

// Parse validates a raw category string against the known set.
func Parse(s string) (Category, error) {
	switch Category(s) {
	case Idea, Note, Task, Journal, Sensitive:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string { return string(c) }

// Priority orders tasks within the delivery queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// MarshalJSON renders priorities as their names so archived tasks and dead
// letters stay readable.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority maps a raw priority string to a Priority. Empty input falls
// back to medium so producers may omit it.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// Profile is the per-category delivery policy: how long a single HTTP attempt
// may run, how many attempts a task gets before dead-lettering, and whether
// the destination participates in circuit breaking.
type Profile struct {
	HTTPTimeout time.Duration
	MaxAttempts int
	SkipBreaker bool // maximal-effort categories bypass the circuit breaker
}

// DefaultProfiles returns the built-in delivery profile per category. The
// sensitive category is configured for maximal delivery effort: the most
// attempts, the longest timeout, and no circuit breaking.
func DefaultProfiles() map[Category]Profile {
	return map[Category]Profile{
		Idea:      {HTTPTimeout: 5 * time.Second, MaxAttempts: 2},
		Note:      {HTTPTimeout: 5 * time.Second, MaxAttempts: 3},
		Task:      {HTTPTimeout: 10 * time.Second, MaxAttempts: 3},
		Journal:   {HTTPTimeout: 15 * time.Second, MaxAttempts: 4},
		Sensitive: {HTTPTimeout: 20 * time.Second, MaxAttempts: 6, SkipBreaker: true},
	}
}

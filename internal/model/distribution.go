package model

import (
	"sync"

	"github.com/google/uuid"
)

// DestStatus is the per-destination delivery state of one fan-out.
type DestStatus string

const (
	DestInit    DestStatus = "init"
	DestStarted DestStatus = "started"
	DestSuccess DestStatus = "success"
	DestFailed  DestStatus = "failed"
)

// terminal reports whether a destination has finished, either way.
func (s DestStatus) terminal() bool {
	return s == DestSuccess || s == DestFailed
}

// DistributionItem tracks one fan-out of a prepared set to N destinations.
// It is created when a root's changes are queued for propagation, mutated
// as destinations acknowledge, and retained until every destination is
// terminal. Safe for concurrent status updates.
type DistributionItem struct {
	ID     string
	RootID int64
	Units  map[int64]*PreparedUnit

	mu       sync.Mutex
	statuses map[string]DestStatus
	errors   map[string]string
}

// NewDistributionItem creates an item with every destination at init.
func NewDistributionItem(rootID int64, units map[int64]*PreparedUnit, destinations []string) *DistributionItem {
	statuses := make(map[string]DestStatus, len(destinations))
	for _, d := range destinations {
		statuses[d] = DestInit
	}
	return &DistributionItem{
		ID:       uuid.NewString(),
		RootID:   rootID,
		Units:    units,
		statuses: statuses,
		errors:   make(map[string]string),
	}
}

// SetStatus records a destination's state. Unknown destinations are added;
// a peer may legitimately report on a destination the origin queued in an
// earlier run.
func (d *DistributionItem) SetStatus(dest string, s DestStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[dest] = s
}

// SetError records a destination failure with its message.
func (d *DistributionItem) SetError(dest, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[dest] = DestFailed
	d.errors[dest] = msg
}

// Status returns one destination's state.
func (d *DistributionItem) Status(dest string) DestStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statuses[dest]
}

// Statuses returns a copy of all destination states.
func (d *DistributionItem) Statuses() map[string]DestStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]DestStatus, len(d.statuses))
	for k, v := range d.statuses {
		out[k] = v
	}
	return out
}

// Errors returns a copy of recorded per-destination failure messages.
func (d *DistributionItem) Errors() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.errors))
	for k, v := range d.errors {
		out[k] = v
	}
	return out
}

// Aggregate derives the overall status: any failed destination wins; else
// any non-terminal destination keeps the item pending; else success. An
// item with no destinations aggregates to success.
func (d *DistributionItem) Aggregate() DestStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	anyStarted, anyInit := false, false
	for _, s := range d.statuses {
		switch s {
		case DestFailed:
			return DestFailed
		case DestStarted:
			anyStarted = true
		case DestInit:
			anyInit = true
		}
	}
	if anyStarted {
		return DestStarted
	}
	if anyInit {
		return DestInit
	}
	return DestSuccess
}

// Done reports whether every destination reached a terminal state.
func (d *DistributionItem) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.statuses {
		if !s.terminal() {
			return false
		}
	}
	return true
}

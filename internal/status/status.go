// Package status defines the closed status vocabularies for cycles, cycle
// items and manual steps, plus the derivation rule for manual items.
package status

import "fmt"

// ItemStatus is the execution status of a single cycle item.
type ItemStatus string

const (
	ItemPending ItemStatus = "PENDING"
	ItemRunning ItemStatus = "RUNNING"
	ItemPassed  ItemStatus = "PASSED"
	ItemFailed  ItemStatus = "FAILED"
	ItemError   ItemStatus = "ERROR"
	ItemSkipped ItemStatus = "SKIPPED"
)

// IsTerminal reports whether no further transition is expected for the item.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemPassed, ItemFailed, ItemError, ItemSkipped:
		return true
	}
	return false
}

// ParseItemStatus validates a raw status string from an external payload.
func ParseItemStatus(raw string) (ItemStatus, error) {
	s := ItemStatus(raw)
	switch s {
	case ItemPending, ItemRunning, ItemPassed, ItemFailed, ItemError, ItemSkipped:
		return s, nil
	}
	return "", fmt.Errorf("status: invalid item status %q", raw)
}

// ParseTerminalItemStatus accepts only statuses a completion event may report.
func ParseTerminalItemStatus(raw string) (ItemStatus, error) {
	s, err := ParseItemStatus(raw)
	if err != nil {
		return "", err
	}
	if !s.IsTerminal() {
		return "", fmt.Errorf("status: item status %q is not terminal", raw)
	}
	return s, nil
}

// StepStatus is the status of one manual step. Steps have no RUNNING or
// ERROR state; a human either hasn't reached the step or has resolved it.
type StepStatus string

const (
	StepPending StepStatus = "PENDING"
	StepPassed  StepStatus = "PASSED"
	StepFailed  StepStatus = "FAILED"
	StepSkipped StepStatus = "SKIPPED"
)

// IsTerminal reports whether the step has been resolved.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepPassed, StepFailed, StepSkipped:
		return true
	}
	return false
}

// ParseStepStatus validates a raw step status string.
func ParseStepStatus(raw string) (StepStatus, error) {
	s := StepStatus(raw)
	switch s {
	case StepPending, StepPassed, StepFailed, StepSkipped:
		return s, nil
	}
	return "", fmt.Errorf("status: invalid step status %q", raw)
}

// CycleStatus is the derived overall status of a cycle. Clients never set it.
type CycleStatus string

const (
	CyclePending   CycleStatus = "PENDING"
	CycleRunning   CycleStatus = "RUNNING"
	CycleCompleted CycleStatus = "COMPLETED"
)

// ItemType distinguishes human checklists from automated runs. Immutable
// after item creation.
type ItemType string

const (
	TypeManual    ItemType = "MANUAL"
	TypeAutomated ItemType = "AUTOMATED"
)

// ParseItemType validates a raw item type string.
func ParseItemType(raw string) (ItemType, error) {
	t := ItemType(raw)
	switch t {
	case TypeManual, TypeAutomated:
		return t, nil
	}
	return "", fmt.Errorf("status: invalid item type %q", raw)
}

// DeriveManualItemStatus rolls a manual item's step list up into an item
// status. A failed step dominates everything else. An all-skipped checklist
// is skipped. An empty checklist or one where every step resolved without
// tripping those rules passes. Any unresolved step leaves the item pending.
func DeriveManualItemStatus(steps []StepStatus) ItemStatus {
	if len(steps) == 0 {
		return ItemPassed
	}
	allSkipped := true
	allTerminal := true
	for _, s := range steps {
		if s == StepFailed {
			return ItemFailed
		}
		if s != StepSkipped {
			allSkipped = false
		}
		if !s.IsTerminal() {
			allTerminal = false
		}
	}
	if !allTerminal {
		return ItemPending
	}
	if allSkipped {
		return ItemSkipped
	}
	return ItemPassed
}

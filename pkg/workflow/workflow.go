// Package workflow holds the complaint state machine and the pure
// lifecycle rules shared by every handler: which transitions are legal,
// how due dates and escalation levels are computed, and the domain
// errors mutating operations can fail with.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
)

const (
	// DefaultSLAHours is the deadline budget used when a complaint is
	// created without an explicit one.
	DefaultSLAHours = 72

	// FollowUpDays is added to resolved_at when no follow-up date was set.
	FollowUpDays = 30

	// MinEscalationReason is the minimum length of an escalation reason.
	MinEscalationReason = 10
)

// transitions is the single source of truth for the state machine.
// A status maps to the set of statuses it may move to; terminal states
// map to nothing.
var transitions = map[models.ComplaintStatus][]models.ComplaintStatus{
	models.StatusDraft: {
		models.StatusSubmitted, models.StatusRejected,
	},
	models.StatusSubmitted: {
		models.StatusAcknowledged, models.StatusUnderReview,
		models.StatusEscalated, models.StatusResolved, models.StatusRejected,
	},
	models.StatusAcknowledged: {
		models.StatusUnderReview,
		models.StatusEscalated, models.StatusResolved, models.StatusRejected,
	},
	models.StatusUnderReview: {
		models.StatusAcknowledged, models.StatusInvestigating, models.StatusPendingInfo,
		models.StatusEscalated, models.StatusResolved, models.StatusRejected,
	},
	models.StatusInvestigating: {
		models.StatusUnderReview, models.StatusPendingInfo,
		models.StatusEscalated, models.StatusResolved, models.StatusRejected,
	},
	models.StatusPendingInfo: {
		models.StatusUnderReview, models.StatusInvestigating,
		models.StatusEscalated, models.StatusResolved, models.StatusRejected,
	},
	models.StatusEscalated: {
		models.StatusUnderReview, models.StatusInvestigating, models.StatusPendingInfo,
		models.StatusEscalated, models.StatusResolved, models.StatusRejected,
	},
	models.StatusResolved: {
		models.StatusEscalated, models.StatusClosed, models.StatusRejected,
	},
	models.StatusClosed:   {},
	models.StatusRejected: {},
}

// CanTransition reports whether moving from one status to another is a
// legal step in the state machine.
func CanTransition(from, to models.ComplaintStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal target statuses from the given one.
func NextStatuses(from models.ComplaintStatus) []models.ComplaintStatus {
	out := make([]models.ComplaintStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// IsTerminal reports whether the status has no outbound transitions.
func IsTerminal(s models.ComplaintStatus) bool {
	return s == models.StatusClosed || s == models.StatusRejected
}

// IsKnownStatus reports whether s is one of the ten lifecycle states.
func IsKnownStatus(s models.ComplaintStatus) bool {
	_, ok := transitions[s]
	return ok
}

// DueDate fixes the deadline from the SLA budget at submission time.
// It is never recalculated afterwards.
func DueDate(submittedAt time.Time, slaHours int) time.Time {
	if slaHours <= 0 {
		slaHours = DefaultSLAHours
	}
	return submittedAt.Add(time.Duration(slaHours) * time.Hour)
}

// DefaultFollowUp is the follow-up date used when none was set before
// the complaint resolved.
func DefaultFollowUp(resolvedAt time.Time) time.Time {
	return resolvedAt.AddDate(0, 0, FollowUpDays)
}

// IsOverdue is recomputed on every read and never persisted. A complaint
// that reached resolved, closed, or rejected is never overdue.
func IsOverdue(c *models.Complaint, now time.Time) bool {
	switch c.Status {
	case models.StatusResolved, models.StatusClosed, models.StatusRejected:
		return false
	}
	return c.DueDate != nil && c.DueDate.Before(now)
}

// NextLevel returns the ordinal tier for a new escalation event, given
// the highest level already recorded for the complaint (0 when none).
func NextLevel(highestExisting int) int {
	if highestExisting < 0 {
		highestExisting = 0
	}
	return highestExisting + 1
}

// LevelLabel renders an escalation tier as "level_N".
func LevelLabel(level int) string {
	return fmt.Sprintf("level_%d", level)
}

// ComplaintNumber formats the human-readable, per-year sequential case
// number, e.g. CPL-2026-00042.
func ComplaintNumber(year, seq int) string {
	return fmt.Sprintf("CPL-%04d-%05d", year, seq)
}

/* ============================ Domain errors ============================= */

// InvalidTransitionError identifies both the current and the requested
// status so the caller knows exactly what was refused.
type InvalidTransitionError struct {
	From models.ComplaintStatus
	To   models.ComplaintStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move complaint from %q to %q", e.From, e.To)
}

var (
	// ErrDuplicateResolution is returned when a complaint already has a
	// resolution record.
	ErrDuplicateResolution = errors.New("complaint already has a resolution")

	// ErrConcurrentModification is returned when another actor changed
	// the complaint between read and write (lock_version mismatch).
	ErrConcurrentModification = errors.New("complaint was modified by another user, reload and retry")

	// ErrResolutionNotFound is returned when feedback or an amendment
	// targets a complaint that has no resolution yet.
	ErrResolutionNotFound = errors.New("complaint has no resolution yet")
)

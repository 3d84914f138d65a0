package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleHR       Role = "hr"
	RoleAdmin    Role = "admin"
)

// ComplaintStatus defines lifecycle states for a complaint.
type ComplaintStatus string

const (
	StatusDraft         ComplaintStatus = "draft"
	StatusSubmitted     ComplaintStatus = "submitted"
	StatusAcknowledged  ComplaintStatus = "acknowledged"
	StatusUnderReview   ComplaintStatus = "under_review"
	StatusInvestigating ComplaintStatus = "investigating"
	StatusPendingInfo   ComplaintStatus = "pending_info"
	StatusEscalated     ComplaintStatus = "escalated"
	StatusResolved      ComplaintStatus = "resolved"
	StatusClosed        ComplaintStatus = "closed"
	StatusRejected      ComplaintStatus = "rejected"
)

// Priority ranks how urgently a complaint must be handled.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// ReminderType classifies scheduled notices on a complaint.
type ReminderType string

const (
	ReminderFollowUp   ReminderType = "follow_up"
	ReminderDeadline   ReminderType = "deadline"
	ReminderReview     ReminderType = "review"
	ReminderEscalation ReminderType = "escalation"
)

// CommentType classifies thread entries on a complaint.
type CommentType string

const (
	CommentInternal   CommentType = "internal"
	CommentExternal   CommentType = "external"
	CommentResolution CommentType = "resolution"
)

/* =============================== Entities =============================== */

// User represents an employee, an HR reviewer, or an admin.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         Role      `gorm:"type:varchar(20);not null"`
	Name         string
	DepartmentID *uuid.UUID `gorm:"type:uuid"`
	Position     string
	CreatedAt    time.Time
}

// Complaint represents one filed grievance and its full lifecycle record.
type Complaint struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComplaintNumber string          `gorm:"uniqueIndex;not null" json:"complaint_number"`
	Title           string          `gorm:"not null" json:"title"`
	Categories      pq.StringArray  `gorm:"type:text[]" json:"categories"`
	Priority        Priority        `gorm:"type:varchar(20);default:'medium'" json:"priority"`
	Status          ComplaintStatus `gorm:"type:varchar(20);default:'draft';index" json:"status"`

	// Parties
	ComplainantID uuid.UUID  `gorm:"type:uuid;not null;index" json:"complainant_id"`
	DepartmentID  *uuid.UUID `gorm:"type:uuid" json:"department_id"`
	AssignedToID  *uuid.UUID `gorm:"type:uuid;index" json:"assigned_to_id"`

	// Incident facts
	IncidentDate     *time.Time `json:"incident_date"`
	IncidentLocation string     `json:"incident_location"`
	Description      string     `gorm:"type:text" json:"description"`

	// Visibility flags
	IsAnonymous    bool `json:"is_anonymous"`
	IsConfidential bool `json:"is_confidential"`
	IsRecurring    bool `json:"is_recurring"`

	// Timing. Timestamps are set once and never overwritten.
	SLAHours       int        `gorm:"default:72" json:"sla_hours"`
	DueDate        *time.Time `json:"due_date"`
	SubmittedAt    *time.Time `json:"submitted_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`
	ClosedAt       *time.Time `json:"closed_at"`
	FollowUpDate   *time.Time `json:"follow_up_date"`
	SLABreachAt    *time.Time `json:"sla_breach_at"`

	// Escalation projection: denormalized latest state of the event log.
	IsEscalated bool           `json:"is_escalated"`
	EscalatedAt *time.Time     `json:"escalated_at"`
	EscalatedTo pq.StringArray `gorm:"type:uuid[]" json:"escalated_to"`

	// Bumped on every status transition; stale writers lose.
	LockVersion int `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Computed on read, never persisted.
	IsOverdue bool `gorm:"-" json:"is_overdue"`

	// Relations
	Subjects    []ComplaintSubject  `json:"subjects,omitempty"`
	History     []StatusHistory     `json:"history,omitempty"`
	Escalations []EscalationEvent   `json:"escalations,omitempty"`
	Reminders   []Reminder          `json:"reminders,omitempty"`
	Resolution  *Resolution         `json:"resolution,omitempty"`
	Comments    []ComplaintComment  `json:"comments,omitempty"`
	Documents   []ComplaintDocument `json:"documents,omitempty"`
}

// ComplaintSubject is one accused party on a complaint. At most one
// subject per complaint is marked primary.
type ComplaintSubject struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComplaintID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"complaint_id"`
	SubjectEmployeeID *uuid.UUID `gorm:"type:uuid" json:"subject_employee_id"`
	SubjectName       string     `json:"subject_name"`
	Relationship      string     `json:"relationship"`
	IssueDescription  string     `gorm:"type:text" json:"issue_description"`
	DesiredOutcome    string     `gorm:"type:text" json:"desired_outcome"`
	IsPrimary         bool       `json:"is_primary"`
	HasPriorAttempt   bool       `json:"has_prior_attempt"`
	PriorAttemptNote  string     `gorm:"type:text" json:"prior_attempt_note"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	Witnesses []SubjectWitness `gorm:"foreignKey:SubjectID" json:"witnesses,omitempty"`
}

// SubjectWitness is a structured name/contact/relationship tuple.
type SubjectWitness struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SubjectID    uuid.UUID `gorm:"type:uuid;not null;index" json:"subject_id"`
	Name         string    `gorm:"not null" json:"name"`
	Contact      string    `json:"contact"`
	Relationship string    `json:"relationship"`
}

// StatusHistory is the append-only ledger of status transitions.
// Entries are never updated or deleted after creation.
type StatusHistory struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComplaintID uuid.UUID        `gorm:"type:uuid;not null;index" json:"complaint_id"`
	FromStatus  *ComplaintStatus `gorm:"type:varchar(20)" json:"from_status"` // nil for the creation entry
	ToStatus    ComplaintStatus  `gorm:"type:varchar(20);not null" json:"to_status"`
	Note        string           `gorm:"type:text" json:"note"`
	ActorID     uuid.UUID        `gorm:"type:uuid;not null" json:"actor_id"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// EscalationEvent records one hand-off to additional reviewers.
// The complaint's escalated_to projection mirrors the latest event.
type EscalationEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComplaintID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"complaint_id"`
	FromReviewerID *uuid.UUID     `gorm:"type:uuid" json:"from_reviewer_id"`
	EscalatedToIDs pq.StringArray `gorm:"type:uuid[];not null" json:"escalated_to_ids"`
	Level          int            `gorm:"not null" json:"level"`
	Reason         string         `gorm:"type:text;not null" json:"reason"`
	ActorID        uuid.UUID      `gorm:"type:uuid;not null" json:"actor_id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// Reminder is a due-date-triggered notice. An external dispatcher polls
// for unsent reminders past their fire time and calls MarkSent.
type Reminder struct {
	ID          uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComplaintID uuid.UUID    `gorm:"type:uuid;not null;index" json:"complaint_id"`
	CreatedByID uuid.UUID    `gorm:"type:uuid;not null" json:"created_by_id"`
	Type        ReminderType `gorm:"type:varchar(20);not null" json:"type"`
	RemindAt    time.Time    `gorm:"not null;index" json:"remind_at"`
	IsSent      bool         `gorm:"not null;default:false" json:"is_sent"`
	SentAt      *time.Time   `json:"sent_at"` // set exactly once, when sent
	Message     string       `gorm:"type:text" json:"message"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Resolution is the terminal outcome payload. At most one per complaint,
// enforced in the resolve transaction and by the unique index.
type Resolution struct {
	ID                 uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComplaintID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"complaint_id"`
	Summary            string    `gorm:"type:text;not null" json:"summary"`
	ActionsTaken       string    `gorm:"type:text" json:"actions_taken"`
	PreventiveMeasures string    `gorm:"type:text" json:"preventive_measures"`

	// Complainant feedback, appended later by a different actor.
	SatisfactionRating *int       `json:"satisfaction_rating"`
	Feedback           string     `gorm:"type:text" json:"feedback"`
	FeedbackByID       *uuid.UUID `gorm:"type:uuid" json:"feedback_by_id"`
	FeedbackAt         *time.Time `json:"feedback_at"`

	ResolvedByID uuid.UUID `gorm:"type:uuid;not null" json:"resolved_by_id"`
	ResolvedAt   time.Time `gorm:"not null" json:"resolved_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ComplaintComment is a soft-deletable thread entry on a complaint.
type ComplaintComment struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComplaintID uuid.UUID      `gorm:"type:uuid;not null;index" json:"complaint_id"`
	AuthorID    uuid.UUID      `gorm:"type:uuid;not null" json:"author_id"`
	Type        CommentType    `gorm:"type:varchar(20);default:'internal'" json:"type"`
	IsPrivate   bool           `json:"is_private"`
	Body        string         `gorm:"type:text;not null" json:"body"`
	CreatedAt   time.Time      `json:"created_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// ComplaintDocument is a stored-by-reference evidence file.
type ComplaintDocument struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComplaintID  uuid.UUID `gorm:"type:uuid;not null;index" json:"complaint_id"`
	Key          string    `gorm:"not null" json:"key"`
	Mime         string    `gorm:"not null" json:"mime"`
	Size         int       `gorm:"not null" json:"size"`
	OriginalName string    `json:"original_name"`
	DocType      string    `gorm:"type:varchar(40)" json:"doc_type"`
	UploadedByID uuid.UUID `gorm:"type:uuid;not null" json:"uploaded_by_id"`
	CreatedAt    time.Time `json:"created_at"`

	// Relation back to complaint
	Complaint Complaint `gorm:"foreignKey:ComplaintID;references:ID" json:"-"`
}

// ComplaintSequence backs the per-year CPL-YYYY-NNNNN counter.
type ComplaintSequence struct {
	Year       int `gorm:"primaryKey"`
	LastNumber int `gorm:"not null;default:0"`
}

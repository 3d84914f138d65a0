package complaints

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/aldoetobex/hr-complaint-backend/internal/auth"
	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
	"github.com/aldoetobex/hr-complaint-backend/pkg/validation"
	"github.com/aldoetobex/hr-complaint-backend/pkg/workflow"
)

// appendHistory writes one ledger entry inside tx. The ledger is the
// audit source of truth, so a failed insert aborts the whole transition.
func appendHistory(tx *gorm.DB, complaintID, actorID uuid.UUID, from *models.ComplaintStatus, to models.ComplaintStatus, note string) error {
	return tx.Create(&models.StatusHistory{
		ComplaintID: complaintID,
		FromStatus:  from,
		ToStatus:    to,
		Note:        note,
		ActorID:     actorID,
		CreatedAt:   time.Now(),
	}).Error
}

// applyTransition moves cs to a new status and appends the matching
// ledger entry, all inside tx. The caller must hold the row lock. The
// update is guarded by lock_version so a writer working from a stale
// read loses with ErrConcurrentModification instead of clobbering.
func applyTransition(tx *gorm.DB, cs *models.Complaint, to models.ComplaintStatus, actorID uuid.UUID, note string, extra map[string]any) error {
	if !workflow.CanTransition(cs.Status, to) {
		return &workflow.InvalidTransitionError{From: cs.Status, To: to}
	}

	updates := map[string]any{
		"status":       to,
		"lock_version": gorm.Expr("lock_version + 1"),
		"updated_at":   time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&models.Complaint{}).
		Where("id = ? AND lock_version = ?", cs.ID, cs.LockVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return workflow.ErrConcurrentModification
	}

	from := cs.Status
	if err := appendHistory(tx, cs.ID, actorID, &from, to, note); err != nil {
		return err
	}

	cs.Status = to
	cs.LockVersion++
	return nil
}

// transitionNote reads an optional {"note": "..."} body. Transition
// endpoints accept an empty body.
func transitionNote(c *fiber.Ctx) string {
	if len(c.Body()) == 0 {
		return ""
	}
	var in struct {
		Note string `json:"note"`
	}
	if err := c.BodyParser(&in); err != nil {
		return ""
	}
	return strings.TrimSpace(in.Note)
}

// Submit godoc
// @Summary      Submit a draft complaint
// @Description  Locks in the SLA deadline and moves the complaint into the formal process
// @Tags         transitions
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "complaint id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  models.ValidationErrorResponse  "missing required fields"
// @Failure      409  {object}  models.ErrorResponse  "not a draft"
// @Router       /complaints/{id}/submit [post]
func (h *Handler) Submit(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")
	note := transitionNote(c)

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	cs, err := lockComplaint(tx, id)
	if err != nil {
		tx.Rollback()
		return domainError(err)
	}
	if cs.ComplainantID != userUUID && !auth.IsReviewer(c) {
		tx.Rollback()
		return fiber.ErrForbidden
	}

	// A complaint cannot enter the formal process half-filled.
	missing := map[string][]string{}
	if strings.TrimSpace(cs.Title) == "" {
		missing["title"] = append(missing["title"], "This field is required")
	}
	if len(cs.Categories) == 0 {
		missing["categories"] = append(missing["categories"], "At least one category is required")
	}
	if cs.Priority == "" {
		missing["priority"] = append(missing["priority"], "This field is required")
	}
	if cs.IncidentDate == nil {
		missing["incident_date"] = append(missing["incident_date"], "This field is required")
	}
	if len(missing) > 0 {
		tx.Rollback()
		return validation.Respond(c, missing)
	}

	now := time.Now()
	extra := map[string]any{}
	if cs.SubmittedAt == nil {
		extra["submitted_at"] = now
	}
	if cs.DueDate == nil {
		extra["due_date"] = workflow.DueDate(now, cs.SLAHours)
	}

	if err := applyTransition(tx, cs, models.StatusSubmitted, userUUID, note, extra); err != nil {
		tx.Rollback()
		return domainError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var out models.Complaint
	if err := h.db.First(&out, "id = ?", cs.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"id": out.ID, "status": out.Status,
		"submitted_at": out.SubmittedAt, "due_date": out.DueDate,
	})
}

// Acknowledge godoc
// @Summary      Acknowledge a complaint
// @Description  Reviewer confirms receipt; acknowledged_at is set once and never moved
// @Tags         transitions
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "complaint id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse
// @Router       /complaints/{id}/acknowledge [post]
func (h *Handler) Acknowledge(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")
	note := transitionNote(c)

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	cs, err := lockComplaint(tx, id)
	if err != nil {
		tx.Rollback()
		return domainError(err)
	}

	extra := map[string]any{}
	if cs.AcknowledgedAt == nil {
		extra["acknowledged_at"] = time.Now()
	}
	if err := applyTransition(tx, cs, models.StatusAcknowledged, userUUID, note, extra); err != nil {
		tx.Rollback()
		return domainError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var out models.Complaint
	if err := h.db.First(&out, "id = ?", cs.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"id": out.ID, "status": out.Status, "acknowledged_at": out.AcknowledgedAt})
}

type advanceReq struct {
	Status string `json:"status" validate:"required,oneof=under_review investigating pending_info"`
	Note   string `json:"note" validate:"max=2000"`
}

// Advance godoc
// @Summary      Move among active review states
// @Description  under_review, investigating and pending_info are freely reachable from one another
// @Tags         transitions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string      true "complaint id (uuid)"
// @Param        payload  body advanceReq  true "target status + optional note"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse  "illegal transition"
// @Router       /complaints/{id}/status [post]
func (h *Handler) Advance(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")

	var in advanceReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	cs, err := lockComplaint(tx, id)
	if err != nil {
		tx.Rollback()
		return domainError(err)
	}
	if err := applyTransition(tx, cs, models.ComplaintStatus(in.Status), userUUID, strings.TrimSpace(in.Note), nil); err != nil {
		tx.Rollback()
		return domainError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"id": cs.ID, "status": cs.Status})
}

type escalateReq struct {
	Targets []string `json:"targets" validate:"required,min=1,max=10,dive,uuid4"`
	Reason  string   `json:"reason" validate:"required,max=2000"`
}

// Escalate godoc
// @Summary      Escalate to additional reviewers
// @Description  Appends an escalation event at the next level and updates the escalated_to projection in the same transaction
// @Tags         transitions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string       true "complaint id (uuid)"
// @Param        payload  body escalateReq  true "targets + reason"
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /complaints/{id}/escalate [post]
func (h *Handler) Escalate(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")

	var in escalateReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if len(in.Reason) < workflow.MinEscalationReason {
		return validation.Respond(c, map[string][]string{
			"reason": {"Escalation reason is too short"},
		})
	}

	// Parse and drop repeats so the existence check counts distinct users.
	seen := make(map[uuid.UUID]struct{}, len(in.Targets))
	targets := make([]string, 0, len(in.Targets))
	targetIDs := make([]uuid.UUID, 0, len(in.Targets))
	for _, t := range in.Targets {
		tid, err := uuid.Parse(t)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid target id")
		}
		if _, dup := seen[tid]; dup {
			continue
		}
		seen[tid] = struct{}{}
		targets = append(targets, tid.String())
		targetIDs = append(targetIDs, tid)
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	cs, err := lockComplaint(tx, id)
	if err != nil {
		tx.Rollback()
		return domainError(err)
	}

	// Every target must resolve to a real user.
	var cnt int64
	if err := tx.Model(&models.User{}).Where("id IN ?", targetIDs).Count(&cnt).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if cnt != int64(len(targetIDs)) {
		tx.Rollback()
		return validation.Respond(c, map[string][]string{
			"targets": {"One or more target reviewers do not exist"},
		})
	}

	// Next tier after the highest one already recorded for this complaint.
	var highest int
	if err := tx.Model(&models.EscalationEvent{}).
		Where("complaint_id = ?", cs.ID).
		Select("COALESCE(MAX(level), 0)").
		Scan(&highest).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	level := workflow.NextLevel(highest)

	now := time.Now()
	extra := map[string]any{
		"is_escalated": true,
		"escalated_to": pq.StringArray(targets),
	}
	if cs.EscalatedAt == nil {
		extra["escalated_at"] = now
	}

	// The transition, the event, and the projection commit together so
	// they can never disagree about the current target set.
	if err := applyTransition(tx, cs, models.StatusEscalated, userUUID, in.Reason, extra); err != nil {
		tx.Rollback()
		return domainError(err)
	}

	ev := models.EscalationEvent{
		ComplaintID:    cs.ID,
		FromReviewerID: cs.AssignedToID,
		EscalatedToIDs: pq.StringArray(targets),
		Level:          level,
		Reason:         in.Reason,
		ActorID:        userUUID,
		CreatedAt:      now,
	}
	if err := tx.Create(&ev).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"id": cs.ID, "status": cs.Status,
		"escalation_id": ev.ID,
		"level":         workflow.LevelLabel(ev.Level),
		"escalated_to":  ev.EscalatedToIDs,
	})
}

type resolveReq struct {
	Summary            string     `json:"summary" validate:"required,min=10,max=5000"`
	ActionsTaken       string     `json:"actions_taken" validate:"max=5000"`
	PreventiveMeasures string     `json:"preventive_measures" validate:"max=5000"`
	FollowUpDate       *time.Time `json:"follow_up_date"`
	Note               string     `json:"note" validate:"max=2000"`
}

// Resolve godoc
// @Summary      Resolve a complaint
// @Description  Creates the resolution record and moves to resolved in one transaction; a complaint can never sit in resolved without its resolution
// @Tags         transitions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string      true "complaint id (uuid)"
// @Param        payload  body resolveReq  true "resolution payload"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse  "illegal transition or duplicate resolution"
// @Router       /complaints/{id}/resolve [post]
func (h *Handler) Resolve(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")

	var in resolveReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	cs, err := lockComplaint(tx, id)
	if err != nil {
		tx.Rollback()
		return domainError(err)
	}

	var existing int64
	if err := tx.Model(&models.Resolution{}).
		Where("complaint_id = ?", cs.ID).Count(&existing).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if existing > 0 {
		tx.Rollback()
		return domainError(workflow.ErrDuplicateResolution)
	}

	now := time.Now()
	extra := map[string]any{}
	if cs.ResolvedAt == nil {
		extra["resolved_at"] = now
	}
	if cs.FollowUpDate == nil {
		fu := workflow.DefaultFollowUp(now)
		if in.FollowUpDate != nil {
			fu = *in.FollowUpDate
		}
		extra["follow_up_date"] = fu
	}

	if err := applyTransition(tx, cs, models.StatusResolved, userUUID, strings.TrimSpace(in.Note), extra); err != nil {
		tx.Rollback()
		return domainError(err)
	}

	res := models.Resolution{
		ComplaintID:        cs.ID,
		Summary:            strings.TrimSpace(in.Summary),
		ActionsTaken:       strings.TrimSpace(in.ActionsTaken),
		PreventiveMeasures: strings.TrimSpace(in.PreventiveMeasures),
		ResolvedByID:       userUUID,
		ResolvedAt:         now,
	}
	if err := tx.Create(&res).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"id": cs.ID, "status": cs.Status,
		"resolution_id": res.ID, "resolved_at": res.ResolvedAt,
	})
}

// Close godoc
// @Summary      Close a resolved complaint
// @Description  Terminal: no status change is permitted out of closed
// @Tags         transitions
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "complaint id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse
// @Router       /complaints/{id}/close [post]
func (h *Handler) Close(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")
	note := transitionNote(c)

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	cs, err := lockComplaint(tx, id)
	if err != nil {
		tx.Rollback()
		return domainError(err)
	}

	extra := map[string]any{}
	if cs.ClosedAt == nil {
		extra["closed_at"] = time.Now()
	}
	if err := applyTransition(tx, cs, models.StatusClosed, userUUID, note, extra); err != nil {
		tx.Rollback()
		return domainError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"id": cs.ID, "status": cs.Status})
}

type rejectReq struct {
	Note string `json:"note" validate:"required,min=5,max=2000"`
}

// Reject godoc
// @Summary      Reject a complaint
// @Description  Terminal short-circuit from any non-terminal state; no resolution required
// @Tags         transitions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string     true "complaint id (uuid)"
// @Param        payload  body rejectReq  true "rejection note"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse
// @Router       /complaints/{id}/reject [post]
func (h *Handler) Reject(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")

	var in rejectReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	cs, err := lockComplaint(tx, id)
	if err != nil {
		tx.Rollback()
		return domainError(err)
	}
	if err := applyTransition(tx, cs, models.StatusRejected, userUUID, strings.TrimSpace(in.Note), nil); err != nil {
		tx.Rollback()
		return domainError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"id": cs.ID, "status": cs.Status})
}

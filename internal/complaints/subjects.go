package complaints

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aldoetobex/hr-complaint-backend/internal/auth"
	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
	"github.com/aldoetobex/hr-complaint-backend/pkg/validation"
	"github.com/aldoetobex/hr-complaint-backend/pkg/workflow"
)

type witnessInput struct {
	Name         string `json:"name" validate:"required,max=120"`
	Contact      string `json:"contact" validate:"max=120"`
	Relationship string `json:"relationship" validate:"max=80"`
}

type addSubjectReq struct {
	SubjectEmployeeID string         `json:"subject_employee_id" validate:"omitempty,uuid4"`
	SubjectName       string         `json:"subject_name" validate:"required_without=SubjectEmployeeID,max=120"`
	Relationship      string         `json:"relationship" validate:"max=80"`
	IssueDescription  string         `json:"issue_description" validate:"required,max=5000"`
	DesiredOutcome    string         `json:"desired_outcome" validate:"max=5000"`
	IsPrimary         bool           `json:"is_primary"`
	HasPriorAttempt   bool           `json:"has_prior_attempt"`
	PriorAttemptNote  string         `json:"prior_attempt_note" validate:"max=5000"`
	Witnesses         []witnessInput `json:"witnesses" validate:"omitempty,max=20,dive"`
}

type updateSubjectReq struct {
	Relationship     *string `json:"relationship" validate:"omitempty,max=80"`
	IssueDescription *string `json:"issue_description" validate:"omitempty,max=5000"`
	DesiredOutcome   *string `json:"desired_outcome" validate:"omitempty,max=5000"`
	IsPrimary        *bool   `json:"is_primary"`
	HasPriorAttempt  *bool   `json:"has_prior_attempt"`
	PriorAttemptNote *string `json:"prior_attempt_note" validate:"omitempty,max=5000"`
}

// canEditSubjects: owner while not terminal, reviewers always (until terminal).
func (h *Handler) subjectComplaint(c *fiber.Ctx, id string) (*models.Complaint, error) {
	var cs models.Complaint
	if err := h.db.First(&cs, "id = ?", id).Error; err != nil {
		return nil, domainError(err)
	}
	if cs.ComplainantID.String() != auth.MustUserID(c) && !auth.IsReviewer(c) {
		return nil, fiber.ErrForbidden
	}
	if workflow.IsTerminal(cs.Status) {
		return nil, fiber.NewError(fiber.StatusConflict, "complaint is closed")
	}
	return &cs, nil
}

// AddSubject godoc
// @Summary      Add an accused party
// @Description  The first subject becomes primary by default; marking a new one primary demotes the previous
// @Tags         subjects
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string         true "complaint id (uuid)"
// @Param        payload  body addSubjectReq  true "subject payload"
// @Success      201  {object}  models.ComplaintSubject
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /complaints/{id}/subjects [post]
func (h *Handler) AddSubject(c *fiber.Ctx) error {
	id := c.Params("id")

	var in addSubjectReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	cs, err := h.subjectComplaint(c, id)
	if err != nil {
		return err
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var existing int64
	if err := tx.Model(&models.ComplaintSubject{}).
		Where("complaint_id = ?", cs.ID).Count(&existing).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	// At most one primary subject per complaint.
	isPrimary := in.IsPrimary || existing == 0
	if in.IsPrimary && existing > 0 {
		if err := tx.Model(&models.ComplaintSubject{}).
			Where("complaint_id = ? AND is_primary = true", cs.ID).
			Update("is_primary", false).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}
	}

	sub := models.ComplaintSubject{
		ComplaintID:      cs.ID,
		SubjectName:      strings.TrimSpace(in.SubjectName),
		Relationship:     strings.TrimSpace(in.Relationship),
		IssueDescription: strings.TrimSpace(in.IssueDescription),
		DesiredOutcome:   strings.TrimSpace(in.DesiredOutcome),
		IsPrimary:        isPrimary,
		HasPriorAttempt:  in.HasPriorAttempt,
		PriorAttemptNote: strings.TrimSpace(in.PriorAttemptNote),
	}
	if in.SubjectEmployeeID != "" {
		eid, err := uuid.Parse(in.SubjectEmployeeID)
		if err != nil {
			tx.Rollback()
			return fiber.NewError(fiber.StatusBadRequest, "invalid subject_employee_id")
		}
		sub.SubjectEmployeeID = &eid
	}
	if err := tx.Create(&sub).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	for _, w := range in.Witnesses {
		wit := models.SubjectWitness{
			SubjectID:    sub.ID,
			Name:         strings.TrimSpace(w.Name),
			Contact:      strings.TrimSpace(w.Contact),
			Relationship: strings.TrimSpace(w.Relationship),
		}
		if err := tx.Create(&wit).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}
		sub.Witnesses = append(sub.Witnesses, wit)
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// ListSubjects godoc
// @Summary      List accused parties
// @Tags         subjects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "complaint id (uuid)"
// @Success      200  {array}  models.ComplaintSubject
// @Router       /complaints/{id}/subjects [get]
func (h *Handler) ListSubjects(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")

	var cs models.Complaint
	if err := h.db.First(&cs, "id = ?", id).Error; err != nil {
		return domainError(err)
	}
	if cs.ComplainantID.String() != userID && !auth.IsReviewer(c) {
		return fiber.ErrForbidden
	}

	var subs []models.ComplaintSubject
	if err := h.db.Where("complaint_id = ?", cs.ID).
		Preload("Witnesses").
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if subs == nil {
		subs = []models.ComplaintSubject{}
	}
	return c.JSON(subs)
}

// UpdateSubject godoc
// @Summary      Edit an accused party
// @Tags         subjects
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        subjectID  path string            true "subject id (uuid)"
// @Param        payload    body updateSubjectReq  true "fields to change"
// @Success      200  {object}  models.ComplaintSubject
// @Failure      404  {object}  models.ErrorResponse
// @Router       /subjects/{subjectID} [patch]
func (h *Handler) UpdateSubject(c *fiber.Ctx) error {
	subjectID := c.Params("subjectID")

	var in updateSubjectReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var sub models.ComplaintSubject
	if err := h.db.First(&sub, "id = ?", subjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if _, err := h.subjectComplaint(c, sub.ComplaintID.String()); err != nil {
		return err
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	updates := map[string]any{"updated_at": time.Now()}
	if in.Relationship != nil {
		updates["relationship"] = strings.TrimSpace(*in.Relationship)
	}
	if in.IssueDescription != nil {
		updates["issue_description"] = strings.TrimSpace(*in.IssueDescription)
	}
	if in.DesiredOutcome != nil {
		updates["desired_outcome"] = strings.TrimSpace(*in.DesiredOutcome)
	}
	if in.HasPriorAttempt != nil {
		updates["has_prior_attempt"] = *in.HasPriorAttempt
	}
	if in.PriorAttemptNote != nil {
		updates["prior_attempt_note"] = strings.TrimSpace(*in.PriorAttemptNote)
	}
	if in.IsPrimary != nil {
		if *in.IsPrimary {
			if err := tx.Model(&models.ComplaintSubject{}).
				Where("complaint_id = ? AND id <> ? AND is_primary = true", sub.ComplaintID, sub.ID).
				Update("is_primary", false).Error; err != nil {
				tx.Rollback()
				return fiber.ErrInternalServerError
			}
		}
		updates["is_primary"] = *in.IsPrimary
	}

	if err := tx.Model(&sub).Updates(updates).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(sub)
}

// DeleteSubject godoc
// @Summary      Remove an accused party
// @Tags         subjects
// @Security     BearerAuth
// @Param        subjectID  path string true "subject id (uuid)"
// @Success      204
// @Failure      404  {object}  models.ErrorResponse
// @Router       /subjects/{subjectID} [delete]
func (h *Handler) DeleteSubject(c *fiber.Ctx) error {
	subjectID := c.Params("subjectID")

	var sub models.ComplaintSubject
	if err := h.db.First(&sub, "id = ?", subjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if _, err := h.subjectComplaint(c, sub.ComplaintID.String()); err != nil {
		return err
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Where("subject_id = ?", sub.ID).Delete(&models.SubjectWitness{}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Delete(&sub).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.SendStatus(fiber.StatusNoContent)
}

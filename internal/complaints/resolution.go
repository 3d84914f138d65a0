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

// GetResolution godoc
// @Summary      Resolution detail
// @Tags         resolution
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "complaint id (uuid)"
// @Success      200  {object}  models.Resolution
// @Failure      404  {object}  models.ErrorResponse
// @Router       /complaints/{id}/resolution [get]
func (h *Handler) GetResolution(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")

	var cs models.Complaint
	if err := h.db.First(&cs, "id = ?", id).Error; err != nil {
		return domainError(err)
	}
	if cs.ComplainantID.String() != userID && !auth.IsReviewer(c) {
		return fiber.ErrForbidden
	}

	var res models.Resolution
	if err := h.db.First(&res, "complaint_id = ?", cs.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainError(workflow.ErrResolutionNotFound)
		}
		return fiber.ErrInternalServerError
	}
	return c.JSON(res)
}

type updateResolutionReq struct {
	Summary            *string `json:"summary" validate:"omitempty,min=10,max=5000"`
	ActionsTaken       *string `json:"actions_taken" validate:"omitempty,max=5000"`
	PreventiveMeasures *string `json:"preventive_measures" validate:"omitempty,max=5000"`
}

// UpdateResolution godoc
// @Summary      Amend a resolution
// @Description  Revises the payload in place; resolved_by and resolved_at never change
// @Tags         resolution
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string               true "complaint id (uuid)"
// @Param        payload  body updateResolutionReq  true "fields to revise"
// @Success      200  {object}  models.Resolution
// @Failure      404  {object}  models.ErrorResponse
// @Router       /complaints/{id}/resolution [patch]
func (h *Handler) UpdateResolution(c *fiber.Ctx) error {
	id := c.Params("id")

	var in updateResolutionReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var res models.Resolution
	if err := h.db.First(&res, "complaint_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainError(workflow.ErrResolutionNotFound)
		}
		return fiber.ErrInternalServerError
	}

	updates := map[string]any{"updated_at": time.Now()}
	if in.Summary != nil {
		updates["summary"] = strings.TrimSpace(*in.Summary)
	}
	if in.ActionsTaken != nil {
		updates["actions_taken"] = strings.TrimSpace(*in.ActionsTaken)
	}
	if in.PreventiveMeasures != nil {
		updates["preventive_measures"] = strings.TrimSpace(*in.PreventiveMeasures)
	}

	if err := h.db.Model(&res).Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(res)
}

type feedbackReq struct {
	SatisfactionRating int    `json:"satisfaction_rating" validate:"required,gte=1,lte=5"`
	Feedback           string `json:"feedback" validate:"max=2000"`
}

// RecordFeedback godoc
// @Summary      Record complainant feedback
// @Description  Appends satisfaction data to the existing resolution; the resolver's authorship is untouched
// @Tags         resolution
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string       true "complaint id (uuid)"
// @Param        payload  body feedbackReq  true "rating + feedback"
// @Success      200  {object}  models.Resolution
// @Failure      404  {object}  models.ErrorResponse  "no resolution yet"
// @Router       /complaints/{id}/resolution/feedback [post]
func (h *Handler) RecordFeedback(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")

	var in feedbackReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var cs models.Complaint
	if err := h.db.First(&cs, "id = ?", id).Error; err != nil {
		return domainError(err)
	}
	if cs.ComplainantID != userUUID && !auth.IsReviewer(c) {
		return fiber.ErrForbidden
	}

	var res models.Resolution
	if err := h.db.First(&res, "complaint_id = ?", cs.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainError(workflow.ErrResolutionNotFound)
		}
		return fiber.ErrInternalServerError
	}

	now := time.Now()
	if err := h.db.Model(&res).Updates(map[string]any{
		"satisfaction_rating": in.SatisfactionRating,
		"feedback":            strings.TrimSpace(in.Feedback),
		"feedback_by_id":      userUUID,
		"feedback_at":         now,
		"updated_at":          now,
	}).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(res)
}

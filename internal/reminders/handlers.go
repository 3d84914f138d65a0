package reminders

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aldoetobex/hr-complaint-backend/internal/auth"
	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
	"github.com/aldoetobex/hr-complaint-backend/pkg/validation"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

type createReminderReq struct {
	Type     string    `json:"type" validate:"required,oneof=follow_up deadline review escalation"`
	RemindAt time.Time `json:"remind_at" validate:"required"`
	Message  string    `json:"message" validate:"max=2000"`
}

// Create godoc
// @Summary      Schedule a reminder
// @Description  Attaches a future nudge to a complaint; scheduling against a closed case is allowed, delivery is what gets suppressed
// @Tags         reminders
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string             true "complaint id (uuid)"
// @Param        payload  body createReminderReq  true "reminder payload"
// @Success      201  {object}  models.Reminder
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /complaints/{id}/reminders [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	complaintID := c.Params("id")

	var in createReminderReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var cs models.Complaint
	if err := h.db.First(&cs, "id = ?", complaintID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cs.ComplainantID != userUUID && !auth.IsReviewer(c) {
		return fiber.ErrForbidden
	}

	rem := models.Reminder{
		ComplaintID: cs.ID,
		CreatedByID: userUUID,
		Type:        models.ReminderType(in.Type),
		RemindAt:    in.RemindAt.UTC(),
		Message:     strings.TrimSpace(in.Message),
	}
	if err := h.db.Create(&rem).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(rem)
}

// ListByComplaint godoc
// @Summary      List reminders for a complaint
// @Tags         reminders
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "complaint id (uuid)"
// @Success      200  {array}  models.Reminder
// @Router       /complaints/{id}/reminders [get]
func (h *Handler) ListByComplaint(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	complaintID := c.Params("id")

	var cs models.Complaint
	if err := h.db.First(&cs, "id = ?", complaintID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cs.ComplainantID.String() != userID && !auth.IsReviewer(c) {
		return fiber.ErrForbidden
	}

	var list []models.Reminder
	if err := h.db.Where("complaint_id = ?", cs.ID).
		Order("remind_at ASC").
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if list == nil {
		list = []models.Reminder{}
	}
	return c.JSON(list)
}

// Due godoc
// @Summary      Poll due reminders
// @Description  Unsent reminders whose time has passed, excluding complaints already closed or rejected
// @Tags         reminders
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}  models.Reminder
// @Router       /reminders/due [get]
func (h *Handler) Due(c *fiber.Ctx) error {
	now := time.Now().UTC()

	// The join suppresses delivery for dead cases instead of deleting
	// their pending reminders.
	var list []models.Reminder
	if err := h.db.
		Joins("JOIN complaints ON complaints.id = reminders.complaint_id").
		Where("reminders.is_sent = false").
		Where("reminders.remind_at <= ?", now).
		Where("complaints.status NOT IN ?", []models.ComplaintStatus{
			models.StatusClosed, models.StatusRejected,
		}).
		Order("reminders.remind_at ASC").
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if list == nil {
		list = []models.Reminder{}
	}
	return c.JSON(list)
}

// MarkSent godoc
// @Summary      Mark a reminder delivered
// @Description  First call stamps sent_at; repeats return the same record unchanged
// @Tags         reminders
// @Security     BearerAuth
// @Produce      json
// @Param        reminderID  path string true "reminder id (uuid)"
// @Success      200  {object}  models.Reminder
// @Failure      404  {object}  models.ErrorResponse
// @Router       /reminders/{reminderID}/sent [post]
func (h *Handler) MarkSent(c *fiber.Ctx) error {
	reminderID := c.Params("reminderID")

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var rem models.Reminder
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&rem, "id = ?", reminderID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	// Already delivered: keep the original sent_at.
	if rem.IsSent {
		tx.Rollback()
		return c.JSON(rem)
	}

	now := time.Now().UTC()
	if err := tx.Model(&rem).Updates(map[string]any{
		"is_sent": true,
		"sent_at": now,
	}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rem.IsSent = true
	rem.SentAt = &now
	return c.JSON(rem)
}

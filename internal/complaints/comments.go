package complaints

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aldoetobex/hr-complaint-backend/internal/auth"
	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
	"github.com/aldoetobex/hr-complaint-backend/pkg/validation"
)

type addCommentReq struct {
	Type      string `json:"type" validate:"omitempty,oneof=internal external resolution"`
	IsPrivate bool   `json:"is_private"`
	Body      string `json:"body" validate:"required,max=5000"`
}

// AddComment godoc
// @Summary      Add a comment
// @Description  Private comments are visible to reviewers only
// @Tags         comments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string         true "complaint id (uuid)"
// @Param        payload  body addCommentReq  true "comment payload"
// @Success      201  {object}  models.ComplaintComment
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /complaints/{id}/comments [post]
func (h *Handler) AddComment(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")

	var in addCommentReq
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
	// Only reviewers may flag a comment private or mark it internal.
	if (in.IsPrivate || in.Type == string(models.CommentInternal)) &&
		cs.ComplainantID == userUUID && !auth.IsReviewer(c) {
		in.IsPrivate = false
		in.Type = string(models.CommentExternal)
	}

	ctype := models.CommentInternal
	if in.Type != "" {
		ctype = models.CommentType(in.Type)
	} else if cs.ComplainantID == userUUID && !auth.IsReviewer(c) {
		ctype = models.CommentExternal
	}

	cm := models.ComplaintComment{
		ComplaintID: cs.ID,
		AuthorID:    userUUID,
		Type:        ctype,
		IsPrivate:   in.IsPrivate,
		Body:        strings.TrimSpace(in.Body),
	}
	if err := h.db.Create(&cm).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(cm)
}

// ListComments godoc
// @Summary      List comments
// @Description  Non-reviewers never see private comments; soft-deleted entries are hidden from everyone
// @Tags         comments
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "complaint id (uuid)"
// @Success      200  {array}  models.ComplaintComment
// @Router       /complaints/{id}/comments [get]
func (h *Handler) ListComments(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")

	var cs models.Complaint
	if err := h.db.First(&cs, "id = ?", id).Error; err != nil {
		return domainError(err)
	}
	if cs.ComplainantID.String() != userID && !auth.IsReviewer(c) {
		return fiber.ErrForbidden
	}

	q := h.db.Where("complaint_id = ?", cs.ID).Order("created_at ASC")
	if !auth.IsReviewer(c) {
		q = q.Where("is_private = false")
	}

	var list []models.ComplaintComment
	if err := q.Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if list == nil {
		list = []models.ComplaintComment{}
	}
	return c.JSON(list)
}

// DeleteComment godoc
// @Summary      Remove a comment (soft delete)
// @Description  The row is kept; it just disappears from threads
// @Tags         comments
// @Security     BearerAuth
// @Param        commentID  path string true "comment id (uuid)"
// @Success      204
// @Failure      403  {object}  models.ErrorResponse
// @Router       /comments/{commentID} [delete]
func (h *Handler) DeleteComment(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	commentID := c.Params("commentID")

	var cm models.ComplaintComment
	if err := h.db.First(&cm, "id = ?", commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cm.AuthorID.String() != userID && !auth.IsReviewer(c) {
		return fiber.ErrForbidden
	}

	// gorm.DeletedAt makes this a soft delete.
	if err := h.db.Delete(&cm).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.SendStatus(fiber.StatusNoContent)
}

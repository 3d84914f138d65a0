package complaints

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aldoetobex/hr-complaint-backend/internal/auth"
	"github.com/aldoetobex/hr-complaint-backend/internal/storage"
	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
	"github.com/aldoetobex/hr-complaint-backend/pkg/sanitize"
	"github.com/aldoetobex/hr-complaint-backend/pkg/validation"
	"github.com/aldoetobex/hr-complaint-backend/pkg/workflow"
)

// ===== DTOs =====

type CreateComplaintRequest struct {
	Title            string     `json:"title" validate:"required,max=150"`
	Categories       []string   `json:"categories" validate:"required,min=1,max=10,dive,category"`
	Priority         string     `json:"priority" validate:"omitempty,oneof=low medium high urgent critical"`
	Description      string     `json:"description" validate:"max=5000"`
	IncidentDate     *time.Time `json:"incident_date"`
	IncidentLocation string     `json:"incident_location" validate:"max=150"`
	DepartmentID     string     `json:"department_id" validate:"omitempty,uuid4"`
	IsAnonymous      bool       `json:"is_anonymous"`
	IsConfidential   bool       `json:"is_confidential"`
	IsRecurring      bool       `json:"is_recurring"`
	SLAHours         int        `json:"sla_hours" validate:"omitempty,gte=1,lte=720"`
}

type UpdateComplaintRequest struct {
	Title            *string    `json:"title" validate:"omitempty,min=1,max=150"`
	Categories       []string   `json:"categories" validate:"omitempty,min=1,max=10,dive,category"`
	Priority         *string    `json:"priority" validate:"omitempty,oneof=low medium high urgent critical"`
	Description      *string    `json:"description" validate:"omitempty,max=5000"`
	IncidentDate     *time.Time `json:"incident_date"`
	IncidentLocation *string    `json:"incident_location" validate:"omitempty,max=150"`
	IsAnonymous      *bool      `json:"is_anonymous"`
	IsConfidential   *bool      `json:"is_confidential"`
	IsRecurring      *bool      `json:"is_recurring"`
	SLAHours         *int       `json:"sla_hours" validate:"omitempty,gte=1,lte=720"`
}

type ComplaintListItem struct {
	ID              uuid.UUID              `json:"id"`
	ComplaintNumber string                 `json:"complaint_number"`
	Title           string                 `json:"title"`
	Categories      []string               `json:"categories"`
	Priority        models.Priority        `json:"priority"`
	Status          models.ComplaintStatus `json:"status"`
	ComplainantID   string                 `json:"complainant_id"` // "" when anonymous
	SubmittedAt     *time.Time             `json:"submitted_at"`
	DueDate         *time.Time             `json:"due_date"`
	IsOverdue       bool                   `json:"is_overdue"`
	IsEscalated     bool                   `json:"is_escalated"`
	Preview         string                 `json:"preview"`
	CreatedAt       time.Time              `json:"created_at"`
}

type Handler struct {
	db *gorm.DB
	sb *storage.Supabase
}

func NewHandler(db *gorm.DB, sb *storage.Supabase) *Handler {
	return &Handler{db: db, sb: sb}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

// domainError maps workflow errors to HTTP responses. Every failure
// keeps its specific reason.
func domainError(err error) error {
	var it *workflow.InvalidTransitionError
	switch {
	case errors.As(err, &it):
		return fiber.NewError(fiber.StatusConflict, it.Error())
	case errors.Is(err, workflow.ErrConcurrentModification):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrDuplicateResolution):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrResolutionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.ErrNotFound
	default:
		return fiber.ErrInternalServerError
	}
}

// lockComplaint loads a complaint FOR UPDATE inside tx.
func lockComplaint(tx *gorm.DB, id string) (*models.Complaint, error) {
	var cs models.Complaint
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&cs, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cs, nil
}

// Create Complaint godoc
// @Summary      Create complaint (draft)
// @Description  Employee files a new complaint; a CPL-YYYY-NNNNN number is allocated and the initial ledger entry written
// @Tags         complaints
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateComplaintRequest  true  "Complaint payload"
// @Success      201  {object}  map[string]string  "id, complaint_number"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /complaints [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateComplaintRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	userUUID, _ := uuid.Parse(auth.MustUserID(c))

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// Default the department from the complainant's directory record.
	var u models.User
	if err := tx.First(&u, "id = ?", userUUID).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	var deptID *uuid.UUID
	if in.DepartmentID != "" {
		d, err := uuid.Parse(in.DepartmentID)
		if err != nil {
			tx.Rollback()
			return fiber.NewError(fiber.StatusBadRequest, "invalid department_id")
		}
		deptID = &d
	} else {
		deptID = u.DepartmentID
	}

	number, err := nextComplaintNumber(tx)
	if err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	priority := models.PriorityMedium
	if in.Priority != "" {
		priority = models.Priority(in.Priority)
	}
	sla := in.SLAHours
	if sla == 0 {
		sla = workflow.DefaultSLAHours
	}

	cats := make([]string, 0, len(in.Categories))
	for _, cat := range in.Categories {
		cats = append(cats, strings.ToLower(strings.TrimSpace(cat)))
	}

	cs := models.Complaint{
		ComplaintNumber:  number,
		Title:            strings.TrimSpace(in.Title),
		Categories:       pq.StringArray(cats),
		Priority:         priority,
		Status:           models.StatusDraft,
		ComplainantID:    userUUID,
		DepartmentID:     deptID,
		IncidentDate:     in.IncidentDate,
		IncidentLocation: strings.TrimSpace(in.IncidentLocation),
		Description:      strings.TrimSpace(in.Description),
		IsAnonymous:      in.IsAnonymous,
		IsConfidential:   in.IsConfidential,
		IsRecurring:      in.IsRecurring,
		SLAHours:         sla,
	}
	if err := tx.Create(&cs).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	// Creation is the implicit first transition (nil -> draft).
	if err := appendHistory(tx, cs.ID, userUUID, nil, models.StatusDraft, "complaint created"); err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":               cs.ID,
		"complaint_number": cs.ComplaintNumber,
	})
}

// nextComplaintNumber increments the per-year sequence under a row lock
// so numbers stay unique and gap-free even under concurrent creates.
func nextComplaintNumber(tx *gorm.DB) (string, error) {
	year := time.Now().Year()
	var seq models.ComplaintSequence
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&seq, "year = ?", year).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		seq = models.ComplaintSequence{Year: year}
		if err := tx.Create(&seq).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}
	seq.LastNumber++
	if err := tx.Model(&models.ComplaintSequence{}).
		Where("year = ?", year).
		Update("last_number", seq.LastNumber).Error; err != nil {
		return "", err
	}
	return workflow.ComplaintNumber(year, seq.LastNumber), nil
}

// List My Complaints godoc
// @Summary      List my complaints
// @Description  Complainant lists their own complaints (paginated)
// @Tags         complaints
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /complaints/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Complaint{}).Where("complainant_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Complaint
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	now := time.Now()
	items := make([]ComplaintListItem, 0, len(list))
	for i := range list {
		items = append(items, listItem(&list[i], now, true))
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

// List Complaints godoc
// @Summary      List complaints (HR)
// @Description  Reviewer lists complaints with filters; anonymous complaints hide the complainant
// @Tags         complaints
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        status    query string false "status filter"
// @Param        priority  query string false "priority filter"
// @Param        category  query string false "category tag"
// @Param        overdue   query bool   false "only overdue"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /complaints [get]
func (h *Handler) List(c *fiber.Ctx) error {
	page, size := parsePage(c)

	dbq := h.db.Model(&models.Complaint{})

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		if !workflow.IsKnownStatus(models.ComplaintStatus(status)) {
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
		dbq = dbq.Where("status = ?", status)
	}
	if prio := strings.TrimSpace(c.Query("priority")); prio != "" {
		switch models.Priority(prio) {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh,
			models.PriorityUrgent, models.PriorityCritical:
			dbq = dbq.Where("priority = ?", prio)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid priority filter")
		}
	}
	if cat := strings.TrimSpace(c.Query("category")); cat != "" {
		dbq = dbq.Where("? = ANY(categories)", strings.ToLower(cat))
	}
	if c.QueryBool("overdue") {
		dbq = dbq.Where("due_date IS NOT NULL AND due_date < ? AND status NOT IN ?",
			time.Now(), []models.ComplaintStatus{
				models.StatusResolved, models.StatusClosed, models.StatusRejected,
			})
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Complaint
	if err := dbq.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	now := time.Now()
	items := make([]ComplaintListItem, 0, len(list))
	for i := range list {
		items = append(items, listItem(&list[i], now, false))
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

// listItem maps a complaint row to its list shape. Anonymous complaints
// drop the complainant id and redact contact details from the preview
// unless the viewer is the owner.
func listItem(cs *models.Complaint, now time.Time, owner bool) ComplaintListItem {
	item := ComplaintListItem{
		ID:              cs.ID,
		ComplaintNumber: cs.ComplaintNumber,
		Title:           cs.Title,
		Categories:      cs.Categories,
		Priority:        cs.Priority,
		Status:          cs.Status,
		ComplainantID:   cs.ComplainantID.String(),
		SubmittedAt:     cs.SubmittedAt,
		DueDate:         cs.DueDate,
		IsOverdue:       workflow.IsOverdue(cs, now),
		IsEscalated:     cs.IsEscalated,
		Preview:         sanitize.Summary(cs.Description, 240),
		CreatedAt:       cs.CreatedAt,
	}
	if cs.IsAnonymous && !owner {
		item.ComplainantID = ""
		item.Preview = sanitize.Summary(sanitize.RedactPII(cs.Description), 240)
	}
	if item.Categories == nil {
		item.Categories = []string{}
	}
	return item
}

// Get complaint detail godoc
// @Summary      Complaint detail
// @Description  Owner or reviewer gets the full complaint with subjects, ledger, escalations, resolution
// @Tags         complaints
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "complaint id (uuid)"
// @Success      200  {object}  models.Complaint
// @Failure      401  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /complaints/{id} [get]
func (h *Handler) GetDetail(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	reviewer := auth.IsReviewer(c)
	id := c.Params("id")

	var cs models.Complaint
	err := h.db.
		Where("id = ?", id).
		Preload("Subjects", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Subjects.Witnesses").
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Escalations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Preload("Reminders", func(db *gorm.DB) *gorm.DB { return db.Order("remind_at ASC") }).
		Preload("Resolution").
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&cs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	owner := cs.ComplainantID.String() == userID
	if !owner && !reviewer {
		return fiber.ErrForbidden
	}

	// Comments: private entries stay visible to reviewers only.
	cq := h.db.Where("complaint_id = ?", cs.ID).Order("created_at ASC")
	if !reviewer {
		cq = cq.Where("is_private = false")
	}
	if err := cq.Find(&cs.Comments).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	// Hide who filed an anonymous complaint from everyone but the owner.
	if cs.IsAnonymous && !owner {
		cs.ComplainantID = uuid.Nil
		cs.Description = sanitize.RedactPII(cs.Description)
	}

	cs.IsOverdue = workflow.IsOverdue(&cs, time.Now())

	// Jangan kirim null untuk koleksi
	if cs.Subjects == nil {
		cs.Subjects = []models.ComplaintSubject{}
	}
	if cs.History == nil {
		cs.History = []models.StatusHistory{}
	}
	if cs.Comments == nil {
		cs.Comments = []models.ComplaintComment{}
	}
	if cs.Documents == nil {
		cs.Documents = []models.ComplaintDocument{}
	}

	return c.JSON(cs)
}

// Update draft godoc
// @Summary      Edit a draft complaint
// @Description  Owner edits classification/incident fields while the complaint is still a draft
// @Tags         complaints
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string                  true  "complaint id (uuid)"
// @Param        payload  body UpdateComplaintRequest  true  "Fields to change"
// @Success      200  {object}  models.Complaint
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "not a draft"
// @Router       /complaints/{id} [patch]
func (h *Handler) Update(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")

	var in UpdateComplaintRequest
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
	if cs.ComplainantID.String() != userID {
		tx.Rollback()
		return fiber.ErrForbidden
	}
	if cs.Status != models.StatusDraft {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, "only draft complaints can be edited")
	}

	updates := map[string]any{"updated_at": time.Now()}
	if in.Title != nil {
		updates["title"] = strings.TrimSpace(*in.Title)
	}
	if in.Categories != nil {
		cats := make([]string, 0, len(in.Categories))
		for _, cat := range in.Categories {
			cats = append(cats, strings.ToLower(strings.TrimSpace(cat)))
		}
		updates["categories"] = pq.StringArray(cats)
	}
	if in.Priority != nil {
		updates["priority"] = *in.Priority
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.IncidentDate != nil {
		updates["incident_date"] = *in.IncidentDate
	}
	if in.IncidentLocation != nil {
		updates["incident_location"] = strings.TrimSpace(*in.IncidentLocation)
	}
	if in.IsAnonymous != nil {
		updates["is_anonymous"] = *in.IsAnonymous
	}
	if in.IsConfidential != nil {
		updates["is_confidential"] = *in.IsConfidential
	}
	if in.IsRecurring != nil {
		updates["is_recurring"] = *in.IsRecurring
	}
	if in.SLAHours != nil {
		updates["sla_hours"] = *in.SLAHours
	}

	if err := tx.Model(&models.Complaint{}).Where("id = ?", cs.ID).Updates(updates).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var out models.Complaint
	if err := h.db.First(&out, "id = ?", cs.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(out)
}

// Delete draft godoc
// @Summary      Delete a draft complaint
// @Description  Owner deletes a draft; subjects, comments and documents go with it, stored objects included
// @Tags         complaints
// @Security     BearerAuth
// @Param        id   path string true "complaint id (uuid)"
// @Success      204
// @Failure      409  {object}  models.ErrorResponse  "not a draft"
// @Router       /complaints/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	role := auth.MustRole(c)
	id := c.Params("id")

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
	if cs.ComplainantID.String() != userID && role != string(models.RoleAdmin) {
		tx.Rollback()
		return fiber.ErrForbidden
	}
	if cs.Status != models.StatusDraft {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, "only draft complaints can be deleted")
	}

	// Collect object keys first so storage cleanup can run after commit.
	var docs []models.ComplaintDocument
	if err := tx.Where("complaint_id = ?", cs.ID).Find(&docs).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key)
	}

	var subjectIDs []uuid.UUID
	if err := tx.Model(&models.ComplaintSubject{}).
		Where("complaint_id = ?", cs.ID).
		Pluck("id", &subjectIDs).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if len(subjectIDs) > 0 {
		if err := tx.Where("subject_id IN ?", subjectIDs).Delete(&models.SubjectWitness{}).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}
	}
	if err := tx.Where("complaint_id = ?", cs.ID).Delete(&models.ComplaintSubject{}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Where("complaint_id = ?", cs.ID).Delete(&models.ComplaintDocument{}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Unscoped().Where("complaint_id = ?", cs.ID).Delete(&models.ComplaintComment{}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Where("complaint_id = ?", cs.ID).Delete(&models.Reminder{}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	// A draft never entered the formal process; its ledger goes with it.
	if err := tx.Where("complaint_id = ?", cs.ID).Delete(&models.StatusHistory{}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Where("id = ?", cs.ID).Delete(&models.Complaint{}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	// Storage cleanup is idempotent; a failure leaves unreferenced
	// objects but never a document row without its complaint.
	if h.sb != nil {
		_ = h.sb.BulkDelete(keys)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

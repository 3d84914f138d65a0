package complaints

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aldoetobex/hr-complaint-backend/internal/auth"
	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
)

// Upload Evidence godoc
// @Summary      Upload evidence documents (PDF/PNG)
// @Description  Owner or reviewer uploads up to 10 files; bytes go to storage, the database keeps keys only
// @Tags         documents
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id     path      string   true  "complaint id (uuid)"
// @Param        files  formData  []file   true  "PDF/PNG (max 10)"
// @Param        doc_type formData string  false "document type tag"
// @Success      201    {array}   map[string]any  "id, key, name, size"
// @Failure      400    {object}  models.ErrorResponse
// @Failure      403    {object}  models.ErrorResponse
// @Failure      500    {object}  models.ErrorResponse
// @Router       /complaints/{id}/documents [post]
func (h *Handler) UploadDocument(c *fiber.Ctx) error {
	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	complaintID := c.Params("id")

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

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form required; use files[]")
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "files are required (use key: files[])")
	}
	if len(files) > 10 {
		return fiber.NewError(fiber.StatusBadRequest, "max 10 files allowed")
	}

	docType := "evidence"
	if v := form.Value["doc_type"]; len(v) > 0 && strings.TrimSpace(v[0]) != "" {
		docType = strings.TrimSpace(v[0])
	}

	results := make([]fiber.Map, 0, len(files))

	for _, fh := range files {
		res := fiber.Map{
			"name": fh.Filename,
			"size": fh.Size,
		}

		// ---- Per-file validation
		if fh.Size <= 0 {
			res["error"] = "empty file"
			results = append(results, res)
			continue
		}
		if fh.Size > 10*1024*1024 {
			res["error"] = "max 10MB per file"
			results = append(results, res)
			continue
		}

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
		}
		switch ct {
		case "application/pdf", "image/png":
			// ok
		default:
			res["error"] = "only PDF or PNG are allowed"
			results = append(results, res)
			continue
		}

		f, err := fh.Open()
		if err != nil {
			res["error"] = "open failed"
			results = append(results, res)
			continue
		}
		defer f.Close()

		// Pakai nama unik agar tidak tabrakan
		key := h.sb.MakeObjectKey(complaintID, fh.Filename)

		if err := h.sb.Upload(key, f, ct, fh.Size); err != nil {
			res["error"] = "upload failed"
			results = append(results, res)
			continue
		}

		rec := models.ComplaintDocument{
			ComplaintID:  cs.ID,
			Key:          key,
			Mime:         ct,
			Size:         int(fh.Size),
			OriginalName: fh.Filename,
			DocType:      docType,
			UploadedByID: userUUID,
		}
		if err := h.db.Create(&rec).Error; err != nil {
			res["error"] = "database error"
			results = append(results, res)
			continue
		}

		res["id"] = rec.ID
		res["key"] = rec.Key
		results = append(results, res)
	}

	// 201 even when some items failed; check per-item "error" fields
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"results": results})
}

// Signed Download URL godoc
// @Summary      Get signed URL for a document
// @Description  Owner or reviewer obtains a short-lived signed URL; confidential complaints are reviewer-and-owner only
// @Tags         documents
// @Security     BearerAuth
// @Produce      json
// @Param        docID  path string true "document id (uuid)"
// @Success      200  {object}  map[string]any  "url, expires_in, now"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      500  {object}  models.ErrorResponse
// @Router       /documents/{docID}/signed-url [get]
func (h *Handler) SignedDocumentURL(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	docID := c.Params("docID")

	var doc models.ComplaintDocument
	if err := h.db.Preload("Complaint").First(&doc, "id = ?", docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	// Never hand out raw storage paths; access goes through this check.
	allowed := doc.Complaint.ComplainantID.String() == userID || auth.IsReviewer(c)
	if doc.Complaint.IsConfidential && !auth.IsReviewer(c) &&
		doc.Complaint.ComplainantID.String() != userID {
		allowed = false
	}
	if !allowed {
		return fiber.ErrForbidden
	}

	// No storage configured (tests): hand back a placeholder URL so the
	// access-control path is still exercised end to end.
	if h.sb == nil {
		return c.JSON(fiber.Map{"url": "local://" + doc.Key, "expires_in": 60, "now": time.Now().UTC()})
	}

	url, err := h.sb.SignedURL(doc.Key, 60) // seconds
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": 60, "now": time.Now().UTC()})
}

// Delete Document godoc
// @Summary      Delete a document
// @Description  Removes the row, then the stored object (idempotent on the storage side)
// @Tags         documents
// @Security     BearerAuth
// @Param        docID  path string true "document id (uuid)"
// @Success      204
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documents/{docID} [delete]
func (h *Handler) DeleteDocument(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	docID := c.Params("docID")

	var doc models.ComplaintDocument
	if err := h.db.Preload("Complaint").First(&doc, "id = ?", docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if doc.UploadedByID.String() != userID && !auth.IsReviewer(c) {
		return fiber.ErrForbidden
	}

	if err := h.db.Delete(&models.ComplaintDocument{}, "id = ?", doc.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	// Row first, object second: a failed storage call can leave an
	// unreferenced object but never a row pointing at nothing we own.
	if h.sb != nil {
		_ = h.sb.Delete(doc.Key)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

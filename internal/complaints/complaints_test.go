package complaints

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aldoetobex/hr-complaint-backend/internal/auth"
	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

// openTestDB loads TEST_DATABASE_URL, opens a real Postgres connection,
// runs migrations, and registers a cleanup that truncates test tables after run.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Complaint{}, &models.ComplaintSubject{},
		&models.SubjectWitness{}, &models.StatusHistory{}, &models.EscalationEvent{},
		&models.Reminder{}, &models.Resolution{}, &models.ComplaintComment{},
		&models.ComplaintDocument{}, &models.ComplaintSequence{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Truncate AFTER each test (data survives within a single test).
	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	subject_witnesses,
	complaint_subjects,
	status_histories,
	escalation_events,
	reminders,
	resolutions,
	complaint_comments,
	complaint_documents,
	complaints,
	complaint_sequences,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

// injectAuth puts the auth locals into Fiber context so MustUserID /
// MustRole work without a real JWT.
func injectAuth(userID uuid.UUID, role string) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", role)
		return c.Next()
	}
}

// newTestApp registers routes in a safe order for tests.
// Static paths (like /mine) are added BEFORE parameterized ones (/:id)
// so they don't get shadowed by :id.
func newTestApp(h *Handler, userID uuid.UUID, role string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler})
	app.Use(injectAuth(userID, role))

	// Static / explicit routes first
	app.Get("/api/complaints/mine", h.ListMine)
	app.Get("/api/complaints", h.List)
	app.Post("/api/complaints", h.Create)

	// Lifecycle endpoints
	app.Post("/api/complaints/:id/submit", h.Submit)
	app.Post("/api/complaints/:id/acknowledge", h.Acknowledge)
	app.Post("/api/complaints/:id/status", h.Advance)
	app.Post("/api/complaints/:id/escalate", h.Escalate)
	app.Post("/api/complaints/:id/resolve", h.Resolve)
	app.Post("/api/complaints/:id/close", h.Close)
	app.Post("/api/complaints/:id/reject", h.Reject)

	// Children
	app.Post("/api/complaints/:id/subjects", h.AddSubject)
	app.Get("/api/complaints/:id/subjects", h.ListSubjects)
	app.Post("/api/complaints/:id/comments", h.AddComment)
	app.Get("/api/complaints/:id/comments", h.ListComments)
	app.Get("/api/complaints/:id/resolution", h.GetResolution)
	app.Post("/api/complaints/:id/resolution/feedback", h.RecordFeedback)

	// Parameterized routes last
	app.Get("/api/complaints/:id", h.GetDetail)
	app.Patch("/api/complaints/:id", h.Update)
	app.Delete("/api/complaints/:id", h.Delete)

	return app
}

// seedUser inserts one user with the given role.
func seedUser(t *testing.T, db *gorm.DB, role models.Role) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := db.Create(&models.User{
		ID:           id,
		Email:        string(role) + "_" + id.String()[:8] + "@x.com",
		PasswordHash: "x",
		Role:         role,
		Name:         "U " + id.String()[:6],
	}).Error; err != nil {
		t.Fatal(err)
	}
	return id
}

// seedComplaint inserts one complaint with the given status for a complainant.
func seedComplaint(t *testing.T, db *gorm.DB, complainant uuid.UUID, status models.ComplaintStatus, mut ...func(*models.Complaint)) uuid.UUID {
	t.Helper()
	id := uuid.New()
	cs := models.Complaint{
		ID:              id,
		ComplaintNumber: "CPL-2026-" + id.String()[:5],
		Title:           "Complaint " + id.String()[:6],
		Categories:      pq.StringArray{"harassment"},
		Priority:        models.PriorityMedium,
		Status:          status,
		ComplainantID:   complainant,
		Description:     "Something happened in the office.",
		SLAHours:        72,
	}
	if status != models.StatusDraft {
		now := time.Now().Add(-time.Hour)
		due := now.Add(72 * time.Hour)
		cs.SubmittedAt = &now
		cs.DueDate = &due
	}
	for _, m := range mut {
		m(&cs)
	}
	if err := db.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}
	return id
}

// do sends a request and returns status + raw body.
func do(t *testing.T, app *fiber.App, method, target string, payload any) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(res.Body)
	return res.StatusCode, raw
}

func historyCount(t *testing.T, db *gorm.DB, complaintID uuid.UUID) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.StatusHistory{}).
		Where("complaint_id = ?", complaintID).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

/* ============================================================================
   Tests — creation, numbering, drafts, anonymous masking, permissions
   ============================================================================ */

// Creating a complaint allocates a CPL number and writes the initial ledger entry.
func Test_Create_AllocatesNumber_And_InitialLedgerEntry(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	app := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))

	incident := time.Now().Add(-24 * time.Hour)
	status, raw := do(t, app, "POST", "/api/complaints", fiber.Map{
		"title":         "Broken AC retaliation",
		"categories":    []string{"retaliation"},
		"priority":      "high",
		"description":   "My shift was changed after I reported the issue.",
		"incident_date": incident,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d, body = %s", status, raw)
	}

	var out struct {
		ID              uuid.UUID `json:"id"`
		ComplaintNumber string    `json:"complaint_number"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.ComplaintNumber, "CPL-") {
		t.Fatalf("complaint number = %q", out.ComplaintNumber)
	}

	var entries []models.StatusHistory
	if err := db.Where("complaint_id = ?", out.ID).Find(&entries).Error; err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if entries[0].FromStatus != nil {
		t.Fatalf("initial entry from_status = %v, want nil", *entries[0].FromStatus)
	}
	if entries[0].ToStatus != models.StatusDraft {
		t.Fatalf("initial entry to_status = %s", entries[0].ToStatus)
	}
}

// Sequential creates in the same year get strictly increasing numbers.
func Test_Create_NumbersIncrease(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	app := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))

	numbers := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		status, raw := do(t, app, "POST", "/api/complaints", fiber.Map{
			"title":      "Case",
			"categories": []string{"workload"},
		})
		if status != fiber.StatusCreated {
			t.Fatalf("status = %d, body = %s", status, raw)
		}
		var out struct {
			ComplaintNumber string `json:"complaint_number"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatal(err)
		}
		numbers = append(numbers, out.ComplaintNumber)
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i] <= numbers[i-1] {
			t.Fatalf("numbers not increasing: %v", numbers)
		}
	}
}

// Only drafts can be edited; a submitted complaint rejects the patch.
func Test_Update_DraftOnly(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	app := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))

	draft := seedComplaint(t, db, employee, models.StatusDraft)
	submitted := seedComplaint(t, db, employee, models.StatusSubmitted)

	title := "Edited title"
	status, raw := do(t, app, "PATCH", "/api/complaints/"+draft.String(), fiber.Map{"title": title})
	if status != fiber.StatusOK {
		t.Fatalf("draft patch = %d, body = %s", status, raw)
	}

	status, _ = do(t, app, "PATCH", "/api/complaints/"+submitted.String(), fiber.Map{"title": title})
	if status != fiber.StatusConflict {
		t.Fatalf("submitted patch = %d, want 409", status)
	}
}

// Deleting a draft removes children; non-drafts are refused.
func Test_Delete_DraftOnly_CascadesChildren(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	app := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))

	draft := seedComplaint(t, db, employee, models.StatusDraft)
	if err := db.Create(&models.ComplaintSubject{
		ComplaintID: draft, SubjectName: "Mr X", IssueDescription: "rude", IsPrimary: true,
	}).Error; err != nil {
		t.Fatal(err)
	}

	status, raw := do(t, app, "DELETE", "/api/complaints/"+draft.String(), nil)
	if status != fiber.StatusNoContent {
		t.Fatalf("delete = %d, body = %s", status, raw)
	}
	var n int64
	if err := db.Model(&models.ComplaintSubject{}).Where("complaint_id = ?", draft).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("subjects left = %d", n)
	}

	submitted := seedComplaint(t, db, employee, models.StatusSubmitted)
	status, _ = do(t, app, "DELETE", "/api/complaints/"+submitted.String(), nil)
	if status != fiber.StatusConflict {
		t.Fatalf("delete submitted = %d, want 409", status)
	}
}

// HR list hides who filed an anonymous complaint and redacts the preview.
func Test_List_AnonymousHidesComplainant(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)

	seedComplaint(t, db, employee, models.StatusSubmitted, func(cs *models.Complaint) {
		cs.IsAnonymous = true
		cs.Description = "Contact me at me@example.com about the incident."
	})

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, app, "GET", "/api/complaints", nil)
	if status != fiber.StatusOK {
		t.Fatalf("list = %d, body = %s", status, raw)
	}

	var out struct {
		Items []ComplaintListItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(out.Items))
	}
	if out.Items[0].ComplainantID != "" {
		t.Fatalf("complainant leaked: %q", out.Items[0].ComplainantID)
	}
	if strings.Contains(out.Items[0].Preview, "me@example.com") {
		t.Fatalf("preview not redacted: %q", out.Items[0].Preview)
	}
}

// The owner of an anonymous complaint still sees themselves.
func Test_ListMine_AnonymousOwnerSeesSelf(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	seedComplaint(t, db, employee, models.StatusSubmitted, func(cs *models.Complaint) {
		cs.IsAnonymous = true
	})

	app := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))
	status, raw := do(t, app, "GET", "/api/complaints/mine", nil)
	if status != fiber.StatusOK {
		t.Fatalf("list mine = %d, body = %s", status, raw)
	}

	var out struct {
		Items []ComplaintListItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 1 || out.Items[0].ComplainantID != employee.String() {
		t.Fatalf("owner should see own id, got %+v", out.Items)
	}
}

// A random employee may not read someone else's complaint.
func Test_GetDetail_StrangerForbidden(t *testing.T) {
	db := openTestDB(t)
	owner := seedUser(t, db, models.RoleEmployee)
	stranger := seedUser(t, db, models.RoleEmployee)
	id := seedComplaint(t, db, owner, models.StatusSubmitted)

	app := newTestApp(NewHandler(db, nil), stranger, string(models.RoleEmployee))
	status, _ := do(t, app, "GET", "/api/complaints/"+id.String(), nil)
	if status != fiber.StatusForbidden {
		t.Fatalf("stranger detail = %d, want 403", status)
	}
}

// Reviewers see an anonymous complaint without the complainant id.
func Test_GetDetail_AnonymousMaskedForReviewer(t *testing.T) {
	db := openTestDB(t)
	owner := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	id := seedComplaint(t, db, owner, models.StatusSubmitted, func(cs *models.Complaint) {
		cs.IsAnonymous = true
	})

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, app, "GET", "/api/complaints/"+id.String(), nil)
	if status != fiber.StatusOK {
		t.Fatalf("detail = %d, body = %s", status, raw)
	}
	var out struct {
		ComplainantID uuid.UUID `json:"complainant_id"`
		IsOverdue     bool      `json:"is_overdue"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.ComplainantID != uuid.Nil {
		t.Fatalf("complainant leaked: %s", out.ComplainantID)
	}
}

// Private comments are invisible to the complaining employee.
func Test_Comments_PrivateHiddenFromNonReviewer(t *testing.T) {
	db := openTestDB(t)
	owner := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	id := seedComplaint(t, db, owner, models.StatusUnderReview)

	hrApp := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, hrApp, "POST", "/api/complaints/"+id.String()+"/comments", fiber.Map{
		"body":       "internal note about the accused",
		"is_private": true,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("add comment = %d, body = %s", status, raw)
	}

	ownApp := newTestApp(NewHandler(db, nil), owner, string(models.RoleEmployee))
	status, raw = do(t, ownApp, "GET", "/api/complaints/"+id.String()+"/comments", nil)
	if status != fiber.StatusOK {
		t.Fatalf("list comments = %d", status)
	}
	var list []models.ComplaintComment
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("private comment leaked to owner: %+v", list)
	}

	status, raw = do(t, hrApp, "GET", "/api/complaints/"+id.String()+"/comments", nil)
	if status != fiber.StatusOK {
		t.Fatalf("list comments (hr) = %d", status)
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("hr should see the private comment, got %d", len(list))
	}
}

// At most one primary subject per complaint; a new primary demotes the old one.
func Test_Subjects_SinglePrimary(t *testing.T) {
	db := openTestDB(t)
	owner := seedUser(t, db, models.RoleEmployee)
	id := seedComplaint(t, db, owner, models.StatusDraft)
	app := newTestApp(NewHandler(db, nil), owner, string(models.RoleEmployee))

	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/subjects", fiber.Map{
		"subject_name":      "First Person",
		"issue_description": "Repeated shouting in meetings",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("first subject = %d, body = %s", status, raw)
	}

	status, raw = do(t, app, "POST", "/api/complaints/"+id.String()+"/subjects", fiber.Map{
		"subject_name":      "Second Person",
		"issue_description": "Ignored the escalation",
		"is_primary":        true,
		"witnesses": []fiber.Map{
			{"name": "Witness A", "relationship": "teammate"},
		},
	})
	if status != fiber.StatusCreated {
		t.Fatalf("second subject = %d, body = %s", status, raw)
	}

	var primaries int64
	if err := db.Model(&models.ComplaintSubject{}).
		Where("complaint_id = ? AND is_primary = true", id).
		Count(&primaries).Error; err != nil {
		t.Fatal(err)
	}
	if primaries != 1 {
		t.Fatalf("primary subjects = %d, want 1", primaries)
	}

	var sub models.ComplaintSubject
	if err := db.Preload("Witnesses").
		First(&sub, "complaint_id = ? AND is_primary = true", id).Error; err != nil {
		t.Fatal(err)
	}
	if sub.SubjectName != "Second Person" || len(sub.Witnesses) != 1 {
		t.Fatalf("unexpected primary: %+v", sub)
	}
}

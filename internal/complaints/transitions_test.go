package complaints

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/aldoetobex/hr-complaint-backend/pkg/models"
	"github.com/aldoetobex/hr-complaint-backend/pkg/workflow"
)

/* ============================================================================
   Tests — lifecycle transitions, ledger, escalation, resolution
   ============================================================================ */

// Submitting locks in due_date = submitted_at + sla_hours.
func Test_Submit_SetsDueDateFromSLA(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	incident := time.Now().Add(-48 * time.Hour)
	id := seedComplaint(t, db, employee, models.StatusDraft, func(cs *models.Complaint) {
		cs.SLAHours = 48
		cs.IncidentDate = &incident
	})

	app := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))
	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/submit", nil)
	if status != fiber.StatusOK {
		t.Fatalf("submit = %d, body = %s", status, raw)
	}

	var cs models.Complaint
	if err := db.First(&cs, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if cs.Status != models.StatusSubmitted {
		t.Fatalf("status = %s", cs.Status)
	}
	if cs.SubmittedAt == nil || cs.DueDate == nil {
		t.Fatal("submitted_at / due_date not set")
	}
	want := cs.SubmittedAt.Add(48 * time.Hour)
	if diff := cs.DueDate.Sub(want); diff > time.Minute || diff < -time.Minute {
		t.Fatalf("due_date = %v, want ~%v", cs.DueDate, want)
	}
}

// An incomplete draft cannot enter the formal process; nothing is written.
func Test_Submit_IncompleteDraftRejected(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	// no incident date
	id := seedComplaint(t, db, employee, models.StatusDraft)

	before := historyCount(t, db, id)
	app := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))
	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/submit", nil)
	if status != fiber.StatusBadRequest && status != fiber.StatusUnprocessableEntity {
		t.Fatalf("submit = %d, body = %s", status, raw)
	}

	var cs models.Complaint
	if err := db.First(&cs, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if cs.Status != models.StatusDraft || cs.SubmittedAt != nil {
		t.Fatalf("draft mutated: status=%s submitted_at=%v", cs.Status, cs.SubmittedAt)
	}
	if after := historyCount(t, db, id); after != before {
		t.Fatalf("ledger grew on failed submit: %d -> %d", before, after)
	}
}

// Re-submitting an already submitted complaint is an illegal transition
// and must not move submitted_at.
func Test_Submit_Twice_Conflict(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	incident := time.Now().Add(-time.Hour)
	id := seedComplaint(t, db, employee, models.StatusSubmitted, func(cs *models.Complaint) {
		cs.IncidentDate = &incident
	})

	var before models.Complaint
	if err := db.First(&before, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}

	app := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))
	status, _ := do(t, app, "POST", "/api/complaints/"+id.String()+"/submit", nil)
	if status != fiber.StatusConflict {
		t.Fatalf("second submit = %d, want 409", status)
	}

	var after models.Complaint
	if err := db.First(&after, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if !after.SubmittedAt.Equal(*before.SubmittedAt) {
		t.Fatalf("submitted_at moved: %v -> %v", before.SubmittedAt, after.SubmittedAt)
	}
}

// Resolving a closed complaint is refused and leaves the ledger alone.
func Test_Resolve_OnClosed_Conflict_NoLedgerEntry(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	id := seedComplaint(t, db, employee, models.StatusClosed)

	before := historyCount(t, db, id)
	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/resolve", fiber.Map{
		"summary": "We talked to everyone involved.",
	})
	if status != fiber.StatusConflict {
		t.Fatalf("resolve closed = %d, body = %s", status, raw)
	}
	if after := historyCount(t, db, id); after != before {
		t.Fatalf("ledger grew on refused resolve: %d -> %d", before, after)
	}
	var n int64
	if err := db.Model(&models.Resolution{}).Where("complaint_id = ?", id).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("resolution row created on refused resolve")
	}
}

// Resolve creates the resolution and flips the status atomically; a second
// resolve conflicts and leaves the first record untouched.
func Test_Resolve_Then_DuplicateConflict(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	id := seedComplaint(t, db, employee, models.StatusUnderReview)

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/resolve", fiber.Map{
		"summary":       "Mediation held, both parties agreed on a plan.",
		"actions_taken": "Two mediation sessions.",
	})
	if status != fiber.StatusOK {
		t.Fatalf("resolve = %d, body = %s", status, raw)
	}

	var cs models.Complaint
	if err := db.First(&cs, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if cs.Status != models.StatusResolved || cs.ResolvedAt == nil || cs.FollowUpDate == nil {
		t.Fatalf("resolved state wrong: %+v", cs)
	}
	wantFU := cs.ResolvedAt.AddDate(0, 0, workflow.FollowUpDays)
	if diff := cs.FollowUpDate.Sub(wantFU); diff > time.Minute || diff < -time.Minute {
		t.Fatalf("follow_up_date = %v, want ~%v", cs.FollowUpDate, wantFU)
	}

	var first models.Resolution
	if err := db.First(&first, "complaint_id = ?", id).Error; err != nil {
		t.Fatal(err)
	}

	// Put the complaint back into a state resolve would otherwise accept;
	// the duplicate-resolution guard must still refuse.
	if err := db.Model(&models.Complaint{}).Where("id = ?", id).
		Update("status", models.StatusUnderReview).Error; err != nil {
		t.Fatal(err)
	}
	status, _ = do(t, app, "POST", "/api/complaints/"+id.String()+"/resolve", fiber.Map{
		"summary": "Trying to resolve it a second time.",
	})
	if status != fiber.StatusConflict {
		t.Fatalf("second resolve = %d, want 409", status)
	}

	var again models.Resolution
	if err := db.First(&again, "complaint_id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID || again.Summary != first.Summary {
		t.Fatalf("first resolution mutated: %+v vs %+v", first, again)
	}
}

// Escalation with no targets is a validation error; no event, no projection.
func Test_Escalate_EmptyTargetsRejected(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	id := seedComplaint(t, db, employee, models.StatusUnderReview)

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/escalate", fiber.Map{
		"targets": []string{},
		"reason":  "needs senior review right now",
	})
	if status != fiber.StatusBadRequest && status != fiber.StatusUnprocessableEntity {
		t.Fatalf("escalate = %d, body = %s", status, raw)
	}

	var n int64
	if err := db.Model(&models.EscalationEvent{}).Where("complaint_id = ?", id).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatal("escalation event created despite empty targets")
	}
	var cs models.Complaint
	if err := db.First(&cs, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if cs.IsEscalated || cs.Status != models.StatusUnderReview {
		t.Fatalf("projection mutated: %+v", cs)
	}
}

// A too-short reason is refused before anything is written.
func Test_Escalate_ShortReasonRejected(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	target := seedUser(t, db, models.RoleAdmin)
	id := seedComplaint(t, db, employee, models.StatusUnderReview)

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, _ := do(t, app, "POST", "/api/complaints/"+id.String()+"/escalate", fiber.Map{
		"targets": []string{target.String()},
		"reason":  "too hot",
	})
	if status != fiber.StatusBadRequest && status != fiber.StatusUnprocessableEntity {
		t.Fatalf("escalate = %d", status)
	}
}

// Each escalation appends one event at the next level and the complaint's
// escalated_to always mirrors the latest event's target set.
func Test_Escalate_LevelsAndProjection(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	t1 := seedUser(t, db, models.RoleHR)
	t2 := seedUser(t, db, models.RoleAdmin)
	id := seedComplaint(t, db, employee, models.StatusUnderReview)

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))

	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/escalate", fiber.Map{
		"targets": []string{t1.String()},
		"reason":  "first reviewer is conflicted out",
	})
	if status != fiber.StatusOK {
		t.Fatalf("first escalate = %d, body = %s", status, raw)
	}

	// escalated -> escalated: handing the case one tier further up.
	status, raw = do(t, app, "POST", "/api/complaints/"+id.String()+"/escalate", fiber.Map{
		"targets": []string{t2.String()},
		"reason":  "still unresolved after the first hand-off",
	})
	if status != fiber.StatusOK {
		t.Fatalf("second escalate = %d, body = %s", status, raw)
	}
	var out struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.Level != "level_2" {
		t.Fatalf("level = %q, want level_2", out.Level)
	}

	var events []models.EscalationEvent
	if err := db.Where("complaint_id = ?", id).Order("level ASC").Find(&events).Error; err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Level != 1 || events[1].Level != 2 {
		t.Fatalf("events = %+v", events)
	}

	var cs models.Complaint
	if err := db.First(&cs, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if !cs.IsEscalated || cs.EscalatedAt == nil {
		t.Fatalf("projection flags wrong: %+v", cs)
	}
	if len(cs.EscalatedTo) != 1 || cs.EscalatedTo[0] != t2.String() {
		t.Fatalf("escalated_to = %v, want latest targets [%s]", cs.EscalatedTo, t2)
	}
}

// A writer whose snapshot predates another committed transition loses
// with a conflict and leaves no trace in the ledger.
func Test_Transition_StaleLockVersionRefused(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	id := seedComplaint(t, db, employee, models.StatusSubmitted)

	before := historyCount(t, db, id)

	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	cs, err := lockComplaint(tx, id.String())
	if err != nil {
		tx.Rollback()
		t.Fatal(err)
	}

	// Simulate a read-modify-write that loaded the complaint before a
	// transition someone else has since committed.
	cs.LockVersion--

	err = applyTransition(tx, cs, models.StatusAcknowledged, hr, "", nil)
	tx.Rollback()
	if !errors.Is(err, workflow.ErrConcurrentModification) {
		t.Fatalf("err = %v, want ErrConcurrentModification", err)
	}

	var fe *fiber.Error
	if conv := domainError(err); !errors.As(conv, &fe) || fe.Code != fiber.StatusConflict {
		t.Fatalf("domainError(%v) should map to 409", err)
	}

	var cs2 models.Complaint
	if err := db.First(&cs2, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if cs2.Status != models.StatusSubmitted {
		t.Fatalf("status moved despite stale writer: %s", cs2.Status)
	}
	if after := historyCount(t, db, id); after != before {
		t.Fatalf("ledger grew on refused transition: %d -> %d", before, after)
	}
}

// A resolved complaint can still be escalated: a disputed outcome goes up
// a tier instead of reopening through the review states.
func Test_Escalate_FromResolved(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	target := seedUser(t, db, models.RoleAdmin)
	id := seedComplaint(t, db, employee, models.StatusResolved)

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/escalate", fiber.Map{
		"targets": []string{target.String()},
		"reason":  "complainant disputes the resolution outcome",
	})
	if status != fiber.StatusOK {
		t.Fatalf("escalate resolved = %d, body = %s", status, raw)
	}

	var cs models.Complaint
	if err := db.First(&cs, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if cs.Status != models.StatusEscalated || !cs.IsEscalated {
		t.Fatalf("escalated state wrong: %+v", cs)
	}
}

// Repeated target ids collapse to one; the event and the projection carry
// the distinct set.
func Test_Escalate_DuplicateTargetsCollapsed(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	target := seedUser(t, db, models.RoleAdmin)
	id := seedComplaint(t, db, employee, models.StatusUnderReview)

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, app, "POST", "/api/complaints/"+id.String()+"/escalate", fiber.Map{
		"targets": []string{target.String(), target.String()},
		"reason":  "same senior reviewer listed twice by the client UI",
	})
	if status != fiber.StatusOK {
		t.Fatalf("escalate = %d, body = %s", status, raw)
	}

	var ev models.EscalationEvent
	if err := db.First(&ev, "complaint_id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if len(ev.EscalatedToIDs) != 1 || ev.EscalatedToIDs[0] != target.String() {
		t.Fatalf("event targets = %v, want one %s", ev.EscalatedToIDs, target)
	}

	var cs models.Complaint
	if err := db.First(&cs, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if len(cs.EscalatedTo) != 1 {
		t.Fatalf("projection targets = %v, want one entry", cs.EscalatedTo)
	}
}

// Rejecting requires a substantive note.
func Test_Reject_RequiresNote(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	id := seedComplaint(t, db, employee, models.StatusSubmitted)

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, _ := do(t, app, "POST", "/api/complaints/"+id.String()+"/reject", fiber.Map{"note": "no"})
	if status != fiber.StatusBadRequest && status != fiber.StatusUnprocessableEntity {
		t.Fatalf("short note reject = %d", status)
	}

	status, _ = do(t, app, "POST", "/api/complaints/"+id.String()+"/reject", fiber.Map{
		"note": "duplicate of CPL-2026-00001",
	})
	if status != fiber.StatusOK {
		t.Fatalf("reject = %d", status)
	}
	var cs models.Complaint
	if err := db.First(&cs, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if cs.Status != models.StatusRejected {
		t.Fatalf("status = %s", cs.Status)
	}
}

// Closed is reachable only from resolved.
func Test_Close_OnlyFromResolved(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	submitted := seedComplaint(t, db, employee, models.StatusSubmitted)
	resolved := seedComplaint(t, db, employee, models.StatusResolved)

	app := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, _ := do(t, app, "POST", "/api/complaints/"+submitted.String()+"/close", nil)
	if status != fiber.StatusConflict {
		t.Fatalf("close submitted = %d, want 409", status)
	}

	status, _ = do(t, app, "POST", "/api/complaints/"+resolved.String()+"/close", nil)
	if status != fiber.StatusOK {
		t.Fatalf("close resolved = %d", status)
	}
	var cs models.Complaint
	if err := db.First(&cs, "id = ?", resolved).Error; err != nil {
		t.Fatal(err)
	}
	if cs.Status != models.StatusClosed || cs.ClosedAt == nil {
		t.Fatalf("closed state wrong: %+v", cs)
	}
}

// Driving a complaint through its whole life leaves a ledger where every
// consecutive pair of entries is a legal transition.
func Test_Ledger_WalkIsAlwaysValid(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)

	empApp := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))
	hrApp := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))

	incident := time.Now().Add(-72 * time.Hour)
	status, raw := do(t, empApp, "POST", "/api/complaints", fiber.Map{
		"title":         "Persistent overtime pressure",
		"categories":    []string{"workload"},
		"priority":      "high",
		"description":   "Weekly hours keep growing without sign-off.",
		"incident_date": incident,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("create = %d, body = %s", status, raw)
	}
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatal(err)
	}
	id := created.ID.String()

	steps := []struct {
		app     *fiber.App
		path    string
		payload any
	}{
		{empApp, "/submit", nil},
		{hrApp, "/acknowledge", nil},
		{hrApp, "/status", fiber.Map{"status": "under_review"}},
		{hrApp, "/status", fiber.Map{"status": "investigating"}},
		{hrApp, "/resolve", fiber.Map{"summary": "Workload rebalanced across the team."}},
		{hrApp, "/close", nil},
	}
	for _, s := range steps {
		st, body := do(t, s.app, "POST", "/api/complaints/"+id+s.path, s.payload)
		if st != fiber.StatusOK {
			t.Fatalf("%s = %d, body = %s", s.path, st, body)
		}
	}

	var ledger []models.StatusHistory
	if err := db.Where("complaint_id = ?", id).Order("created_at ASC").Find(&ledger).Error; err != nil {
		t.Fatal(err)
	}
	if len(ledger) != len(steps)+1 {
		t.Fatalf("ledger entries = %d, want %d", len(ledger), len(steps)+1)
	}
	if ledger[0].FromStatus != nil || ledger[0].ToStatus != models.StatusDraft {
		t.Fatalf("first entry wrong: %+v", ledger[0])
	}
	for i := 1; i < len(ledger); i++ {
		if ledger[i].FromStatus == nil {
			t.Fatalf("entry %d has nil from_status", i)
		}
		if *ledger[i].FromStatus != ledger[i-1].ToStatus {
			t.Fatalf("entry %d does not chain: %v -> %v after %v",
				i, *ledger[i].FromStatus, ledger[i].ToStatus, ledger[i-1].ToStatus)
		}
		if !workflow.CanTransition(*ledger[i].FromStatus, ledger[i].ToStatus) {
			t.Fatalf("entry %d records an illegal move %v -> %v",
				i, *ledger[i].FromStatus, ledger[i].ToStatus)
		}
	}
}

// Feedback lands on the resolution without touching the resolver's authorship.
func Test_Feedback_PreservesResolver(t *testing.T) {
	db := openTestDB(t)
	employee := seedUser(t, db, models.RoleEmployee)
	hr := seedUser(t, db, models.RoleHR)
	id := seedComplaint(t, db, employee, models.StatusUnderReview)

	hrApp := newTestApp(NewHandler(db, nil), hr, string(models.RoleHR))
	status, raw := do(t, hrApp, "POST", "/api/complaints/"+id.String()+"/resolve", fiber.Map{
		"summary": "Seating changed, follow-up scheduled.",
	})
	if status != fiber.StatusOK {
		t.Fatalf("resolve = %d, body = %s", status, raw)
	}

	empApp := newTestApp(NewHandler(db, nil), employee, string(models.RoleEmployee))
	status, raw = do(t, empApp, "POST", "/api/complaints/"+id.String()+"/resolution/feedback", fiber.Map{
		"satisfaction_rating": 4,
		"feedback":            "Took a while but the outcome is fair.",
	})
	if status != fiber.StatusOK {
		t.Fatalf("feedback = %d, body = %s", status, raw)
	}

	var res models.Resolution
	if err := db.First(&res, "complaint_id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	if res.ResolvedByID != hr {
		t.Fatalf("resolver changed: %s", res.ResolvedByID)
	}
	if res.SatisfactionRating == nil || *res.SatisfactionRating != 4 ||
		res.FeedbackByID == nil || *res.FeedbackByID != employee || res.FeedbackAt == nil {
		t.Fatalf("feedback not recorded: %+v", res)
	}
}

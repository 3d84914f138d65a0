// @title           HR Complaint Case API
// @version         1.0
// @description     Workflow backend for HR complaint handling: employees file cases, HR moves them through a controlled lifecycle, every status change lands in an append-only ledger.
// @contact.name    Aldo Rifki Putra
// @contact.email   aldoetobex@gmail.com
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/aldoetobex/hr-complaint-backend/pkg/database"
	"github.com/aldoetobex/hr-complaint-backend/pkg/models"

	"github.com/aldoetobex/hr-complaint-backend/internal/auth"
	"github.com/aldoetobex/hr-complaint-backend/internal/complaints"
	"github.com/aldoetobex/hr-complaint-backend/internal/reminders"
	"github.com/aldoetobex/hr-complaint-backend/internal/storage"
)

func main() {
	_ = godotenv.Load()

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{},
		&models.Complaint{},
		&models.ComplaintSubject{},
		&models.SubjectWitness{},
		&models.StatusHistory{},
		&models.EscalationEvent{},
		&models.Reminder{},
		&models.Resolution{},
		&models.ComplaintComment{},
		&models.ComplaintDocument{},
		&models.ComplaintSequence{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Storage helper
	sb := storage.NewSupabase() // uses SUPABASE_URL / SUPABASE_SECRET_KEY / SUPABASE_BUCKET

	// Complaints
	compH := complaints.NewHandler(db, sb)
	api.Post("/complaints", auth.RequireAuth(), compH.Create)
	api.Get("/complaints/mine", auth.RequireAuth(), compH.ListMine)
	api.Get("/complaints", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), compH.List)
	api.Get("/complaints/:id", auth.RequireAuth(), compH.GetDetail)
	api.Patch("/complaints/:id", auth.RequireAuth(), compH.Update)
	api.Delete("/complaints/:id", auth.RequireAuth(), compH.Delete)

	// Lifecycle transitions. Submit is for the complainant; the rest
	// are reviewer moves (ownership is still checked in the handlers).
	api.Post("/complaints/:id/submit", auth.RequireAuth(), compH.Submit)
	api.Post("/complaints/:id/acknowledge", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), compH.Acknowledge)
	api.Post("/complaints/:id/status", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), compH.Advance)
	api.Post("/complaints/:id/escalate", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), compH.Escalate)
	api.Post("/complaints/:id/resolve", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), compH.Resolve)
	api.Post("/complaints/:id/close", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), compH.Close)
	api.Post("/complaints/:id/reject", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), compH.Reject)

	// Subjects (accused parties) + their witnesses
	api.Post("/complaints/:id/subjects", auth.RequireAuth(), compH.AddSubject)
	api.Get("/complaints/:id/subjects", auth.RequireAuth(), compH.ListSubjects)
	api.Patch("/subjects/:subjectID", auth.RequireAuth(), compH.UpdateSubject)
	api.Delete("/subjects/:subjectID", auth.RequireAuth(), compH.DeleteSubject)

	// Resolution record
	api.Get("/complaints/:id/resolution", auth.RequireAuth(), compH.GetResolution)
	api.Patch("/complaints/:id/resolution", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), compH.UpdateResolution)
	api.Post("/complaints/:id/resolution/feedback", auth.RequireAuth(), compH.RecordFeedback)

	// Comments
	api.Post("/complaints/:id/comments", auth.RequireAuth(), compH.AddComment)
	api.Get("/complaints/:id/comments", auth.RequireAuth(), compH.ListComments)
	api.Delete("/comments/:commentID", auth.RequireAuth(), compH.DeleteComment)

	// Evidence documents
	api.Post("/complaints/:id/documents", auth.RequireAuth(), compH.UploadDocument)
	api.Get("/documents/:docID/signed-url", auth.RequireAuth(), compH.SignedDocumentURL)
	api.Delete("/documents/:docID", auth.RequireAuth(), compH.DeleteDocument)

	// Reminders; the due poll is what an external dispatcher hits
	remH := reminders.NewHandler(db)
	api.Post("/complaints/:id/reminders", auth.RequireAuth(), remH.Create)
	api.Get("/complaints/:id/reminders", auth.RequireAuth(), remH.ListByComplaint)
	api.Get("/reminders/due", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), remH.Due)
	api.Post("/reminders/:reminderID/sent", auth.RequireAuth(), auth.RequireAnyRole("hr", "admin"), remH.MarkSent)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server running on :" + port)
	log.Fatal(app.Listen(":" + port))
}

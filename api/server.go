/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. CORS:        Cross-origin requests for the HR frontend
  2. RequestID:   Unique ID per request for tracing
  3. httplog:     Structured request logging (slog JSON, ECS schema)
  4. CleanPath:   Collapses double slashes before routing
  5. Recoverer:   Panic recovery (500 instead of crash)
  6. Heartbeat:   GET /healthz for load balancers

ROUTE GROUPS:
  /api/users/*        Users, schedules, hours, records, balances, ledger
  /api/leave/*        Leave decisions
  /api/recoveries/*   Recovery decisions
  /api/admin/*        Batch jobs and snapshot repair

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

type RouterOptions struct {
	AllowedOrigins []string
	Env            string
	Version        string

	// LogOutput receives request logs. Defaults to stdout.
	LogOutput io.Writer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stdout
	}

	logFormat := httplog.SchemaECS.Concise(false)
	logger := slog.New(slog.NewJSONHandler(opts.LogOutput, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "hoursbank"),
		slog.String("version", opts.Version),
		slog.String("env", opts.Env),
	)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))
	r.Use(middleware.CleanPath)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetUser)
				r.Get("/schedule", h.GetSchedule)
				r.Put("/schedule", h.PutSchedule)

				r.Get("/hours", h.GetHours)
				r.Get("/records", h.ListRecords)
				r.Get("/records/{date}", h.GetRecord)
				r.Put("/records/{date}", h.CorrectRecord)
				r.Post("/records/{date}/finalize", h.FinalizeRecord)

				r.Get("/balance", h.GetTotalBalance)
				r.Get("/balances", h.ListBalances)
				r.Get("/balances/{category}", h.GetBalance)
				r.Get("/ledger", h.ListEntries)
				r.Post("/ledger", h.AppendEntry)
				r.Post("/credits", h.AddManualCredit)
				r.Post("/overtime", h.Overtime)
				r.Get("/export", h.ExportYear)

				r.Get("/leave", h.ListLeave)
				r.Post("/leave", h.SubmitLeave)
				r.Post("/recoveries", h.SubmitRecovery)
			})
		})

		r.Route("/leave/{id}", func(r chi.Router) {
			r.Get("/", h.GetLeave)
			r.Post("/approve", h.ApproveLeave)
			r.Post("/reject", h.RejectLeave)
			r.Post("/cancel", h.CancelLeave)
		})

		r.Post("/recoveries/{id}/decision", h.DecideRecovery)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/finalize", h.FinalizeAll)
			r.Post("/recoveries/sweep", h.SweepRecoveries)
			r.Post("/accrual", h.RunAccrual)
			r.Post("/carryover", h.RunCarryover)
			r.Post("/snapshots/verify", h.VerifySnapshots)
			r.Post("/snapshots/rebuild", h.RebuildSnapshot)
			r.Get("/jobs", h.ListJobRuns)
		})
	})

	return r
}

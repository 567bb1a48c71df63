package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/grantline-io/be-grants/internal/approval"
	"github.com/grantline-io/be-grants/internal/audit"
	"github.com/grantline-io/be-grants/internal/client"
	"github.com/grantline-io/be-grants/internal/config"
	"github.com/grantline-io/be-grants/internal/database"
	"github.com/grantline-io/be-grants/internal/handler"
	"github.com/grantline-io/be-grants/internal/idempotency"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/middleware"
	"github.com/grantline-io/be-grants/internal/notify"
	"github.com/grantline-io/be-grants/internal/repository"
	"github.com/grantline-io/be-grants/internal/service"
	"github.com/grantline-io/be-grants/internal/workflow"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting Grants Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLife,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS carries outgoing email notifications; the service runs without it,
	// with email jobs failing until the broker is back.
	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, email delivery disabled")
		} else {
			defer natsConn.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Repositories
	budgetRepo := repository.NewBudgetRepository(db)
	contractRepo := repository.NewContractRepository(db)
	policyRepo := repository.NewApprovalPolicyRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	notifRepo := repository.NewNotificationRepository(db)

	// Workflow engine
	ledger := idempotency.NewLedger()
	recorder := audit.NewRecorder()
	engine := workflow.NewEngine(db, ledger, recorder, outboxRepo, log)
	engine.Register(repository.EntityTypeBudget, budgetRepo, service.BudgetMachine())
	engine.Register(repository.EntityTypeContract, contractRepo, service.ContractMachine())

	// Approval providers
	approverClient := client.NewHTTPExternalApprover(cfg.Clients.ApproverURL)
	providers := approval.NewRegistry(
		approval.NewInternalProvider(approvalRepo, log),
		approval.NewExternalProvider(approvalRepo, approverClient, log),
	)

	// Services
	policyService := service.NewPolicyService(policyRepo, log)
	budgetService := service.NewBudgetService(engine, budgetRepo, approvalRepo, policyService, providers, recorder, outboxRepo, log)
	contractService := service.NewContractService(engine, contractRepo, budgetRepo, approvalRepo, policyService, providers, budgetService, recorder, outboxRepo, log)
	approvalService := service.NewApprovalService(db, ledger, approvalRepo, policyService, providers, recorder, outboxRepo, log)
	approvalService.RegisterApplier(repository.EntityTypeBudget, budgetService)
	approvalService.RegisterApplier(repository.EntityTypeContract, contractService)

	// Notification pipeline
	identityClient := client.NewHTTPIdentityClient(cfg.Clients.IdentityURL)
	audience := notify.NewAudience(identityClient)
	settings := notify.NewSettings(notifRepo)
	if err := settings.Reload(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load notification settings")
	}
	mailer := client.NewMailPublisher(natsConn, log.Logger)

	fanout := notify.NewFanout(db, outboxRepo, notifRepo, audience, settings, cfg.Workers.BatchSize, log)
	delivery := notify.NewDelivery(notifRepo, settings, mailer, cfg.Workers.BatchSize, log)
	go fanout.Run(ctx, cfg.Workers.FanoutInterval)
	go delivery.Run(ctx, cfg.Workers.DeliveryInterval)
	log.Info().
		Dur("fanout_interval", cfg.Workers.FanoutInterval).
		Dur("delivery_interval", cfg.Workers.DeliveryInterval).
		Msg("Notification workers started")

	// HTTP routes
	budgetHandler := handler.NewBudgetHandler(budgetService, log)
	contractHandler := handler.NewContractHandler(contractService, log)
	approvalHandler := handler.NewApprovalHandler(approvalService, log)
	policyHandler := handler.NewPolicyHandler(policyService, log)
	auditHandler := handler.NewAuditHandler(auditRepo, log)
	notifHandler := handler.NewNotificationHandler(notifRepo, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("POST /api/v1/budgets", budgetHandler.Create)
	mux.HandleFunc("GET /api/v1/budgets", budgetHandler.List)
	mux.HandleFunc("GET /api/v1/budgets/{id}", budgetHandler.Get)
	mux.HandleFunc("PUT /api/v1/budgets/{id}", budgetHandler.Update)
	mux.HandleFunc("POST /api/v1/budgets/{id}/submit", budgetHandler.Submit)
	mux.HandleFunc("POST /api/v1/budgets/{id}/request-revision", budgetHandler.RequestRevision)
	mux.HandleFunc("POST /api/v1/budgets/{id}/reopen", budgetHandler.Reopen)
	mux.HandleFunc("POST /api/v1/budgets/{id}/close", budgetHandler.Close)

	mux.HandleFunc("POST /api/v1/contracts", contractHandler.Create)
	mux.HandleFunc("GET /api/v1/contracts", contractHandler.List)
	mux.HandleFunc("GET /api/v1/contracts/{id}", contractHandler.Get)
	mux.HandleFunc("POST /api/v1/contracts/{id}/generate", contractHandler.Generate)
	mux.HandleFunc("POST /api/v1/contracts/{id}/submit-approval", contractHandler.SubmitApproval)
	mux.HandleFunc("POST /api/v1/contracts/{id}/send-for-sign", contractHandler.SendForSign)
	mux.HandleFunc("POST /api/v1/contracts/{id}/sign", contractHandler.Sign)
	mux.HandleFunc("POST /api/v1/contracts/{id}/activate", contractHandler.Activate)
	mux.HandleFunc("POST /api/v1/contracts/{id}/cancel", contractHandler.Cancel)

	mux.HandleFunc("GET /api/v1/approvals", approvalHandler.ListPending)
	mux.HandleFunc("GET /api/v1/approvals/{id}", approvalHandler.Get)
	mux.HandleFunc("POST /api/v1/approvals/{id}/decide", approvalHandler.Decide)

	mux.HandleFunc("POST /api/v1/policies", policyHandler.Create)
	mux.HandleFunc("GET /api/v1/policies", policyHandler.List)
	mux.HandleFunc("GET /api/v1/policies/{id}", policyHandler.Get)
	mux.HandleFunc("PUT /api/v1/policies/{id}", policyHandler.Update)
	mux.HandleFunc("DELETE /api/v1/policies/{id}", policyHandler.Deactivate)

	mux.HandleFunc("GET /api/v1/audit", auditHandler.GetByEntity)
	mux.HandleFunc("GET /api/v1/notifications/inbox", notifHandler.ListInbox)

	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.AllowedOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel() // stops the notification workers

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

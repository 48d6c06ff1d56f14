package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chesshelper/internal/scheduler"
	"chesshelper/internal/types"
)

// QueueService is the producer/admin queue surface. Satisfied by
// *queue.Service.
type QueueService interface {
	Enqueue(ctx context.Context, req types.EnqueueRequest) (*types.QueueItem, error)
	Get(ctx context.Context, id string) (*types.QueueItem, error)
	Cancel(ctx context.Context, id string) error
	RetryFailed(ctx context.Context, id, policyName string) (*types.QueueItem, error)
	List(ctx context.Context, filter types.ListFilter) ([]*types.QueueItem, error)
	Attempts(ctx context.Context, id string) ([]*types.RetryAttempt, error)
	Statistics(ctx context.Context) (types.QueueStatistics, error)
}

// BatchProcessor triggers on-demand queue runs. Satisfied by
// *delivery.Processor.
type BatchProcessor interface {
	ProcessQueue(ctx context.Context, priority *types.Priority, maxBatch int, dryRun bool) (*types.BatchResult, error)
}

// HealthChecker reports queue health. Satisfied by *health.Monitor.
type HealthChecker interface {
	Check(ctx context.Context) types.HealthStatus
}

// CleanupRunner triggers on-demand retention runs. Satisfied by
// *scheduler.Cleanup.
type CleanupRunner interface {
	Run(ctx context.Context, dryRun bool) (scheduler.CleanupResult, error)
}

// SuppressionAdmin is the administrative suppression surface. Satisfied by
// *db.SuppressionRepository.
type SuppressionAdmin interface {
	List(ctx context.Context, limit int) ([]*types.SuppressionEntry, error)
	Delete(ctx context.Context, email string) error
}

// Server wires the HTTP routes over the worker's services.
type Server struct {
	queue        QueueService
	processor    BatchProcessor
	health       HealthChecker
	cleanup      CleanupRunner
	suppressions SuppressionAdmin
	metrics      http.Handler
	logger       types.Logger

	adminAPIKey  types.SecretString
	maxBatchSize int
	buildVersion string

	router chi.Router
}

// ServerConfig bundles the server's wiring inputs.
type ServerConfig struct {
	Queue        QueueService
	Processor    BatchProcessor
	Health       HealthChecker
	Cleanup      CleanupRunner
	Suppressions SuppressionAdmin
	Metrics      http.Handler
	Logger       types.Logger

	AdminAPIKey  types.SecretString
	MaxBatchSize int
	BuildVersion string
}

// NewServer creates the HTTP server and mounts all routes.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		queue:        cfg.Queue,
		processor:    cfg.Processor,
		health:       cfg.Health,
		cleanup:      cfg.Cleanup,
		suppressions: cfg.Suppressions,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		adminAPIKey:  cfg.AdminAPIKey,
		maxBatchSize: cfg.MaxBatchSize,
		buildVersion: cfg.BuildVersion,
		router:       chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// mountRoutes registers middleware and routes. Health and metrics are open;
// everything under /admin requires the API key.
func (s *Server) mountRoutes() {
	s.router.Use(s.recoverer)
	s.router.Use(requestID)
	s.router.Use(s.requestLogger)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuth)

		r.Route("/queue", func(r chi.Router) {
			r.Post("/process", s.handleProcessNow)
			r.Post("/cleanup", s.handleCleanup)
			r.Get("/stats", s.handleStats)

			r.Route("/items", func(r chi.Router) {
				r.Post("/", s.handleEnqueue)
				r.Get("/", s.handleListItems)
				r.Get("/{id}", s.handleGetItem)
				r.Get("/{id}/attempts", s.handleItemAttempts)
				r.Post("/{id}/retry", s.handleRetryItem)
				r.Post("/{id}/cancel", s.handleCancelItem)
			})
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", s.handleListSuppressions)
			r.Delete("/{email}", s.handleDeleteSuppression)
		})
	})
}

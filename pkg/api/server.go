package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	gocache "github.com/patrickmn/go-cache"

	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/dispatch"
	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/metrics"
	"github.com/cuemby/behemoth/pkg/playback"
	"github.com/cuemby/behemoth/pkg/registry"
	"github.com/cuemby/behemoth/pkg/security"
	"github.com/cuemby/behemoth/pkg/statusstream"
	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
)

// BatchStarter launches a plan batch in the background.
type BatchStarter interface {
	StartBatch(ctx context.Context, plan *types.Plan, executions []*types.Execution, users []string) (string, error)
}

// Config holds API server settings.
type Config struct {
	// DataDir is where uploaded blobs and command output blobs live.
	DataDir string
	// SyncRequiredParticipants is the approver quorum for sync batches.
	SyncRequiredParticipants int
	// SyncWaitIdle is how long collected approvals stay valid.
	SyncWaitIdle time.Duration
}

// Server is the HTTP control API: plan and execution lifecycle, the agent
// callback endpoint, and the live task log stream over websocket.
type Server struct {
	cfg      Config
	store    storage.Store
	cmds     cmdstore.Store
	starter  BatchStarter
	machine  *dispatch.StateMachine
	cache    *dispatch.StatusCache
	recorder *playback.Recorder
	stream   *statusstream.Stream
	broker   *statusstream.Broker
	tokens   *security.TokenManager
	registry *registry.Registry

	// approvers accumulates distinct sync-task participants per plan.
	approvers *gocache.Cache
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer wires the API over its collaborators.
func NewServer(
	cfg Config,
	store storage.Store,
	cmds cmdstore.Store,
	starter BatchStarter,
	machine *dispatch.StateMachine,
	cache *dispatch.StatusCache,
	recorder *playback.Recorder,
	stream *statusstream.Stream,
	broker *statusstream.Broker,
	tokens *security.TokenManager,
	reg *registry.Registry,
) *Server {
	if cfg.SyncRequiredParticipants <= 0 {
		cfg.SyncRequiredParticipants = 2
	}
	if cfg.SyncWaitIdle <= 0 {
		cfg.SyncWaitIdle = time.Hour
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		cmds:      cmds,
		starter:   starter,
		machine:   machine,
		cache:     cache,
		recorder:  recorder,
		stream:    stream,
		broker:    broker,
		tokens:    tokens,
		registry:  reg,
		approvers: gocache.New(cfg.SyncWaitIdle, 10*time.Minute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Operators attach from the web console on another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Get("/ws/tasks/{taskID}", s.handleTaskStream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)

		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/", s.handleCreateWorker)
			r.Put("/{id}", s.handleUpdateWorker)
			r.Delete("/{id}", s.handleDeleteWorker)
		})

		r.Route("/assets", func(r chi.Router) {
			r.Get("/", s.handleListAssets)
			r.Post("/", s.handleCreateAsset)
			r.Delete("/{id}", s.handleDeleteAsset)
		})

		r.Route("/environments", func(r chi.Router) {
			r.Get("/", s.handleListEnvironments)
			r.Post("/", s.handleCreateEnvironment)
			r.Delete("/{id}", s.handleDeleteEnvironment)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Post("/", s.handleCreatePlan)
			r.Get("/{id}", s.handleGetPlan)
			r.Delete("/{id}", s.handleDeletePlan)
			r.Post("/{id}/start", s.handleStartPlan)
			r.Post("/{id}/start-sync-task", s.handleStartSyncTask)
			r.Post("/{id}/upload", s.handleUploadCommandFile)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.handleListExecutions)
			r.Get("/{id}", s.handleGetExecution)
			r.Get("/{id}/commands", s.handleListCommands)
			r.Post("/{id}/operate_task", s.handleOperateTask)
			r.Delete("/{id}/commands/{commandID}", s.handleDeleteCommand)

			// Agent callback, bearer-token authorized.
			r.With(s.requireToken).Patch("/{id}/command", s.handleCommandCallback)
		})
	})

	return r
}

// Start serves the API on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("HTTP API listening")
	metrics.UpdateComponent("api", true, "")

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	metrics.UpdateComponent("api", false, "shutting down")
	return s.http.Shutdown(ctx)
}

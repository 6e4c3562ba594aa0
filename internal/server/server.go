package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/muazhussain/Judgebox-Judge/internal/api"
	"github.com/muazhussain/Judgebox-Judge/internal/config"
	"github.com/muazhussain/Judgebox-Judge/internal/database"
	"github.com/muazhussain/Judgebox-Judge/internal/judge"
	"github.com/muazhussain/Judgebox-Judge/internal/languages"
	"github.com/muazhussain/Judgebox-Judge/internal/limiter"
	"github.com/muazhussain/Judgebox-Judge/internal/problems"
	"github.com/muazhussain/Judgebox-Judge/internal/queue"
	"github.com/muazhussain/Judgebox-Judge/internal/sandbox"
	"github.com/muazhussain/Judgebox-Judge/internal/worker"
)

type Server struct {
	conf       *config.Config
	logger     *zerolog.Logger
	httpServer *http.Server
	store      *database.Store
	registry   *languages.Registry
	runtime    sandbox.Runtime
	workers    []*worker.Worker
	cancelFunc context.CancelFunc
}

func New(conf *config.Config, logger *zerolog.Logger) (*Server, error) {
	registry, err := buildRegistry(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to build language registry: %w", err)
	}

	rt, err := sandbox.NewDockerRuntime(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to container runtime: %w", err)
	}

	launcher := sandbox.NewLauncher(rt, logger)
	monitor := sandbox.NewMonitor(rt, logger, time.Duration(conf.Judge.SampleIntervalMs)*time.Millisecond)
	releaser := sandbox.NewReleaser(rt, logger, time.Duration(conf.Judge.CleanupTimeoutSec)*time.Second)

	j := judge.New(registry, launcher, monitor, releaser, logger, judge.Options{
		MaxConcurrentSandboxes: conf.Judge.MaxConcurrentSandboxes,
		MaxProcesses:           conf.Judge.MaxProcesses,
		CPUQuota:               conf.Judge.CPUQuota,
	})

	var store *database.Store
	var archive api.ResultArchive
	if conf.Db.Enabled {
		store, err = database.New(conf, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			store.Close()
			return nil, err
		}
		archive = store
	}

	q := queue.NewManager(conf.Judge.QueueCapacity)

	fetcher := problems.NewClient(conf.ProblemStore.BaseURL, time.Duration(conf.ProblemStore.TimeoutSec)*time.Second)

	rl := limiter.New(conf.Limiter.GlobalRPS, conf.Limiter.PerIPRPS, conf.Limiter.PerIPBurst, conf.Limiter.MaxConcurrent)
	rl.StartCleanup(5*time.Minute, 15*time.Minute)

	handler := api.NewHandler(q, registry, fetcher, archive, api.Limits{
		TimeLimitMs:      conf.Judge.DefaultTimeLimitMs,
		MemoryLimitBytes: conf.Judge.DefaultMemoryLimitMB * 1024 * 1024,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /languages", handler.Languages)
	mux.HandleFunc("GET /submissions/{id}", handler.Submission)
	mux.HandleFunc("POST /judge", rl.Middleware(handler.Judge))

	httpServer := &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      mux,
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	workers := make([]*worker.Worker, conf.Judge.Workers)
	for i := range workers {
		workers[i] = worker.New(i, j, q, logger)
	}

	return &Server{
		conf:       conf,
		logger:     logger,
		httpServer: httpServer,
		store:      store,
		registry:   registry,
		runtime:    rt,
		workers:    workers,
	}, nil
}

func buildRegistry(conf *config.Config) (*languages.Registry, error) {
	profiles := languages.Defaults()
	for _, lc := range conf.Languages {
		profiles = append(profiles, languages.Profile{
			ID:             lc.ID,
			Name:           lc.Name,
			Image:          lc.Image,
			SourceFile:     lc.SourceFile,
			CompileCommand: lc.CompileCommand,
			RunCommand:     lc.RunCommand,
		})
	}
	return languages.NewRegistry(profiles...)
}

func (s *Server) Start() error {
	s.logger.Info().Str("port", s.conf.Server.Port).Msg("starting HTTP server")

	if err := s.ensureImages(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure sandbox images: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	for _, w := range s.workers {
		go w.Start(ctx)
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) ensureImages(ctx context.Context) error {
	for _, img := range s.registry.Images() {
		if err := s.runtime.EnsureImage(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	if s.store != nil {
		s.store.Close()
	}
	return nil
}

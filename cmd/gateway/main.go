package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"aerogate/pkg/access"
	"aerogate/pkg/approvals"
	"aerogate/pkg/audit"
	"aerogate/pkg/auth"
	"aerogate/pkg/config"
	"aerogate/pkg/eventbus"
	"aerogate/pkg/evidence"
	"aerogate/pkg/httpx"
	"aerogate/pkg/metrics"
	"aerogate/pkg/opsdata"
	"aerogate/pkg/policy"
	"aerogate/pkg/ratelimit"
	"aerogate/pkg/store"
	"aerogate/pkg/stream"
	"aerogate/pkg/telemetry"
	"aerogate/pkg/toolgate"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Server holds every wired subsystem behind the HTTP API.
type Server struct {
	Cfg       config.Config
	DB        *opsdata.DB
	Cache     store.Cache
	Metrics   *metrics.Registry
	Policy    *policy.Engine
	Evidence  *evidence.Enforcer
	Access    *access.Engine
	Gateway   *toolgate.Gateway
	Audit     *audit.System
	Approvals *approvals.Manager
	Events    *stream.Hub
}

type initTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type openRedisFunc func(ctx context.Context, opts store.RedisOptions) (*redis.Client, error)
type listenFunc func(server *http.Server) error

// Testable variables for main()
var (
	logFatalf     = log.Fatalf
	initTelemetry = initTelemetryFunc(telemetry.Init)
	openRedisFn   = openRedisFunc(store.NewRedis)
	listenFn      = listenFunc(func(server *http.Server) error { return server.ListenAndServe() })
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	if err := runGateway(*configPath, initTelemetry, openRedisFn, listenFn); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(configPath string, initTel initTelemetryFunc, openRedis openRedisFunc, listen listenFunc) error {
	ctx := context.Background()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdown, err := initTel(ctx, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	db, err := opsdata.Open(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("opsdata: %w", err)
	}
	defer db.Close()

	redisClient, err := openRedis(ctx, store.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedis(redisClient, cfg.RateLimitWindow)
	} else {
		limiter = ratelimit.NewSlidingWindow(cfg.RateLimitWindow)
	}

	var writer *audit.Writer
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Printf("postgres unavailable, trace archiving disabled: %v", err)
		} else {
			defer pool.Close()
			writer, err = audit.NewWriter(ctx, pool)
			if err != nil {
				log.Printf("postgres schema unavailable, trace archiving disabled: %v", err)
				writer = nil
			}
		}
	}

	var publisher *eventbus.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err = eventbus.NewKafkaPublisher(eventbus.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			log.Printf("kafka unavailable, trace publishing disabled: %v", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	s, err := newServer(cfg, db, store.NewCache(ctx, redisClient), limiter, writer, publisher)
	if err != nil {
		return err
	}

	addr := cfg.Addr
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// newServer wires the subsystems together. The tool gateway gets the default
// operational tool set; policy and access start from the reference tables.
func newServer(cfg config.Config, db *opsdata.DB, cache store.Cache, limiter ratelimit.Limiter, writer *audit.Writer, publisher *eventbus.Publisher) (*Server, error) {
	engine, err := policy.New(policy.Default()...)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	hub := stream.NewHub()
	auditSys := audit.New(audit.Options{Hub: hub, Writer: writer, Publisher: publisher})

	gateway := toolgate.New(toolgate.Options{Limiter: limiter, Cache: cache})
	for _, def := range toolgate.DefaultTools(db) {
		if err := gateway.Register(def); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	mgr, err := approvals.NewManager(approvals.Options{
		Audit:   auditSys,
		Gateway: gateway,
		Policy:  engine,
		Hub:     hub,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		Cfg:       cfg,
		DB:        db,
		Cache:     cache,
		Metrics:   metrics.NewRegistry(),
		Policy:    engine,
		Evidence:  evidence.New(),
		Access:    access.New(access.Default()),
		Gateway:   gateway,
		Audit:     auditSys,
		Approvals: mgr,
		Events:    hub,
	}, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(s.Cfg.CORSOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware(s.Cfg.ServiceName))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway"})
	})

	authed := chi.NewRouter()
	authed.Use(auth.Middleware(
		s.Cfg.Auth.Mode,
		s.Cfg.Auth.Secret,
		auth.WithIssuer(s.Cfg.Auth.Issuer),
		auth.WithAudience(s.Cfg.Auth.Audience),
	))
	authed.Get("/metrics", s.withStreamGauges(s.Metrics.Handler()))
	authed.Get("/metrics/prometheus", s.withStreamGauges(s.Metrics.PrometheusHandler()))

	authed.Post("/v1/policy/check", s.handlePolicyCheck)
	authed.Post("/v1/policy/update", s.handlePolicyUpdate)
	authed.Post("/v1/policy/rollback", s.handlePolicyRollback)
	authed.Get("/v1/policy/{tier}", s.handleActivePolicy)

	authed.Post("/v1/tools/invoke", s.handleToolInvoke)
	authed.Post("/v1/tools/rollback", s.handleToolRollback)
	authed.Get("/v1/tools/metrics", s.handleToolMetrics)
	authed.Get("/v1/tools/history", s.handleToolHistory)

	authed.Post("/v1/evidence/validate", s.handleEvidenceValidate)
	authed.Post("/v1/access/check", s.handleAccessCheck)

	authed.Post("/v1/approvals", s.handleApprovalRequest)
	authed.Get("/v1/approvals", s.handleApprovalList)
	authed.Get("/v1/approvals/{request_id}", s.handleApprovalGet)
	authed.Post("/v1/approvals/{request_id}/approve", s.handleApprovalDecide)

	authed.Post("/v1/traces", s.handleTraceCreate)
	authed.Get("/v1/traces", s.handleTraceHistory)
	authed.Get("/v1/traces/{trace_id}", s.handleTraceGet)
	authed.Post("/v1/traces/{trace_id}/events", s.handleTraceEvent)
	authed.Post("/v1/traces/{trace_id}/complete", s.handleTraceComplete)
	authed.Post("/v1/traces/{trace_id}/replay", s.handleTraceReplay)

	authed.Get("/v1/reports/compliance", s.handleComplianceReport)
	authed.Get("/v1/stream", s.streamEvents)
	r.Mount("/", authed)
	return r
}

// withStreamGauges refreshes the hub gauges before serving a metrics dump.
func (s *Server) withStreamGauges(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.Events.Stats()
		s.Metrics.SetGauge("stream_subscribers", float64(st.Subscribers))
		s.Metrics.SetGauge("stream_dropped_events", float64(st.Dropped))
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		srv.Metrics.Observe(path, rec.code, elapsed)
		srv.Metrics.ObserveLatency(path, elapsed)
	})
}

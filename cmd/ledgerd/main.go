package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/recordchain/internal/api/handler"
	"github.com/jmerrifield20/recordchain/internal/auth"
	"github.com/jmerrifield20/recordchain/internal/backend"
	"github.com/jmerrifield20/recordchain/internal/config"
	"github.com/jmerrifield20/recordchain/internal/health"
	"github.com/jmerrifield20/recordchain/internal/records"
	DEATH "github.com/vrecan/death/v3"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	v := config.New("ledgerd")
	found, err := config.Read(v)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn("no config file found, using defaults and env vars")
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Ledger + content store ───────────────────────────────────────────────
	b, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck

	if err := b.Ledger.Validate(); err != nil {
		handler.RecordValidationFailure()
		logger.Warn("ledger integrity check FAILED", zap.Error(err))
	} else {
		tip, _ := b.Ledger.Tip()
		logger.Info("ledger verified",
			zap.Int("blocks", b.Ledger.Len()),
			zap.String("tip", tip),
			zap.Int("difficulty", b.Ledger.Difficulty()),
			zap.String("backend", cfg.Ledger.Backend),
		)
	}

	// ── Auth ─────────────────────────────────────────────────────────────────
	var tokens *auth.TokenIssuer
	if cfg.Auth.Secret != "" {
		tokens, err = auth.NewTokenIssuer([]byte(cfg.Auth.Secret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("token issuer: %w", err)
		}
	} else {
		logger.Warn("auth disabled: RECORDCHAIN_AUTH_SECRET is not set, do not use in production")
	}

	// ── Background health probes ─────────────────────────────────────────────
	checker := health.New(health.Config{
		CheckInterval: cfg.Health.Interval,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger, health.LedgerProbe(b.Ledger.Validate), health.StoreProbe(b.Store))
	checker.SetMetricsRecord(handler.RecordHealthProbe)
	go checker.Start(ctx)

	// ── Wire up layers ────────────────────────────────────────────────────────
	svc := records.NewService(b.Ledger, b.Store, logger)
	ledgerHandler := handler.NewLedgerHandler(b.Ledger, tokens, logger)
	recordHandler := handler.NewRecordHandler(svc, tokens, logger)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Uploads carry the attachment inline, so the limit is generous.
	maxBody := cfg.Server.MaxBodyBytes
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		c.Next()
	})

	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}

	router.Use(requestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "blocks": b.Ledger.Len()})
	})
	router.GET("/readyz", func(c *gin.Context) {
		ok, components := checker.Status()
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ok, "components": components})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	ledgerHandler.Register(v1)
	recordHandler.Register(v1)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	d := DEATH.NewDeath(syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	d.WaitForDeathWithFunc(func() {
		logger.Info("shutting down ledgerd...")
		cancel()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
		defer stop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", zap.Error(err))
		}
	})

	logger.Info("ledgerd stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that tags each request with an ID
// and logs it with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)
		c.Next()
		logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

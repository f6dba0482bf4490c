package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/app"
	"github.com/mmdatafocus/fieldreport_backend/appctx"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/correlator"
	"github.com/mmdatafocus/fieldreport_backend/ingest"
	"github.com/mmdatafocus/fieldreport_backend/middlewares"
	"github.com/sirupsen/logrus"
)

func main() {
	settings := config.LoadSettings()
	config.SetLogLevel(settings.LogLevel)
	logger := config.GetLogger()
	if settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	startCtx, cancelStart := context.WithTimeout(sigCtx, 2*time.Minute)
	a, err := app.Build(startCtx, settings, logger)
	cancelStart()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Fatal("could not build dependencies: " + err.Error())
	}
	defer a.Close()

	r := newRouter(a)
	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go correlator.NewSweeper(a.Correlator, a.Locker, settings.Correlation.SweepInterval).Run(sweepCtx)

	logger.WithFields(logrus.Fields{
		"info":     "Server started",
		"port":     settings.Port,
		"store":    settings.Store.Provider,
		"strategy": settings.Correlation.PerCallStrategy,
	}).Info("listening on :", settings.Port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the sweeper first so it doesn't start new work while we're draining.
	cancelSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

func newRouter(a *app.App) *gin.Engine {
	s := a.Settings
	r := gin.New()

	r.Use(func(c *gin.Context) {
		cid := c.GetHeader(correlator.CorrelationIdHeader)
		if cid == "" {
			cid = uuid.NewString()
			c.Request.Header.Set(correlator.CorrelationIdHeader, cid)
		}
		c.Request = c.Request.WithContext(appctx.Set(c.Request.Context(), appctx.ContextKeyCorrelationId, cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(cors.New(corsConfig(s)))
	if s.RateLimit.Enabled && a.Redis != nil {
		r.Use(middlewares.NewRateLimiter(a.Redis, s.RateLimit.MaxRequests, s.RateLimit.Window).Middleware())
	}
	r.Use(customErrorLogger(a.Logger))
	r.Use(gin.Recovery())

	webhooks := r.Group("/webhooks")
	webhooks.POST("/report", ingest.SubmitHandler(a.Ingest))
	webhooks.GET("/report", ingest.StatusHandler())
	webhooks.POST("/call-finished", middlewares.WebhookSignature(s.WebhookSecret), correlator.CallFinishedHandler(a.Correlator))
	webhooks.GET("/call-finished", correlator.StatusHandler())

	internal := r.Group("/internal/correlation")
	internal.POST("/replay", replayAuth(s, a.Logger), correlator.ReplayHandler(a.Correlator))
	ops := internal.Group("", middlewares.OperatorAuth(s.APISecret))
	ops.POST("/sweep", correlator.SweepHandler(a.Correlator))
	ops.GET("/runs", correlator.RunsHandler(a.Correlator))
	ops.GET("/failures", correlator.FailuresHandler(a.Correlator))

	r.NoRoute(customNotFoundHandler)
	return r
}

// replayAuth prefers the push subscription's OIDC token, then the webhook
// HMAC. With neither configured only operators can replay.
func replayAuth(s config.Settings, logger *logrus.Logger) gin.HandlerFunc {
	switch {
	case s.PubSub.PushAudience != "":
		return middlewares.PubSubPushAuth(s.PubSub.PushAudience, s.PubSub.PushServiceAccount)
	case s.WebhookSecret != "":
		return middlewares.WebhookSignature(s.WebhookSecret)
	default:
		logger.WithFields(logrus.Fields{"field": "router"}).Warn("PUBSUB_PUSH_AUDIENCE and WEBHOOK_SECRET unset; replay requires an operator token")
		return middlewares.OperatorAuth(s.APISecret)
	}
}

// Production requires an explicit allowlist via CORS_ALLOWED_ORIGINS.
func corsConfig(s config.Settings) cors.Config {
	cfg := cors.DefaultConfig()
	if s.IsProduction() {
		cfg.AllowOrigins = splitAndTrim(s.CORSAllowedOrigins)
		if len(cfg.AllowOrigins) == 0 {
			// Deny all if not configured in production.
			cfg.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.SignatureHeader, correlator.CorrelationIdHeader)
	cfg.AddExposeHeaders("Content-Length")
	return cfg
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

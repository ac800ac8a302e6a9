package cmd

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luma/numlink/internal/env"
	"github.com/luma/numlink/internal/meta"
	"github.com/luma/numlink/transport"
)

// adminServer exposes /ping, /metrics and /status for one session.
type adminServer struct {
	srv *http.Server
	log *zap.Logger
}

// startAdmin serves the admin endpoints plus whatever routes adds. It does
// nothing when no HTTP address is configured.
func startAdmin(conf *env.Config, log *zap.Logger, session *transport.Session, routes func(r *gin.Engine)) *adminServer {
	if conf.HTTPAddr == "" {
		return nil
	}

	log = log.Named("http")
	router := setupRouter(conf.DebugHTTP, log)

	// Ping test
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version": meta.CurrentVersion(),
			"pattern": session.Pattern().String(),
			"address": session.LocalAddress(),
			"role":    session.Role().String(),
			"state":   session.State().String(),
			"peers":   session.Peers(),
		})
	})

	if routes != nil {
		routes(router)
	}

	s := &http.Server{
		Addr:    conf.HTTPAddr,
		Handler: router,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Http server errored", zap.Error(err))
		}
	}()

	log.Info("Admin endpoints listening", zap.String("addr", conf.HTTPAddr))

	return &adminServer{srv: s, log: log}
}

// Shutdown gives in-flight requests 5 seconds to finish.
func (a *adminServer) Shutdown() {
	if a == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.srv.SetKeepAlivesEnabled(false)

	if err := a.srv.Shutdown(ctx); err != nil {
		a.log.Error("Http server forced to shutdown", zap.Error(err))
	}
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	//   - Skips the metrics and ping endpoints.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/metrics", "/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}

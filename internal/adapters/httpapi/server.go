// Package httpapi is the control and observability surface of the process.
package httpapi

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"github.com/alejandrodnm/goaltrader/internal/application/trader"
	"github.com/alejandrodnm/goaltrader/internal/domain"
	"github.com/alejandrodnm/goaltrader/internal/metrics"
)

const maxBody = 1 << 20

// UpdateSink accepts normalized feed updates. The dispatcher implements it.
type UpdateSink interface {
	Apply(ctx context.Context, u domain.SourceUpdate) ([]string, error)
}

// TraderControl is the trader surface exposed over HTTP.
type TraderControl interface {
	State() trader.Snapshot
	Enable()
	Disable()
}

// ArmControl toggles live order submission.
type ArmControl interface {
	Armed() bool
	SetArmed(bool)
}

// Settler runs settlement passes on demand.
type Settler interface {
	ForceRedeemAll(ctx context.Context) ([]domain.RedeemOutcome, error)
	LastRun() (time.Time, []domain.RedeemOutcome)
}

// Deps are the collaborators behind the routes. Nil members disable the
// routes that need them.
type Deps struct {
	Updates  UpdateSink
	Trader   TraderControl
	Executor ArmControl
	Settler  Settler
}

// Config controls the listener.
type Config struct {
	Addr string
	// Token, when set, is required as a bearer token on every POST route.
	Token string
}

// Server wraps the gin engine.
type Server struct {
	R    *gin.Engine
	cfg  Config
	deps Deps
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New wires the routes and middleware.
func New(cfg Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()

	g.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			return
		}
		slog.Debug("api: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"latency", time.Since(start),
		)
	})
	g.Use(gin.Recovery())

	s := &Server{R: g, cfg: cfg, deps: deps}

	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := g.Group("/v1")
	v1.GET("/state", s.getState)

	w := v1.Group("", s.auth)
	w.POST("/updates", s.postUpdates)
	w.POST("/trader/enable", s.enableTrader)
	w.POST("/trader/disable", s.disableTrader)
	w.POST("/executor/arm", s.setArmed(true))
	w.POST("/executor/disarm", s.setArmed(false))
	w.POST("/settlement/redeem-all", s.redeemAll)

	return s
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.R,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("api: listening", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi.Run: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// --- Helpers ---

func (s *Server) auth(c *gin.Context) {
	if s.cfg.Token == "" {
		c.Next()
		return
	}
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Code: "unauthorized", Message: "missing or invalid token"})
		return
	}
	c.Next()
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, apiError{Code: "bad_request", Message: msg})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, apiError{Code: "unavailable", Message: what + " not configured"})
}

func internalError(c *gin.Context, where string, err error) {
	slog.Error("api: internal error", "where", where, "err", err)
	c.JSON(http.StatusInternalServerError, apiError{Code: "internal_server_error", Message: "internal server error"})
}

// decodeUpdates accepts a single update object or an array of them.
func decodeUpdates(body []byte) ([]domain.SourceUpdate, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var list []domain.SourceUpdate
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var u domain.SourceUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	return []domain.SourceUpdate{u}, nil
}

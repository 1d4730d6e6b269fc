package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geenii/geenii-shell/internal/metrics"
	"github.com/geenii/geenii-shell/internal/sidecar"
)

// Controller is the command surface the UI layer can invoke.
type Controller interface {
	StartServer(ctx context.Context) error
	Status() sidecar.Status
	Usage() (*metrics.Usage, error)
}

// Router provides embeddable HTTP handlers for the UI command surface.
// Endpoints:
//
//	POST {basePath}/start_server   no body; idempotent
//	GET  {basePath}/status
//	GET  {basePath}/usage          404 while no sidecar is owned
//	GET  {basePath}/metrics        only when a metrics handler is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     Controller
	basePath string
	metrics  http.Handler
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(ctrl Controller, basePath string) *Router {
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath)}
}

// WithMetrics mounts h at {basePath}/metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start_server", r.handleStartServer)
	group.GET("/status", r.handleStatus)
	group.GET("/usage", r.handleUsage)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer builds an http.Server for the router. The caller starts it.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStartServer(c *gin.Context) {
	if err := r.ctrl.StartServer(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.Status())
}

func (r *Router) handleUsage(c *gin.Context) {
	u, err := r.ctrl.Usage()
	switch {
	case errors.Is(err, sidecar.ErrNotRunning):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, u)
	}
}

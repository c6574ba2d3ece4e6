package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	mng "github.com/loykin/testserve/internal/manager"
	"github.com/loykin/testserve/internal/metrics"
)

// Router provides embeddable HTTP handlers for driving the server set from
// CI tooling.
// Endpoints:
//   POST {basePath}/ensure       query: name=...
//   POST {basePath}/stop         query: name=...
//   POST {basePath}/restart      query: name=...
//   POST {basePath}/clean
//   GET  {basePath}/status       query: name=... (single) or none (all)
//   GET  {basePath}/registry     persisted records, no liveness filtering
//   GET  {basePath}/metrics      Prometheus exposition (when enabled)
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	set         *mng.Set
	basePath    string
	withMetrics bool
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/ensure, /abc/stop, /abc/status.
func NewRouter(set *mng.Set, basePath string, withMetrics bool) *Router {
	return &Router{set: set, basePath: sanitizeBase(basePath), withMetrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/ensure", r.handleEnsure)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/clean", r.handleClean)
	group.GET("/status", r.handleStatus)
	group.GET("/registry", r.handleRegistry)
	if r.withMetrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Close or Shutdown.
func NewServer(addr, basePath string, set *mng.Set, withMetrics bool) (*http.Server, error) {
	r := NewRouter(set, basePath, withMetrics)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type cleanResp struct {
	Reclaimed int `json:"reclaimed"`
}

func (r *Router) requireName(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return "", false
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return "", false
	}
	return name, true
}

func (r *Router) handleEnsure(c *gin.Context) {
	name, ok := r.requireName(c)
	if !ok {
		return
	}
	st, err := r.set.EnsureStarted(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := r.requireName(c)
	if !ok {
		return
	}
	if err := r.set.Stop(c.Request.Context(), name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name, ok := r.requireName(c)
	if !ok {
		return
	}
	st, err := r.set.Restart(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleClean(c *gin.Context) {
	n, err := r.set.Clean(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, cleanResp{Reclaimed: n})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.set.Statuses())
		return
	}
	st, err := r.set.Status(name)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleRegistry(c *gin.Context) {
	recs, err := r.set.Registry().List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

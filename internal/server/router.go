// Package server exposes the supervision core over HTTP: instance control
// calls, the event stream, log queries, and hot config reload.
package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kyusang/termvisor/internal/config"
	"github.com/kyusang/termvisor/internal/instance"
	"github.com/kyusang/termvisor/internal/logbuf"
	"github.com/kyusang/termvisor/internal/logstore"
	"github.com/kyusang/termvisor/internal/metrics"
	"github.com/kyusang/termvisor/internal/supervisor"
)

type Router struct {
	sup   *supervisor.Supervisor
	logs  *logbuf.Service
	store *logstore.Store
	cfg   *config.Manager
	hub   *hub
}

func NewRouter(sup *supervisor.Supervisor, logs *logbuf.Service, store *logstore.Store, cfg *config.Manager) *Router {
	r := &Router{sup: sup, logs: logs, store: store, cfg: cfg, hub: newHub(sup)}
	go r.hub.run()
	return r
}

// Handler returns a gin-powered http.Handler that can be mounted anywhere.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.POST("/instances", r.handleCreate)
	g.GET("/instances", r.handleList)
	g.GET("/instances/:id", r.handleGet)
	g.POST("/instances/:id/write", r.handleWrite)
	g.POST("/instances/:id/resize", r.handleResize)
	g.POST("/instances/:id/show", r.handleShow)
	g.POST("/instances/:id/hide", r.handleHide)
	g.DELETE("/instances/:id", r.handleDispose)
	g.GET("/instances/:id/stream", r.handleStream)

	g.GET("/sessions/:id/log", r.handleReadLog)
	g.GET("/sessions/:id/log/stats", r.handleLogStats)
	g.DELETE("/sessions/:id/log", r.handleDeleteLog)

	g.GET("/config", r.handleGetConfig)
	g.PUT("/config", r.handleApplyConfig)

	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return g
}

// NewServer starts a standalone HTTP server on addr.
func NewServer(addr string, r *Router) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleCreate(c *gin.Context) {
	var spec instance.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	id, err := r.sup.Create(spec)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"instance_id": id})
}

func (r *Router) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.List())
}

func (r *Router) handleGet(c *gin.Context) {
	info, ok := r.sup.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown instance"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleWrite forwards the raw request body to the instance's input.
func (r *Router) handleWrite(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := r.sup.Write(c.Param("id"), data); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResize(c *gin.Context) {
	var req struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.sup.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleShow(c *gin.Context) {
	r.sup.Show(c.Param("id"))
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHide(c *gin.Context) {
	r.sup.Hide(c.Param("id"))
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDispose(c *gin.Context) {
	r.sup.Dispose(c.Param("id"))
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReadLog(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	recs, err := r.store.Read(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []logstore.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (r *Router) handleLogStats(c *gin.Context) {
	stats, err := r.store.Stats(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (r *Router) handleDeleteLog(c *gin.Context) {
	if err := r.logs.DeleteSession(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, r.cfg.Snapshot())
}

func (r *Router) handleApplyConfig(c *gin.Context) {
	var t config.Tunables
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.cfg.Apply(t); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

// Package handler exposes the dashboard and telemetry ingest over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"buddyband/internal/auth"
	"buddyband/internal/dashboard"
	"buddyband/internal/httpmiddleware"
	"buddyband/internal/queue"
	"buddyband/internal/remote"
	"buddyband/internal/session"
	"buddyband/internal/telemetry"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Validator checks a reading before it is queued.
type Validator interface {
	Validate(telemetry.Reading) error
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Registry  *dashboard.Registry
	Readings  Validator
	Queue     queue.Queue
	Issuer    *auth.Issuer
	Limiter   *httpmiddleware.TokenBucket
	Checks    map[string]HealthCheck
	Log       *zap.Logger
	DevTokens bool
}

type Handler struct {
	registry  *dashboard.Registry
	readings  Validator
	queue     queue.Queue
	issuer    *auth.Issuer
	limiter   *httpmiddleware.TokenBucket
	checks    map[string]HealthCheck
	log       *zap.Logger
	devTokens bool
	now       func() time.Time
}

func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{
		registry:  d.Registry,
		readings:  d.Readings,
		queue:     d.Queue,
		issuer:    d.Issuer,
		limiter:   d.Limiter,
		checks:    d.Checks,
		log:       d.Log,
		devTokens: d.DevTokens,
		now:       time.Now,
	}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(gin.Recovery(), requestID(), accessLog(h.log, "/healthz", "/metrics"), cors(), securityHeaders())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	if h.devTokens {
		v1.POST("/sessions", h.limit(httpmiddleware.ClientIP), h.CreateSession)
	}

	teacher := v1.Group("", auth.RequireRole(h.issuer, auth.RoleTeacher), h.limit(bySubject))
	teacher.GET("/dashboard", h.Dashboard)
	teacher.GET("/dashboard/stream", h.DashboardStream)
	teacher.POST("/students/:id/buzzer", h.ToggleBuzzer)
	teacher.POST("/students/:id/focus", h.FocusStudent)
	teacher.POST("/alerts/:id/select", h.SelectAlert)
	teacher.POST("/devices/register", h.RegisterDevice)

	device := v1.Group("", auth.RequireRole(h.issuer, auth.RoleDevice), h.limit(bySubject))
	device.POST("/telemetry", h.Telemetry)
}

func (h *Handler) limit(key httpmiddleware.KeyFunc) gin.HandlerFunc {
	if h.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h.limiter.Middleware(key)
}

func bySubject(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Subject != "" {
		return claims.Role + ":" + claims.Subject
	}
	return httpmiddleware.ClientIP(c)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Sessions ----------

type sessionRequest struct {
	TeacherID string `json:"teacher_id" binding:"required,excludes=/"`
	Name      string `json:"name"`
}

// CreateSession issues a teacher token. Mounted only outside production.
func (h *Handler) CreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := h.issuer.Issue(req.TeacherID, auth.RoleTeacher, req.Name)
	if err != nil {
		h.log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, tok)
}

// ---------- Dashboard ----------

// engine resolves the caller's dashboard engine, writing an error response
// when it cannot.
func (h *Handler) engine(c *gin.Context) (*dashboard.Engine, bool) {
	claims, _ := auth.ClaimsFrom(c)
	e, err := h.registry.Get(session.FromClaims(claims))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return nil, false
	}
	return e, true
}

func (h *Handler) Dashboard(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.View())
}

// DashboardStream pushes every new view as a server-sent event until the
// client goes away.
func (h *Handler) DashboardStream(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	views, stop := e.Watch()
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
		case v, ok := <-views:
			if !ok {
				return
			}
			c.SSEvent("view", v)
		}
		c.Writer.Flush()
	}
}

func (h *Handler) ToggleBuzzer(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	studentID := c.Param("id")
	res, err := e.ToggleBuzzer(c.Request.Context(), studentID)
	if errors.Is(err, dashboard.ErrNotInScope) {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	select {
	case err := <-res:
		var werr *dashboard.WriteError
		if errors.As(err, &werr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "buzzer write failed", "path": werr.Path})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "student_id": studentID})
	case <-c.Request.Context().Done():
	}
}

func (h *Handler) FocusStudent(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	p, err := e.SelectStudent(c.Request.Context(), c.Param("id"))
	h.focusResponse(c, p, err)
}

func (h *Handler) SelectAlert(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	p, err := e.SelectAlert(c.Request.Context(), c.Param("id"))
	h.focusResponse(c, p, err)
}

func (h *Handler) focusResponse(c *gin.Context, p dashboard.FocusPoint, err error) {
	switch {
	case errors.Is(err, dashboard.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dashboard stopped"})
	case err != nil:
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"focus": p})
	}
}

// ---------- Devices ----------

type registerDeviceRequest struct {
	StudentID string `json:"student_id" binding:"required"`
}

// RegisterDevice issues a device token for one of the caller's students.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, ok := h.engine(c)
	if !ok {
		return
	}
	var name string
	found := false
	for _, s := range e.View().Students {
		if s.ID == req.StudentID {
			name, found = s.Name, true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	tok, err := h.issuer.Issue(req.StudentID, auth.RoleDevice, name)
	if err != nil {
		h.log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, tok)
}

// Telemetry queues a device reading for the worker. The student is taken
// from the device token.
func (h *Handler) Telemetry(c *gin.Context) {
	var r telemetry.Reading
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	r.StudentID = claims.Subject
	if r.At.IsZero() {
		r.At = h.now()
	}
	if err := h.readings.Validate(r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := queue.NewMessage(queue.TypeTelemetry, r)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	if err := h.queue.Publish(c.Request.Context(), msg); err != nil {
		h.log.Error("queue publish failed", zap.String("student_id", r.StudentID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "path": remote.Path(remote.Students, r.StudentID)})
}

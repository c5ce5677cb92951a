package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quizrevise/internal/app"
	"quizrevise/internal/domain"
)

// API exposes the scheduler over REST.
type API struct {
	service *app.SchedulerService
	logger  *zap.Logger
	now     func() time.Time
}

func NewAPI(service *app.SchedulerService, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{service: service, logger: logger, now: time.Now}
}

// NewRouter wires the REST routes, the websocket feed and health check.
func NewRouter(api *API, ws *WSHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(api.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if ws != nil {
		r.GET("/ws", gin.WrapF(ws.ServeWS))
	}

	g := r.Group("/api")
	g.POST("/quizzes", api.RegisterQuiz)
	g.GET("/users/:userId/schedules/due", api.ListDue)
	g.GET("/users/:userId/schedules/upcoming", api.ListUpcoming)
	g.POST("/schedules/:id/completion", api.SubmitCompletion)
	g.GET("/users/:userId/performance", api.PerformanceSeries)
	g.GET("/retention-stage", api.RetentionStage)
	return r
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

// respondDomainError maps the error taxonomy onto HTTP status codes.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		respondError(c, http.StatusBadRequest, "validation_error", err)
	case errors.Is(err, domain.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, domain.ErrInvalidState):
		respondError(c, http.StatusConflict, "invalid_state", err)
	default:
		respondError(c, http.StatusInternalServerError, "persistence_error", err)
	}
}

// POST /api/quizzes
func (a *API) RegisterQuiz(c *gin.Context) {
	var req domain.GeneratedQuiz
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	schedules, err := a.service.RegisterGeneratedQuiz(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schedules": app.Views(schedules)})
}

// GET /api/users/:userId/schedules/due?asOf=2024-01-02T10:00:00Z
func (a *API) ListDue(c *gin.Context) {
	asOf, err := a.asOf(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_as_of", err)
		return
	}
	due, err := a.service.GetDueSchedules(c.Request.Context(), c.Param("userId"), asOf)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": app.Views(due)})
}

// GET /api/users/:userId/schedules/upcoming?asOf=2024-01-02T10:00:00Z
func (a *API) ListUpcoming(c *gin.Context) {
	asOf, err := a.asOf(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_as_of", err)
		return
	}
	upcoming, err := a.service.GetUpcomingSchedules(c.Request.Context(), c.Param("userId"), asOf)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": app.Views(upcoming)})
}

type completionReq struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

type completionResp struct {
	ScheduleID    string    `json:"scheduleId"`
	Status        string    `json:"status"`
	Score         int       `json:"score"`
	CompletedDate time.Time `json:"completedDate"`
}

// POST /api/schedules/:id/completion
func (a *API) SubmitCompletion(c *gin.Context) {
	var req completionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	done, err := a.service.SubmitCompletion(c.Request.Context(), c.Param("id"), req.Answers)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, completionResp{
		ScheduleID:    done.ID,
		Status:        string(done.Status),
		Score:         *done.Score,
		CompletedDate: *done.CompletedDate,
	})
}

// GET /api/users/:userId/performance?subjectId=&from=&to=
func (a *API) PerformanceSeries(c *gin.Context) {
	filter := domain.PerformanceFilter{UserID: c.Param("userId")}
	if v := strings.TrimSpace(c.Query("subjectId")); v != "" {
		filter.SubjectID = &v
	}
	from, err := parseTimeParam(c.Query("from"), false)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_from", err)
		return
	}
	to, err := parseTimeParam(c.Query("to"), true)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_to", err)
		return
	}
	filter.Range = domain.DateRange{From: from, To: to}

	points, err := a.service.PerformanceSeries(c.Request.Context(), filter)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// GET /api/retention-stage?days=3
func (a *API) RetentionStage(c *gin.Context) {
	days, err := strconv.Atoi(c.Query("days"))
	if err != nil || days < 0 {
		respondError(c, http.StatusBadRequest, "invalid_days", errors.New("days must be a non-negative integer"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "stage": a.service.RetentionStage(days)})
}

func (a *API) asOf(c *gin.Context) (time.Time, error) {
	raw := strings.TrimSpace(c.Query("asOf"))
	if raw == "" {
		return a.now(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// parseTimeParam accepts RFC3339 or a bare date; a bare "to" date covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

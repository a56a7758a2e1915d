package flow

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// API exposes the engine over HTTP: event intake on /e/:eventKey, run
// inspection under /v1 and app introspection on /api/flow.
type API struct {
	engine   *Engine
	eventKey string
}

func NewAPI(engine *Engine, eventKey string) *API {
	return &API{engine: engine, eventKey: eventKey}
}

func (a *API) Register(router *gin.Engine) {
	router.POST("/e/:eventKey", a.SendEvent)

	v1 := router.Group("/v1")
	v1.GET("/events/:eventID/runs", a.ListEventRuns)
	v1.GET("/runs/:runID", a.GetRun)
	v1.POST("/runs/:runID/cancel", a.CancelRun)

	router.GET("/api/flow", a.Introspect)
	router.PUT("/api/flow", a.Sync)
}

type sendEventRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

func (a *API) SendEvent(c *gin.Context) {
	if a.eventKey != "" && c.Param("eventKey") != a.eventKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "event key not found"})
		return
	}

	var req sendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event name is required"})
		return
	}

	event, _, err := a.engine.Send(c.Request.Context(), req.Name, req.Data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send event failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ids":    []string{event.ID},
		"status": http.StatusOK,
	})
}

type runView struct {
	RunID      string          `json:"run_id"`
	FunctionID string          `json:"function_id"`
	Status     string          `json:"status"`
	Attempt    int             `json:"attempt"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	QueuedAt   time.Time       `json:"queued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
}

func newRunView(run *Run) runView {
	view := runView{
		RunID:      run.ID,
		FunctionID: run.FunctionID,
		Status:     run.Status,
		Attempt:    run.Attempt,
		Error:      run.Error,
		QueuedAt:   run.QueuedAt,
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
	}
	if run.Output != "" {
		view.Output = json.RawMessage(run.Output)
	}
	return view
}

// ListEventRuns returns the runs for an event. Unknown event ids yield
// an empty list, matching what pollers expect while intake is still in
// flight.
func (a *API) ListEventRuns(c *gin.Context) {
	runs, err := a.engine.RunsForEvent(c.Param("eventID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list runs failed"})
		return
	}

	views := make([]runView, 0, len(runs))
	for i := range runs {
		views = append(views, newRunView(&runs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (a *API) GetRun(c *gin.Context) {
	run, err := a.engine.GetRun(c.Param("runID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get run failed"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newRunView(run)})
}

func (a *API) CancelRun(c *gin.Context) {
	runID := c.Param("runID")
	if err := a.engine.CancelRun(runID); err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, ErrRunNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": "run is not cancellable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel run failed"})
		}
		return
	}

	run, err := a.engine.GetRun(runID)
	if err != nil || run == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel run failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newRunView(run)})
}

type functionView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Event    string `json:"event"`
	Retries  int    `json:"retries"`
	Throttle *struct {
		Limit  int    `json:"limit"`
		Period string `json:"period"`
	} `json:"throttle,omitempty"`
	RateLimit *struct {
		Limit  int    `json:"limit"`
		Period string `json:"period"`
		Key    string `json:"key,omitempty"`
	} `json:"rate_limit,omitempty"`
}

func (a *API) Introspect(c *gin.Context) {
	functions := a.engine.Functions()
	views := make([]functionView, 0, len(functions))
	for _, fn := range functions {
		view := functionView{
			ID:      fn.ID,
			Name:    fn.Name,
			Event:   fn.EventName,
			Retries: fn.Retries,
		}
		if fn.Throttle != nil {
			view.Throttle = &struct {
				Limit  int    `json:"limit"`
				Period string `json:"period"`
			}{Limit: fn.Throttle.Limit, Period: fn.Throttle.Period.String()}
		}
		if fn.RateLimit != nil {
			view.RateLimit = &struct {
				Limit  int    `json:"limit"`
				Period string `json:"period"`
				Key    string `json:"key,omitempty"`
			}{Limit: fn.RateLimit.Limit, Period: fn.RateLimit.Period.String(), Key: fn.RateLimit.Key}
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"app_id":         a.engine.AppID(),
		"event_key_set":  a.eventKey != "",
		"function_count": len(views),
		"functions":      views,
	})
}

// Sync acknowledges an app registration request. Functions live in the
// same process, so there is nothing to pull; the reply lists what is
// already registered.
func (a *API) Sync(c *gin.Context) {
	functions := a.engine.Functions()
	ids := make([]string, 0, len(functions))
	for _, fn := range functions {
		ids = append(ids, fn.ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"app_id":     a.engine.AppID(),
		"registered": ids,
	})
}

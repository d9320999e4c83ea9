// README: Job submission and lifecycle endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheez95/luckygas/internal/jobs"
	"github.com/cheez95/luckygas/internal/types"
)

type JobHandler struct {
	orch *jobs.Orchestrator
}

func NewJobHandler(orch *jobs.Orchestrator) *JobHandler {
	return &JobHandler{orch: orch}
}

type jobResponse struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	TargetKey  string          `json:"target_key"`
	Status     string          `json:"status"`
	Progress   int             `json:"progress"`
	Message    string          `json:"message,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	ErrorText  string          `json:"error_text,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func renderJob(j *jobs.Job) jobResponse {
	return jobResponse{
		ID:         string(j.ID),
		Kind:       string(j.Kind),
		TargetKey:  j.TargetKey,
		Status:     string(j.Status),
		Progress:   j.Progress,
		Message:    j.Message,
		Result:     j.Result,
		ErrorCode:  j.ErrorCode,
		ErrorText:  j.ErrorText,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

func (h *JobHandler) SubmitOptimize(c *gin.Context) {
	var params jobs.OptimizeParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, err.Error())
		return
	}
	if params.Date == "" {
		badRequest(c, "date is required")
		return
	}
	h.submit(c, jobs.KindOptimizeDay, params.Date, params)
}

func (h *JobHandler) SubmitPredict(c *gin.Context) {
	var params jobs.PredictParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, err.Error())
		return
	}
	if params.Date == "" {
		badRequest(c, "date is required")
		return
	}
	h.submit(c, jobs.KindBatchPredict, params.Date, params)
}

func (h *JobHandler) SubmitImport(c *gin.Context) {
	var params jobs.ImportParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, err.Error())
		return
	}
	if params.CustomersCSV == "" && params.OrdersCSV == "" {
		badRequest(c, "customers_csv or orders_csv is required")
		return
	}
	h.submit(c, jobs.KindBulkImport, "import", params)
}

func (h *JobHandler) submit(c *gin.Context, kind jobs.Kind, targetKey string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := h.orch.Submit(c.Request.Context(), kind, targetKey, raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *JobHandler) Get(c *gin.Context) {
	j, err := h.orch.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderJob(j))
}

func (h *JobHandler) List(c *gin.Context) {
	var statuses []jobs.Status
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, jobs.Status(s))
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.orch.List(c.Request.Context(), jobs.Kind(c.Query("kind")), statuses, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]jobResponse, len(list))
	for i, j := range list {
		out[i] = renderJob(j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (h *JobHandler) Cancel(c *gin.Context) {
	if err := h.orch.Cancel(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

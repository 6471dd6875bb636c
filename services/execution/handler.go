package execution

import (
	"net/http"
	"strconv"
	"time"

	"fleetops-controlplane/pkg/db/pagination"
	"fleetops-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc          *Service
	pollInterval time.Duration
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, pollInterval: time.Second}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/job-templates/:id/runs", h.trigger)
	r.GET("/job-runs", h.list)
	r.GET("/job-runs/:id", h.get)
	r.GET("/job-runs/:id/stream", h.stream)
	r.POST("/job-runs/:id/cancel", h.cancel)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(errutil.BadRequest("invalid id "+strconv.Quote(c.Param("id")), err))
		return 0, false
	}
	return id, true
}

func (h *Handler) trigger(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var opts TriggerOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			_ = c.Error(errutil.BadRequest("invalid request body", err))
			return
		}
	}

	run, err := h.svc.TriggerJob(c.Request.Context(), id, opts)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (h *Handler) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	run, err := h.svc.GetJobRun(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	run, err := h.svc.CancelJobRun(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, run)
}

type listQuery struct {
	pagination.Pagination
	JobTemplateID int64  `form:"job_template_id"`
	ScheduleID    int64  `form:"schedule_id"`
	Status        string `form:"status"`
	TriggerSource string `form:"trigger_source"`
}

func (h *Handler) list(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	runs, info, err := h.svc.ListJobRuns(c.Request.Context(), ListFilter{
		JobTemplateID: q.JobTemplateID,
		ScheduleID:    q.ScheduleID,
		Status:        RunStatus(q.Status),
		TriggerSource: TriggerSource(q.TriggerSource),
	}, q.Pagination)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs, "page_info": info})
}

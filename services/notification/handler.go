package notification

import (
	"net/http"
	"strconv"

	"fleetops-controlplane/pkg/db/pagination"
	"fleetops-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/notification-channels", h.createChannel)
	r.GET("/notification-channels", h.listChannels)
	r.POST("/notification-policies", h.createPolicy)
	r.GET("/notification-policies", h.listPolicies)
	r.GET("/notification-policies/:id", h.getPolicy)
	r.GET("/notification-log", h.listLog)
	r.POST("/job-runs/:id/notify", h.redispatch)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(errutil.BadRequest("invalid id "+strconv.Quote(c.Param("id")), err))
		return 0, false
	}
	return id, true
}

func (h *Handler) createChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ch, err := h.svc.CreateChannel(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h *Handler) listChannels(c *gin.Context) {
	out, err := h.svc.ListChannels(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) createPolicy(c *gin.Context) {
	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	p, err := h.svc.CreatePolicy(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) listPolicies(c *gin.Context) {
	out, err := h.svc.ListPolicies(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) getPolicy(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p, err := h.svc.GetPolicy(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type logQuery struct {
	pagination.Pagination
	JobRunID int64  `form:"job_run_id"`
	PolicyID int64  `form:"policy_id"`
	Outcome  string `form:"outcome"`
}

func (h *Handler) listLog(c *gin.Context) {
	var q logQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	entries, info, err := h.svc.ListLog(c.Request.Context(), LogFilter{
		JobRunID: q.JobRunID,
		PolicyID: q.PolicyID,
		Outcome:  Outcome(q.Outcome),
	}, q.Pagination)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": info})
}

func (h *Handler) redispatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	entries, err := h.svc.Redispatch(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

package schedule

import (
	"net/http"
	"strconv"

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
	r.POST("/schedules", h.create)
	r.GET("/schedules", h.list)
	r.GET("/schedules/:id", h.get)
	r.POST("/schedules/:id/enable", h.toggle(true))
	r.POST("/schedules/:id/disable", h.toggle(false))
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(errutil.BadRequest("invalid id "+strconv.Quote(c.Param("id")), err))
		return 0, false
	}
	return id, true
}

func (h *Handler) create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sch, err := h.svc.CreateSchedule(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, sch)
}

func (h *Handler) list(c *gin.Context) {
	out, err := h.svc.ListSchedules(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sch, err := h.svc.GetSchedule(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sch)
}

func (h *Handler) toggle(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}

		sch, err := h.svc.SetEnabled(c.Request.Context(), id, enabled)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, sch)
	}
}

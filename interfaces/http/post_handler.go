package http

import (
	"net/http"
	"strconv"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/cache"
	"crosspost/infrastructure/logger"
	"crosspost/usecase"

	"github.com/gin-gonic/gin"
)

type IPostHandler interface {
	Post(ctx *gin.Context)
	Status(ctx *gin.Context)
	Reset(ctx *gin.Context)
	History(ctx *gin.Context)
}

type postHandler struct {
	orchestrator usecase.IPostOrchestrator
	history      repository.IPublishHistory
	snapshots    *cache.SnapshotCache
}

func NewPostHandler(orchestrator usecase.IPostOrchestrator, history repository.IPublishHistory, snapshots *cache.SnapshotCache) IPostHandler {
	return &postHandler{orchestrator: orchestrator, history: history, snapshots: snapshots}
}

// Post runs the full fan-out and blocks until every dispatched destination
// settles. Preparation failures are the only 5xx path; per-destination
// failures come back inside the aggregate.
func (h *postHandler) Post(c *gin.Context) {
	var req dto.PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: err.Error()})
		return
	}
	userID := c.GetString("user_id")
	resp, err := h.orchestrator.Post(c.Request.Context(), userID, &req)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("post preparation failed")
		c.JSON(http.StatusBadGateway, dto.Res{ResponseCode: "502", ResponseMessage: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: resp})
}

// Status returns the live job snapshot per destination. Idle engines fall back
// to the cached snapshot so the UI survives restarts mid-conversation.
func (h *postHandler) Status(c *gin.Context) {
	userID := c.GetString("user_id")
	engines := h.orchestrator.Engines()
	out := make([]model.JobSnapshot, 0, len(engines))
	for _, e := range engines {
		snap := e.Job()
		if snap.State == model.JobIdle && h.snapshots != nil {
			if cached, ok := h.snapshots.Snapshot(c.Request.Context(), userID, e.Platform()); ok {
				snap = cached
			}
		}
		out = append(out, snap)
	}
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: out})
}

// Reset clears every destination's job state. Only safe between posts; a job
// still in flight keeps running against its old, no longer observed state.
func (h *postHandler) Reset(c *gin.Context) {
	h.orchestrator.ResetJobs()
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "Reset"})
}

func (h *postHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: []repository.PublishHistoryEntry{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.history.Recent(c.Request.Context(), c.GetString("user_id"), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, dto.Res{ResponseCode: "502", ResponseMessage: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: entries})
}

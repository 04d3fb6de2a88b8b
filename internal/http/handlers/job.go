package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/videoqueue-backend/internal/http/response"
	"github.com/yungbote/videoqueue-backend/internal/platform/ctxutil"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/services"
)

type VideoJobHandler struct {
	log          *logger.Logger
	admission    services.AdmissionService
	reconciler   services.Reconciler
	cancellation services.CancellationService
}

func NewVideoJobHandler(
	log *logger.Logger,
	admission services.AdmissionService,
	reconciler services.Reconciler,
	cancellation services.CancellationService,
) *VideoJobHandler {
	return &VideoJobHandler{
		log:          log.With("handler", "VideoJobHandler"),
		admission:    admission,
		reconciler:   reconciler,
		cancellation: cancellation,
	}
}

type submitRequest struct {
	Kind string `json:"kind"`
}

// POST /api/projects/:id/video-jobs
func (h *VideoJobHandler) Submit(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_project_id", err)
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := h.admission.Submit(c.Request.Context(), services.SubmitInput{
		OwnerUserID: ctxutil.UserID(c.Request.Context()),
		ProjectID:   projectID,
		Kind:        req.Kind,
	})
	if err != nil {
		h.fail(c, "submit", err)
		return
	}
	response.RespondCreated(c, gin.H{"job": res})
}

// GET /api/video-jobs/:id
func (h *VideoJobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	view, err := h.reconciler.ViewForOwner(c.Request.Context(), ctxutil.UserID(c.Request.Context()), jobID)
	if err != nil {
		h.fail(c, "get_job", err)
		return
	}
	response.RespondOK(c, view)
}

// GET /api/projects/:id/video-job
func (h *VideoJobHandler) LatestForProject(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_project_id", err)
		return
	}
	view, err := h.reconciler.LatestForProject(c.Request.Context(), ctxutil.UserID(c.Request.Context()), projectID)
	if err != nil {
		h.fail(c, "latest_job", err)
		return
	}
	response.RespondOK(c, view)
}

// POST /api/video-jobs/:id/cancel
func (h *VideoJobHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	res, err := h.cancellation.Cancel(c.Request.Context(), ctxutil.UserID(c.Request.Context()), jobID)
	if err != nil {
		h.fail(c, "cancel_job", err)
		return
	}
	response.RespondOK(c, res)
}

func (h *VideoJobHandler) fail(c *gin.Context, action string, err error) {
	h.log.Debug("video job request failed", "action", action, "error", err)
	response.RespondFromError(c, err)
}

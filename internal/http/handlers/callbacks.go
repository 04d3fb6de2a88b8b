package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/videoqueue-backend/internal/http/response"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/services"
)

// CallbackHandler receives executor webhooks. Both routes run through the
// same reconciler as status polls, so a callback and a poll for the same
// result converge on one state.
type CallbackHandler struct {
	log        *logger.Logger
	reconciler services.Reconciler
}

func NewCallbackHandler(log *logger.Logger, reconciler services.Reconciler) *CallbackHandler {
	return &CallbackHandler{log: log.With("handler", "CallbackHandler"), reconciler: reconciler}
}

// POST /internal/executor/callbacks/clip
func (h *CallbackHandler) Clip(c *gin.Context) {
	var req services.ClipCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := h.reconciler.HandleClipCallback(c.Request.Context(), req)
	if err != nil {
		h.log.Warn("clip callback rejected", "job_id", req.JobID, "unit_key", req.UnitKey, "error", err)
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /internal/executor/callbacks/final
func (h *CallbackHandler) Final(c *gin.Context) {
	var req services.FinalCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	view, err := h.reconciler.HandleFinalCallback(c.Request.Context(), req)
	if err != nil {
		h.log.Warn("final callback rejected", "job_id", req.JobID, "outcome", req.Outcome, "error", err)
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, view)
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/videoqueue-backend/internal/http/response"
	"github.com/yungbote/videoqueue-backend/internal/platform/ctxutil"
	"github.com/yungbote/videoqueue-backend/internal/services"
)

type TokenHandler struct {
	ledger services.LedgerService
}

func NewTokenHandler(ledger services.LedgerService) *TokenHandler {
	return &TokenHandler{ledger: ledger}
}

// GET /api/tokens/balance
func (h *TokenHandler) Balance(c *gin.Context) {
	b, err := h.ledger.Balance(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, b)
}

// GET /api/tokens/history?limit=&offset=
func (h *TokenHandler) History(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_offset", err)
		return
	}
	entries, err := h.ledger.History(c.Request.Context(), ctxutil.UserID(c.Request.Context()), limit, offset)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"entries": entries})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
	"github.com/noah-isme/grade-portal/pkg/logger"
	"github.com/noah-isme/grade-portal/pkg/response"
)

type socketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, recipient string) error
}

// RealtimeHandler upgrades inbox subscribers to websocket connections.
type RealtimeHandler struct {
	sockets socketServer
	logger  *zap.Logger
}

// NewRealtimeHandler constructs RealtimeHandler.
func NewRealtimeHandler(sockets socketServer, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{sockets: sockets, logger: logger}
}

// Connect godoc
// @Summary Subscribe to inbox events over websocket
// @Description Browsers pass the bearer token as the access_token query parameter.
// @Tags Notifications
// @Param access_token query string false "JWT when headers are unavailable"
// @Success 101
// @Router /ws [get]
func (h *RealtimeHandler) Connect(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing principal"))
		return
	}
	recipient := claims.RecipientKey()
	if recipient == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "staff accounts have no inbox"))
		return
	}
	if err := h.sockets.Serve(c.Writer, c.Request, recipient); err != nil {
		logger.WithRequest(h.logger, c).Debug("websocket upgrade failed", zap.String("recipient", recipient), zap.Error(err))
	}
}

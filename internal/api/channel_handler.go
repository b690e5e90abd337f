package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/locolive/notify/internal/auth"
	"github.com/locolive/notify/internal/middleware"
	"github.com/locolive/notify/internal/notify"
	"github.com/locolive/notify/internal/realtime"
	"github.com/locolive/notify/pkg/response"
)

// ChannelHandler authorizes sockets to join the caller's private channel.
type ChannelHandler struct {
	signer *auth.ChannelSigner
	logger *zap.Logger
}

func NewChannelHandler(signer *auth.ChannelSigner, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{signer: signer, logger: logger}
}

// Auth handles POST /broadcasting/auth. The body is JSON or a form with
// socket_id and channel_name; only the caller's own channel is signed.
func (h *ChannelHandler) Auth(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req realtime.AuthRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
		req.SocketID = r.PostForm.Get("socket_id")
		req.ChannelName = r.PostForm.Get("channel_name")
	} else if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if req.SocketID == "" || req.ChannelName == "" {
		response.BadRequest(w, "socket_id and channel_name are required")
		return
	}

	owner, ok := notify.ChannelOwner(req.ChannelName)
	if !ok || owner != userID.String() {
		h.logger.Warn("channel auth denied",
			zap.String("user_id", userID.String()),
			zap.String("channel", req.ChannelName),
		)
		response.Forbidden(w, "not allowed to join channel")
		return
	}

	token, err := h.signer.Sign(req.SocketID, req.ChannelName)
	if err != nil {
		h.logger.Error("failed to sign channel token", zap.Error(err))
		response.InternalError(w, "failed to authorize channel")
		return
	}
	response.OK(w, realtime.AuthResponse{Auth: token})
}

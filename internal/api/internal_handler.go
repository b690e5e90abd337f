package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/locolive/notify/internal/auth"
	"github.com/locolive/notify/internal/domain"
	"github.com/locolive/notify/pkg/response"
	"github.com/locolive/notify/pkg/validator"
)

const defaultNotificationType = "general"

var priorities = []string{"low", "normal", "high", "urgent"}

// InternalHandler serves routes called by other services, guarded by the
// internal key.
type InternalHandler struct {
	service    *domain.NotificationService
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

func NewInternalHandler(service *domain.NotificationService, jwtManager *auth.JWTManager, logger *zap.Logger) *InternalHandler {
	return &InternalHandler{
		service:    service,
		jwtManager: jwtManager,
		logger:     logger,
	}
}

type publishRequest struct {
	UserID       string     `json:"user_id"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	Priority     string     `json:"priority"`
	Category     string     `json:"category"`
	ActionTarget string     `json:"action_target"`
	Metadata     domain.Map `json:"metadata"`
}

// Publish handles POST /internal/notifications: store, broadcast, push.
func (h *InternalHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	var errs validator.ValidationErrors
	userID, _ := errs.UUID("user_id", req.UserID)
	if errs.Required("title", req.Title) {
		errs.MaxLength("title", req.Title, 200)
	}
	if errs.Required("message", req.Message) {
		errs.MaxLength("message", req.Message, 2000)
	}
	errs.MaxLength("type", req.Type, 64)
	errs.MaxLength("category", req.Category, 64)
	errs.MaxLength("action_target", req.ActionTarget, 512)
	errs.OneOf("priority", req.Priority, priorities...)
	if errs.HasErrors() {
		response.ValidationFailed(w, errs)
		return
	}

	params := domain.CreateNotificationParams{
		UserID:       userID,
		Type:         validator.SanitizeString(req.Type, 64),
		Title:        validator.SanitizeString(req.Title, 200),
		Message:      validator.SanitizeString(req.Message, 2000),
		Priority:     req.Priority,
		Category:     validator.SanitizeString(req.Category, 64),
		ActionTarget: validator.SanitizeString(req.ActionTarget, 512),
		Metadata:     req.Metadata,
	}
	if params.Type == "" {
		params.Type = defaultNotificationType
	}

	n, err := h.service.Publish(r.Context(), params)
	if err != nil {
		h.logger.Error("failed to publish notification", zap.String("user_id", userID.String()), zap.Error(err))
		response.InternalError(w, "failed to publish notification")
		return
	}
	response.Created(w, map[string]any{"notification": n.Wire()})
}

type issueTokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// IssueToken handles POST /internal/tokens, minting an access token for a
// user so trusted services and tools can act as that user.
func (h *InternalHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	var errs validator.ValidationErrors
	userID, _ := errs.UUID("user_id", req.UserID)
	errs.MaxLength("email", req.Email, 254)
	if errs.HasErrors() {
		response.ValidationFailed(w, errs)
		return
	}

	token, expiresAt, err := h.jwtManager.GenerateAccessToken(userID, req.Email)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		response.InternalError(w, "failed to issue token")
		return
	}
	response.Created(w, map[string]any{
		"token":     token,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/domain"
	"github.com/locolive/notify/internal/middleware"
	"github.com/locolive/notify/pkg/response"
	"github.com/locolive/notify/pkg/validator"
)

const maxBodyBytes = 64 << 10

var devicePlatforms = []string{"ios", "android", "web"}

type NotificationHandler struct {
	service *domain.NotificationService
	logger  *zap.Logger
}

func NewNotificationHandler(service *domain.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger,
	}
}

// List handles GET /notifications?page=&perPage=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), 1)
	if err != nil || page < 1 {
		response.BadRequest(w, "page must be a positive integer")
		return
	}
	perPageRaw := q.Get("perPage")
	if perPageRaw == "" {
		perPageRaw = q.Get("limit")
	}
	perPage, err := queryInt(perPageRaw, domain.DefaultPerPage)
	if err != nil || perPage < 1 {
		response.BadRequest(w, "perPage must be a positive integer")
		return
	}

	result, err := h.service.List(r.Context(), userID, page, perPage)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		response.InternalError(w, "failed to fetch notifications")
		return
	}
	response.OK(w, result)
}

func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get notification stats", zap.Error(err))
		response.InternalError(w, "failed to fetch stats")
		return
	}
	response.OK(w, stats)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.withNotification(w, r, "failed to update notification", h.service.MarkRead)
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.withNotification(w, r, "failed to delete notification", h.service.Delete)
}

func (h *NotificationHandler) withNotification(w http.ResponseWriter, r *http.Request, failure string, op func(ctx context.Context, userID, id uuid.UUID) error) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return
	}

	if err := op(r.Context(), userID, id); err != nil {
		if errors.Is(err, domain.ErrNotificationNotFound) {
			response.NotFound(w, "notification not found")
			return
		}
		h.logger.Error(failure, zap.String("id", id.String()), zap.Error(err))
		response.InternalError(w, failure)
		return
	}
	response.OK(w, nil)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	if err := h.service.MarkAllRead(r.Context(), userID); err != nil {
		h.logger.Error("failed to mark all notifications read", zap.Error(err))
		response.InternalError(w, "failed to update notifications")
		return
	}
	response.OK(w, nil)
}

func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	if err := h.service.Clear(r.Context(), userID); err != nil {
		h.logger.Error("failed to clear notifications", zap.Error(err))
		response.InternalError(w, "failed to clear notifications")
		return
	}
	response.OK(w, nil)
}

type deviceTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (h *NotificationHandler) RegisterDeviceToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req deviceTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	var errs validator.ValidationErrors
	if errs.Required("token", req.Token) {
		errs.MaxLength("token", req.Token, 4096)
	}
	errs.OneOf("platform", req.Platform, devicePlatforms...)
	if errs.HasErrors() {
		response.ValidationFailed(w, errs)
		return
	}

	if err := h.service.RegisterDeviceToken(r.Context(), userID, req.Token, req.Platform); err != nil {
		h.logger.Error("failed to register device token", zap.String("user_id", userID.String()), zap.Error(err))
		response.InternalError(w, "failed to register token")
		return
	}
	response.OK(w, nil)
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

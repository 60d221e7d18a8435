// Package api exposes HTTP handlers for the place visit service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"example.com/placevisits/internal/auth"
	"example.com/placevisits/internal/capture"
	"example.com/placevisits/internal/device"
	"example.com/placevisits/internal/domain"
	"example.com/placevisits/internal/permission"
	"example.com/placevisits/internal/persistence"
	"example.com/placevisits/internal/provider"
	"example.com/placevisits/internal/stream"
)

// VisitStore is the event store surface used by the API.
type VisitStore interface {
	List(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.StoredVisit, *domain.Cursor, error)
	ClearAll(ctx context.Context) (int64, error)
}

// Streamer hands out live snapshot subscriptions.
type Streamer interface {
	Subscribe(ctx context.Context) (*stream.Subscription, error)
}

// CaptureController toggles capture.
type CaptureController interface {
	Enable() string
	Disable(ctx context.Context) error
	Status() capture.Status
}

// SessionDriver answers rationale pages of the active permission session.
type SessionDriver interface {
	Acknowledge() error
	Decline() error
	Cancel() bool
}

// Device is the client side of the permission platform.
type Device interface {
	Report(version int, states map[permission.Permission]device.PermissionState)
	Pending() (device.Request, bool)
	Resolve(id string, results map[permission.Permission]bool) error
}

// CrossingSink accepts crossings and reports which notifications are tracked.
type CrossingSink interface {
	provider.Sink
	Tracking() provider.Tracking
}

// Dependencies collects what the handler serves.
type Dependencies struct {
	Visits    VisitStore
	Stream    Streamer
	Capture   CaptureController
	Session   SessionDriver
	Device    Device
	Crossings CrossingSink
	Logger    *log.Logger
}

// Handler coordinates HTTP requests with the capture pipeline and event store.
type Handler struct {
	visits    VisitStore
	stream    Streamer
	capture   CaptureController
	session   SessionDriver
	device    Device
	crossings CrossingSink
	logger    *log.Logger
	keepAlive time.Duration
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Handler{
		visits:    deps.Visits,
		stream:    deps.Stream,
		capture:   deps.Capture,
		session:   deps.Session,
		device:    deps.Device,
		crossings: deps.Crossings,
		logger:    logger,
		keepAlive: 15 * time.Second,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/visits", h.visitsRoot)
	mux.HandleFunc("/v1/visits/stream", h.streamVisits)
	mux.HandleFunc("/v1/capture/enable", h.post(h.enableCapture, auth.ScopeCaptureManage))
	mux.HandleFunc("/v1/capture/disable", h.post(h.disableCapture, auth.ScopeCaptureManage))
	mux.HandleFunc("/v1/capture/session", h.captureSession)
	mux.HandleFunc("/v1/capture/session/", h.post(h.sessionAction, auth.ScopeCaptureManage))
	mux.HandleFunc("/v1/device/state", h.deviceState)
	mux.HandleFunc("/v1/device/requests/", h.post(h.resolveRequest, auth.ScopeCaptureManage))
	mux.HandleFunc("/v1/crossings", h.post(h.postCrossing, auth.ScopeCrossingsWrite))
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) post(next http.HandlerFunc, scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		if !authorize(w, r, scope) {
			return
		}
		next(w, r)
	}
}

func authorize(w http.ResponseWriter, r *http.Request, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return false
	}
	return true
}

func (h *Handler) visitsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if authorize(w, r, auth.ScopeVisitsRead) {
			h.listVisits(w, r)
		}
	case http.MethodDelete:
		if authorize(w, r, auth.ScopeVisitsWrite) {
			h.clearVisits(w, r)
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) listVisits(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	items, next, err := h.visits.List(r.Context(), cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := ListVisitsResponse{
		Items:      make([]VisitView, 0, len(items)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, toVisitView(item.PlaceVisitEvent))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) clearVisits(w http.ResponseWriter, r *http.Request) {
	removed, err := h.visits.ClearAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ClearVisitsResponse{Removed: removed})
}

func (h *Handler) enableCapture(w http.ResponseWriter, r *http.Request) {
	id := h.capture.Enable()
	writeJSON(w, http.StatusAccepted, EnableCaptureResponse{SessionID: id, Status: h.capture.Status()})
}

func (h *Handler) disableCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.capture.Disable(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Status())
}

func (h *Handler) captureSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorize(w, r, auth.ScopeCaptureManage) {
		return
	}
	resp := SessionResponse{Capture: h.capture.Status()}
	if req, ok := h.device.Pending(); ok {
		resp.PendingRequest = &req
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) sessionAction(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/v1/capture/session/")
	var err error
	switch action {
	case "acknowledge":
		err = h.session.Acknowledge()
	case "decline":
		err = h.session.Decline()
	case "cancel":
		if !h.session.Cancel() {
			writeError(w, http.StatusConflict, "no_active_session", "no permission session in progress")
			return
		}
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown session action")
		return
	}
	if err != nil {
		if errors.Is(err, permission.ErrNoRationalePending) {
			writeError(w, http.StatusConflict, "no_rationale_pending", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Status())
}

func (h *Handler) deviceState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorize(w, r, auth.ScopeCaptureManage) {
		return
	}
	var req DeviceStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.PlatformVersion < 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "platform_version must not be negative")
		return
	}
	h.device.Report(req.PlatformVersion, req.Permissions)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolveRequest(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/device/requests/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing request id")
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := h.device.Resolve(id, req.Results); err != nil {
		if errors.Is(err, device.ErrUnknownRequest) {
			writeError(w, http.StatusNotFound, "not_found", "permission request not pending")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Status())
}

func (h *Handler) postCrossing(w http.ResponseWriter, r *http.Request) {
	var req CrossingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	n, err := provider.ParseNotification(req.Notification)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if !h.capture.Status().Running {
		writeError(w, http.StatusConflict, "capture_disabled", "capture is not running")
		return
	}
	if !h.crossings.Tracking().Allows(n) {
		writeJSON(w, http.StatusOK, CrossingResponse{Tracked: false})
		return
	}
	raw := domain.RawCrossing{
		PlaceName:           req.Crossing.PlaceName,
		PlaceID:             req.Crossing.PlaceID,
		VisitID:             req.Crossing.VisitID,
		ArrivalTimeMillis:   req.Crossing.ArrivalTimeMillis,
		DepartureTimeMillis: req.Crossing.DepartureTimeMillis,
	}
	if err := h.crossings.Dispatch(r.Context(), n, raw); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	preview := domain.Normalize(raw)
	writeJSON(w, http.StatusAccepted, CrossingResponse{Tracked: true, EventID: preview.ID, Kind: string(preview.Kind)})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Type: code, Detail: message})
}

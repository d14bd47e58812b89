package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/arkilian/planmentor/internal/advisor"
	mentorerrors "github.com/arkilian/planmentor/internal/errors"
	"github.com/arkilian/planmentor/internal/observability"
	"github.com/arkilian/planmentor/pkg/types"
	"go.uber.org/zap"
)

// Directory resolves the advisor for a scope.
type Directory interface {
	Advisor(scope string) (*advisor.Advisor, bool)
	Scopes() []string
}

// Exporter writes a diagnostic snapshot of an advisor's table.
type Exporter interface {
	Export(ctx context.Context, a *advisor.Advisor) (string, error)
}

// AdminOptions configures an AdminHandler.
type AdminOptions struct {
	// Exporter serves the snapshot route; nil answers 503.
	Exporter Exporter
	// Decisions serves the decisions route; nil answers 503.
	Decisions *observability.DecisionStats
	Logger    *zap.Logger
}

// AdminHandler serves the operator functions over HTTP.
type AdminHandler struct {
	dir       Directory
	exporter  Exporter
	decisions *observability.DecisionStats
	logger    *zap.Logger
	mux       *http.ServeMux
}

// NewAdminHandler creates the admin API over dir.
func NewAdminHandler(dir Directory, opts AdminOptions) *AdminHandler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &AdminHandler{
		dir:       dir,
		exporter:  opts.Exporter,
		decisions: opts.Decisions,
		logger:    opts.Logger.Named("admin"),
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /v1/scopes", h.scopes)
	h.mux.HandleFunc("GET /v1/decisions", h.topDecisions)
	h.mux.HandleFunc("POST /v1/{scope}/reload", h.withAdvisor(h.reload))
	h.mux.HandleFunc("POST /v1/{scope}/mode", h.withAdvisor(h.setMode))
	h.mux.HandleFunc("GET /v1/{scope}/entries", h.withAdvisor(h.entries))
	h.mux.HandleFunc("POST /v1/{scope}/reset", h.withAdvisor(h.reset))
	h.mux.HandleFunc("POST /v1/{scope}/reconsider", h.withAdvisor(h.reconsider))
	h.mux.HandleFunc("POST /v1/{scope}/reap", h.withAdvisor(h.reap))
	h.mux.HandleFunc("POST /v1/{scope}/snapshot", h.withAdvisor(h.snapshot))
	return h
}

// ServeHTTP dispatches to the admin routes.
func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type advisorHandler func(w http.ResponseWriter, r *http.Request, a *advisor.Advisor)

func (h *AdminHandler) withAdvisor(next advisorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.PathValue("scope")
		a, ok := h.dir.Advisor(scope)
		if !ok {
			h.fail(w, r, mentorerrors.NewValidationError(mentorerrors.CodeUnknownScope,
				fmt.Sprintf("unknown scope %q", scope)))
			return
		}
		next(w, r, a)
	}
}

// ScopesResponse lists the attached scopes.
type ScopesResponse struct {
	Scopes []string `json:"scopes"`
}

func (h *AdminHandler) scopes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ScopesResponse{Scopes: h.dir.Scopes()})
}

// DecisionsResponse lists the rules and actions that changed modes.
type DecisionsResponse struct {
	Sources []observability.SourceStats `json:"sources"`
}

func (h *AdminHandler) topDecisions(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "decision tracking is not enabled",
			RequestID: GetRequestID(r.Context()),
		})
		return
	}
	n := 10
	if v := r.URL.Query().Get("top"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, ErrorResponse{
				Error:     fmt.Sprintf("invalid top %q", v),
				RequestID: GetRequestID(r.Context()),
			})
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, DecisionsResponse{Sources: h.decisions.Top(n)})
}

// EpochResponse reports the epoch after a reload.
type EpochResponse struct {
	Scope string `json:"scope"`
	Epoch uint64 `json:"epoch"`
}

func (h *AdminHandler) reload(w http.ResponseWriter, r *http.Request, a *advisor.Advisor) {
	epoch := a.Reload()
	writeJSON(w, http.StatusOK, EpochResponse{Scope: a.Namespace().Scope, Epoch: epoch})
}

func (h *AdminHandler) setMode(w http.ResponseWriter, r *http.Request, a *advisor.Advisor) {
	var req advisor.SetModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("invalid request body: %v", err),
			RequestID: GetRequestID(r.Context()),
		})
		return
	}
	if err := a.SetMode(req); err != nil {
		h.fail(w, r, err)
		return
	}

	snap, ok := a.Namespace().Table.Get(req.Fingerprint)
	if !ok {
		h.fail(w, r, mentorerrors.NewInternalError("entry vanished after set_mode", nil))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// EntriesResponse is the result of listing a scope's entries.
type EntriesResponse struct {
	Scope   string      `json:"scope"`
	Filter  types.Mode  `json:"filter"`
	Count   int         `json:"count"`
	Entries interface{} `json:"entries"`
}

func (h *AdminHandler) entries(w http.ResponseWriter, r *http.Request, a *advisor.Advisor) {
	filter, err := types.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.fail(w, r, mentorerrors.NewValidationError(mentorerrors.CodeInvalidMode, err.Error()))
		return
	}
	snaps, err := a.ShowEntries(filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntriesResponse{
		Scope:   a.Namespace().Scope,
		Filter:  filter,
		Count:   len(snaps),
		Entries: snaps,
	})
}

// CountResponse reports how many entries an operation touched.
type CountResponse struct {
	Scope string `json:"scope"`
	Count int    `json:"count"`
}

func (h *AdminHandler) reset(w http.ResponseWriter, r *http.Request, a *advisor.Advisor) {
	writeJSON(w, http.StatusOK, CountResponse{Scope: a.Namespace().Scope, Count: a.Reset()})
}

func (h *AdminHandler) reap(w http.ResponseWriter, r *http.Request, a *advisor.Advisor) {
	writeJSON(w, http.StatusOK, CountResponse{Scope: a.Namespace().Scope, Count: a.Reap()})
}

func (h *AdminHandler) reconsider(w http.ResponseWriter, r *http.Request, a *advisor.Advisor) {
	tally, err := a.Reconsider(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

// SnapshotResponse names the object a snapshot was written to.
type SnapshotResponse struct {
	Scope string `json:"scope"`
	Key   string `json:"key"`
}

func (h *AdminHandler) snapshot(w http.ResponseWriter, r *http.Request, a *advisor.Advisor) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "snapshot storage is not configured",
			RequestID: GetRequestID(r.Context()),
		})
		return
	}
	key, err := h.exporter.Export(r.Context(), a)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SnapshotResponse{Scope: a.Namespace().Scope, Key: key})
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	requestID := GetRequestID(r.Context())
	if status >= http.StatusInternalServerError {
		h.logger.Error("admin request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	writeError(w, status, ErrorResponse{
		Error:     err.Error(),
		Code:      mentorerrors.GetCode(err),
		RequestID: requestID,
	})
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	if mentorerrors.GetCode(err) == mentorerrors.CodeUnknownScope {
		return http.StatusNotFound
	}
	switch mentorerrors.GetCategory(err) {
	case mentorerrors.ErrCategoryValidation:
		return http.StatusBadRequest
	case mentorerrors.ErrCategoryContention:
		return http.StatusConflict
	case mentorerrors.ErrCategoryTelemetry, mentorerrors.ErrCategoryStorage:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

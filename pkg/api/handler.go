// Package api exposes the policy facade as a read-only JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-mam/pkg/domain"
	"github.com/polisai/polis-mam/pkg/policy"
)

// Error codes returned in domain.ErrorResponse.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeNotReady   = "NOT_READY"
)

// LocationResponse answers a save or open query.
type LocationResponse struct {
	Location   string `json:"location"`
	Account    string `json:"account,omitempty"`
	Allowed    bool   `json:"allowed"`
	Effect     string `json:"effect,omitempty"`
	Tier       string `json:"tier"`
	Generation int64  `json:"generation"`
}

// URLResponse answers a URL or universal link query.
type URLResponse struct {
	Kind       string `json:"kind"`
	URL        string `json:"url"`
	Allowed    bool   `json:"allowed"`
	Source     string `json:"source"`
	Reason     string `json:"reason,omitempty"`
	Generation int64  `json:"generation"`
}

// PickerResponse answers a document picker query.
type PickerResponse struct {
	Mode       string `json:"mode"`
	Allowed    bool   `json:"allowed"`
	Generation int64  `json:"generation"`
}

// HandlerConfig holds the dependencies of the API handler.
type HandlerConfig struct {
	Facade *policy.Facade
	// Source reports readiness; nil means always ready.
	Source  domain.SnapshotSource
	Logger  *slog.Logger
	Metrics http.Handler
}

type handler struct {
	facade *policy.Facade
	source domain.SnapshotSource
	logger *slog.Logger
}

// NewHandler builds the route table. Every query is answered from a pinned
// snapshot whose generation is echoed in the response.
func NewHandler(cfg HandlerConfig) http.Handler {
	if cfg.Facade == nil {
		panic("api: policy facade is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{facade: cfg.Facade, source: cfg.Source, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /v1/policy", h.handlePolicy)
	mux.HandleFunc("GET /v1/save", h.handleSave)
	mux.HandleFunc("GET /v1/open", h.handleOpen)
	mux.HandleFunc("GET /v1/url", h.handleURL(domain.URLKindURL))
	mux.HandleFunc("GET /v1/universal-link", h.handleURL(domain.URLKindUniversalLink))
	mux.HandleFunc("GET /v1/picker", h.handlePicker)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	return mux
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.source != nil && h.source.CurrentSnapshot() == nil {
		h.writeError(r.Context(), w, http.StatusServiceUnavailable, CodeNotReady, "no policy snapshot loaded")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handlePolicy(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.facade.BuildReport(accountParam(r)))
}

func (h *handler) handleSave(w http.ResponseWriter, r *http.Request) {
	loc, err := parseLocation(r.URL.Query().Get("location"), domain.ParseSaveLocation, domain.SaveLocationFromCode)
	if err != nil {
		h.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	pinned := h.facade.Pin()
	acct := accountParam(r)
	decision := pinned.DecideSaveTo(loc, acct)
	pinned.Observe(policy.OpSaveTo, decision.Allowed)
	h.writeJSON(w, http.StatusOK, locationResponse(loc.String(), acct, decision, pinned.Snapshot().Generation))
}

func (h *handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	loc, err := parseLocation(r.URL.Query().Get("location"), domain.ParseOpenLocation, domain.OpenLocationFromCode)
	if err != nil {
		h.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	pinned := h.facade.Pin()
	acct := accountParam(r)
	decision := pinned.DecideOpenFrom(loc, acct)
	pinned.Observe(policy.OpOpenFrom, decision.Allowed)
	h.writeJSON(w, http.StatusOK, locationResponse(loc.String(), acct, decision, pinned.Snapshot().Generation))
}

func (h *handler) handleURL(kind domain.URLKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("url")
		if raw == "" {
			h.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, "url parameter is required")
			return
		}
		target, err := url.Parse(raw)
		if err != nil {
			h.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid url: %v", err))
			return
		}

		pinned := h.facade.Pin()
		decision := pinned.DecideURL(r.Context(), kind, target)
		operation := policy.OpURL
		if kind == domain.URLKindUniversalLink {
			operation = policy.OpUniversalLink
		}
		pinned.Observe(operation, decision.Allowed)

		h.writeJSON(w, http.StatusOK, URLResponse{
			Kind:       string(kind),
			URL:        policy.NormalizeURL(target),
			Allowed:    decision.Allowed,
			Source:     decision.Source,
			Reason:     decision.Reason,
			Generation: pinned.Snapshot().Generation,
		})
	}
}

func (h *handler) handlePicker(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseDocumentPickerMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(r.Context(), w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	pinned := h.facade.Pin()
	h.writeJSON(w, http.StatusOK, PickerResponse{
		Mode:       mode.String(),
		Allowed:    pinned.IsDocumentPickerAllowed(mode),
		Generation: pinned.Snapshot().Generation,
	})
}

// accountParam distinguishes an absent account from an empty one.
func accountParam(r *http.Request) domain.Account {
	q := r.URL.Query()
	if !q.Has("account") {
		return domain.NoAccount
	}
	return domain.AccountName(q.Get("account"))
}

// parseLocation accepts a location name or a numeric SDK code. Unknown codes
// map to Other; unknown names are rejected.
func parseLocation[L any](raw string, parse func(string) (L, error), fromCode func(int) L) (L, error) {
	var zero L
	if raw == "" {
		return zero, errors.New("location parameter is required")
	}
	if code, err := strconv.Atoi(raw); err == nil {
		return fromCode(code), nil
	}
	return parse(raw)
}

func locationResponse(loc string, acct domain.Account, d domain.LocationDecision, generation int64) LocationResponse {
	resp := LocationResponse{
		Location:   loc,
		Allowed:    d.Allowed,
		Effect:     string(d.Effect),
		Tier:       d.Tier,
		Generation: generation,
	}
	if acct.Present() {
		resp.Account = acct.Name()
	}
	return resp
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes a domain.ErrorResponse carrying the current trace ID.
func (h *handler) writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	var traceID string
	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
		}
	}
	h.writeJSON(w, status, domain.ErrorResponse{
		Code:    code,
		Message: message,
		TraceID: traceID,
	})
}

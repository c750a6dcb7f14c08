package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/commissiontracker/underwriter/internal/metrics"
)

const defaultMaxBytes = 1 << 20

// HTTPHandler serves the JSON API.
type HTTPHandler struct {
	svc      *Service
	logger   *zap.Logger
	metrics  *metrics.Metrics
	maxBytes int64
	timeout  time.Duration
	auth     func(http.Handler) http.Handler
}

// NewHTTPHandler creates an HTTP handler. Request bodies above maxBytes are
// rejected and each request is bounded by timeout.
func NewHTTPHandler(svc *Service, logger *zap.Logger, m *metrics.Metrics, maxBytes int64, timeout time.Duration) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &HTTPHandler{svc: svc, logger: logger, metrics: m, maxBytes: maxBytes, timeout: timeout}
}

// RequireAuth puts mw in front of every /v1 route. /healthz and /metrics
// stay open.
func (h *HTTPHandler) RequireAuth(mw func(http.Handler) http.Handler) *HTTPHandler {
	h.auth = mw
	return h
}

// Router mounts the API, /healthz and, when gatherer is non-nil, /metrics.
func (h *HTTPHandler) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth)
		}
		if h.timeout > 0 {
			r.Use(middleware.Timeout(h.timeout))
		}
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/predicates/validate", h.handleValidate)
		r.Post("/resolve", h.handleResolve)
	})
	return r
}

func (h *HTTPHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.ValidatePredicate(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "ValidatePredicate", err)
		return
	}
	h.metrics.IncrementRequest("http", "ValidatePredicate", strconv.Itoa(http.StatusOK))
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Resolve(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "Resolve", err)
		return
	}
	h.metrics.IncrementRequest("http", "Resolve", strconv.Itoa(http.StatusOK))
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	body := http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "too_large", Description: err.Error()})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Description: err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, method string, err error) {
	code, name := httpStatus(err)
	h.metrics.IncrementRequest("http", method, strconv.Itoa(code))

	body := errorBody{Error: name}
	if code < http.StatusInternalServerError {
		body.Description = err.Error()
	} else {
		h.logger.Error("request failed",
			zap.String("method", method),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

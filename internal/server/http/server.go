// Package http exposes the engine's session state and controls over HTTP.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekisa-team/igichat/internal/app"
	"github.com/ekisa-team/igichat/internal/inference"
	"github.com/ekisa-team/igichat/internal/metrics"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/params"
	"github.com/ekisa-team/igichat/internal/session"
)

const maxBodyBytes int64 = 1 << 20

// Service defines the methods required by the HTTP layer.
type Service interface {
	Ready() bool
	Snapshot() session.Snapshot
	Catalog(d model.Domain) (*model.Catalog, bool)
	SubmitChat(prompt string) error
	ResetConversation()
	SwapModel(d model.Domain, index int) error
}

type (
	ChatRequestDTO struct {
		Prompt string `json:"prompt"`
	}

	SelectRequestDTO struct {
		Index int `json:"index"`
	}

	CatalogResponseDTO struct {
		Domain   model.Domain  `json:"domain"`
		Selected int           `json:"selected"`
		Models   []model.Entry `json:"models"`
	}

	AcceptedResponseDTO struct {
		Status string `json:"status"`
	}
)

// NewMux builds the router serving svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !svc.Ready() {
			writeJSONError(w, http.StatusServiceUnavailable, "no model is ready")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.Snapshot())
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/models/{domain}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			d, catalog, ok := catalogFor(w, r, svc)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, CatalogResponseDTO{Domain: d, Selected: catalog.Selected(), Models: catalog.List()})
		})

		r.Post("/select", func(w http.ResponseWriter, r *http.Request) {
			d, _, ok := catalogFor(w, r, svc)
			if !ok {
				return
			}

			var req SelectRequestDTO
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := svc.SwapModel(d, req.Index); err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, AcceptedResponseDTO{Status: "loading"})
		})
	})

	r.Post("/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequestDTO
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.SubmitChat(req.Prompt); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, AcceptedResponseDTO{Status: "running"})
	})

	r.Post("/reset", func(w http.ResponseWriter, _ *http.Request) {
		svc.ResetConversation()
		writeJSON(w, http.StatusOK, svc.Snapshot())
	})

	return r
}

func catalogFor(w http.ResponseWriter, r *http.Request, svc Service) (model.Domain, *model.Catalog, bool) {
	d, ok := model.ParseDomain(chi.URLParam(r, "domain"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown domain")
		return "", nil, false
	}
	catalog, ok := svc.Catalog(d)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown domain")
		return "", nil, false
	}
	return d, catalog, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrIndexOutOfRange), errors.Is(err, params.ErrUnknownDomain):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotSelectable), errors.Is(err, inference.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, inference.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		metrics.ObserveHTTP(routePatternOrPath(r), r.Method, sr.status, time.Since(start))
	})
}

// routePatternOrPath keeps label cardinality bounded by preferring the chi
// route pattern.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// Addr formats a listen address for port on all interfaces.
func Addr(port int) string {
	return ":" + strconv.Itoa(port)
}

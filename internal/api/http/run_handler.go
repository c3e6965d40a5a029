// internal/api/http/run_handler.go
package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"update-runner/internal/domain"
	"update-runner/internal/metrics"
	"update-runner/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunHandler handles run-related HTTP requests: manual dispatch and run
// history queries.
type RunHandler struct {
	service  *usecase.RunService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(service *usecase.RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		service:  service,
		logger:   logger.With("component", "run-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("update-runner-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers run-related routes to the http.ServeMux.
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux) {
	baseHandler := http.HandlerFunc(h.handleRuns)

	instrumentedHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := "/runs"
		if runID := strings.TrimPrefix(r.URL.Path, "/runs/"); runID != "" && runID != r.URL.Path {
			path = "/runs/{id}"
		}

		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		baseHandler.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})

	mux.Handle("/runs", instrumentedHandler)
	mux.Handle("/runs/", instrumentedHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// handleRuns is a general dispatcher for the /runs path.
func (h *RunHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	runID := strings.Trim(strings.TrimPrefix(strings.Trim(r.URL.Path, "/"), "runs"), "/")

	switch r.Method {
	case http.MethodPost:
		if runID != "" {
			http.NotFound(w, r)
			return
		}
		h.handleDispatchRun(w, r)
	case http.MethodGet:
		if runID != "" {
			h.handleGetRun(w, r, runID)
		} else {
			h.handleListRuns(w, r)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDispatchRun starts a run (POST /runs). A dispatch that finds the run
// lock held is answered with 409 and the skipped record's ID.
func (h *RunHandler) handleDispatchRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.DispatchRun")
	defer span.End()

	var req DispatchRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors,
				"Field '"+err.Field()+"' failed on the '"+err.Tag()+"' tag.",
			)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "Validation failed",
			"details": validationErrors,
		})
		return
	}

	run, err := h.service.Dispatch(ctx, domain.TriggerManual, req.ToPeriod())
	if errors.Is(err, domain.ErrLockNotAcquired) {
		span.AddEvent("skipped_run")
		writeJSON(w, http.StatusConflict, DispatchRunResponse{RunID: run.ID, Status: run.Status})
		return
	}
	if err != nil {
		h.logger.Error("error dispatching run", "error", err)
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.String("run.id", run.ID))
	writeJSON(w, http.StatusAccepted, DispatchRunResponse{RunID: run.ID, Status: run.Status})
}

// handleGetRun returns one run record (GET /runs/{id}).
func (h *RunHandler) handleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	run, err := h.service.GetRun(ctx, id)
	if errors.Is(err, domain.ErrRunNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("error getting run", "run_id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleListRuns lists run records (GET /runs).
func (h *RunHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListRuns")
	defer span.End()

	// Parse pagination parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 {
		pageSize = 20 // default page size
	} else if pageSize > 100 {
		pageSize = 100 // max page size
	}
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	runs, err := h.service.ListRuns(ctx, page, pageSize)
	if err != nil {
		h.logger.Error("error listing runs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}

	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

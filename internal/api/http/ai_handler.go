// internal/api/http/ai_handler.go
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/metrics"
	"ai-orchestrator/internal/usecase"
)

const maxUploadBytes = 32 << 20

// Services groups the application services behind the HTTP API.
type Services struct {
	Text    *usecase.TextService
	Images  *usecase.ImageService
	Catalog *usecase.CatalogService
	Tasks   *usecase.TaskService
}

// AIHandler serves the /api routes.
type AIHandler struct {
	svc      Services
	secret   string
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewAIHandler creates the handler. Requests to protected routes must carry
// secret in the X-API-KEY header; an empty secret rejects them all.
func NewAIHandler(svc Services, secret string, logger *slog.Logger) *AIHandler {
	return &AIHandler{
		svc:      svc,
		secret:   secret,
		logger:   logger.With("component", "ai-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("ai-orchestrator-api"),
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

// RegisterRoutes registers the API routes on mux.
func (h *AIHandler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "GET /api/health", false, h.handleHealth)
	h.handle(mux, "GET /api/ai/broker-ping", false, h.handleBrokerPing)
	h.handle(mux, "GET /api/ai/send-simple-task", false, h.handleSendSimpleTask)

	h.handle(mux, "POST /api/ai/generate-text", true, h.handleGenerateText)
	h.handle(mux, "GET /api/ai/history/{session_id}", true, h.handleHistory)
	h.handle(mux, "POST /api/ai/generate-image", true, h.handleGenerateImage)
	h.handle(mux, "POST /api/ai/animation-script", true, h.handleAnimationScript)
	h.handle(mux, "POST /api/ai/catalog-intake", true, h.handleCatalogIntake)
	h.handle(mux, "POST /api/ai/generate-product-description", true, h.handleProductDescription)
	h.handle(mux, "POST /api/ai/analyze-sprite", true, h.handleAnalyzeSprite)
	h.handle(mux, "GET /api/ai/sprites-catalog", true, h.handleSpritesCatalog)
	h.handle(mux, "DELETE /api/ai/sprites/{image_path...}", true, h.handleDeleteSprite)
	h.handle(mux, "GET /api/ai/status/{task_id}", true, h.handleStatus)
}

// handle wraps fn with tracing, request metrics and, when protected, the
// API key check.
func (h *AIHandler) handle(mux *http.ServeMux, pattern string, protected bool, fn http.HandlerFunc) {
	var next http.Handler = fn
	if protected {
		next = requireAPIKey(h.secret, h.logger, next)
	}

	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+pattern, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(r.Pattern, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}))
}

func (h *AIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AIHandler) handleBrokerPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Tasks.PingBroker(r.Context()))
}

func (h *AIHandler) handleSendSimpleTask(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Tasks.SendSimpleTask(r.Context()))
}

func (h *AIHandler) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	var req GenerateTextRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Text.GenerateText(r.Context(), req.Prompt, req.Model, req.SessionID))
}

func (h *AIHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Text.History(r.Context(), r.PathValue("session_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.ChatHistory{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *AIHandler) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req GenerateImageRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Images.GenerateImage(r.Context(), req.Prompt, req.ToOptions()))
}

func (h *AIHandler) handleAnimationScript(w http.ResponseWriter, r *http.Request) {
	var req AnimationScriptRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.svc.Catalog.ProcessAnimationScript(r.Context(), req.ToDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticket)
}

func (h *AIHandler) handleCatalogIntake(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	ticket, err := h.svc.Catalog.IntakeProductImage(r.Context(), file, header.Filename, r.FormValue("project_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticket)
}

func (h *AIHandler) handleProductDescription(w http.ResponseWriter, r *http.Request) {
	var req ProductDescriptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.svc.Catalog.GenerateProductDescription(r.Context(), req.ToDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticket)
}

func (h *AIHandler) handleAnalyzeSprite(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	writeJSON(w, http.StatusOK, h.svc.Catalog.AnalyzeSprite(r.Context(), file, header.Filename))
}

func (h *AIHandler) handleSpritesCatalog(w http.ResponseWriter, r *http.Request) {
	sprites, err := h.svc.Catalog.ListSprites(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sprites == nil {
		sprites = []*domain.SpriteMetadata{}
	}
	writeJSON(w, http.StatusOK, sprites)
}

func (h *AIHandler) handleDeleteSprite(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Catalog.DeleteSprite(r.Context(), r.PathValue("image_path")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Tasks.Status(r.Context(), r.PathValue("task_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// decode reads a JSON body into req and validates it, answering 400 on
// failure.
func (h *AIHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	span := trace.SpanFromContext(r.Context())
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: details})
		return false
	}
	return true
}

func (h *AIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSpriteNotFound):
		status = http.StatusNotFound
	case domain.IsKind(err, domain.KindAuthorizationFailure):
		status = http.StatusUnauthorized
	case domain.IsKind(err, domain.KindValidationFailure):
		status = http.StatusBadRequest
	case domain.IsKind(err, domain.KindBrokerUnavailable):
		status = http.StatusServiceUnavailable
	}

	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)
	if status >= 500 {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		h.logger.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

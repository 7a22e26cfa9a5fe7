// handler.go — основной обработчик API: регистрация маршрутов chi,
// перевод ошибок сервисного слоя в HTTP-ответы.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/svgconv/internal/api/errors"
	"github.com/bigkaa/svgconv/internal/service"
)

// multipartOverhead — запас на заголовки multipart и поля формы сверх размера файла.
const multipartOverhead = 1 << 20

// APIHandler — основной обработчик API сервиса конвертации.
type APIHandler struct {
	health      *HealthHandler
	ingest      *service.IngestService
	query       *service.QueryService
	merge       *service.MergeService
	maxFileSize int64
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxFileSize — лимит исходного SVG; тело запроса ограничивается с запасом.
func NewAPIHandler(
	health *HealthHandler,
	ingest *service.IngestService,
	query *service.QueryService,
	merge *service.MergeService,
	maxFileSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		ingest:      ingest,
		query:       query,
		merge:       merge,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// Register регистрирует все маршруты на роутере.
func (h *APIHandler) Register(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Post("/", h.UploadFile)
			r.Get("/", h.ListFiles)
			r.Get("/stats", h.GetStats)
			r.Get("/{order}/{line}", h.GetFile)
			r.Get("/{order}/{line}/download/{kind}", h.DownloadFile)
		})
		r.Route("/orders/{order}", func(r chi.Router) {
			r.Get("/files", h.ListOrderFiles)
			r.Get("/summary", h.GetOrderSummary)
			r.Post("/merge", h.MergeOrder)
			r.Get("/merged", h.ListMerged)
			r.Get("/merged/latest", h.GetLatestMerged)
			r.Get("/merged/latest/download", h.DownloadLatestMerged)
			r.Get("/merged/{seq}", h.GetMerged)
			r.Get("/merged/{seq}/download", h.DownloadMerged)
		})
		r.Get("/merged", h.ListAllMerged)
	})
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var convErr *service.ConversionError
	switch {
	case errors.As(err, &convErr):
		apierrors.ConversionFailed(w, convErr.Error(), convErr.Record)
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrDuplicateIdentity):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.InvalidTransition(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrInfrastructure):
		h.logger.Error("Ошибка инфраструктуры",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.ServiceUnavailable(w, "Хранилище временно недоступно")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// intParam извлекает целочисленный параметр пути.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		apierrors.ValidationError(w, "Параметр "+name+" должен быть целым числом")
		return 0, false
	}
	return v, true
}

// queryInt возвращает целочисленный query-параметр или def, если он
// отсутствует или некорректен.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

// serveArtifact отдаёт файл через http.ServeContent (Range, If-Modified-Since).
func serveArtifact(w http.ResponseWriter, r *http.Request, art *service.Artifact) {
	defer art.File.Close()

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	http.ServeContent(w, r, art.Name, art.ModTime, art.File)
}

// files.go — HTTP handlers файлов: приём, список, статистика, запись, скачивание.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/svgconv/internal/api/errors"
	"github.com/bigkaa/svgconv/internal/service"
)

// defaultJSONFilename — имя файла при JSON-загрузке без filename.
const defaultJSONFilename = "uploaded.svg"

// uploadJSONRequest — тело JSON-загрузки.
type uploadJSONRequest struct {
	SVGContent  string  `json:"svg_content"`
	OrderNumber flexInt `json:"order_number"`
	LineNumber  flexInt `json:"line_number"`
	Filename    string  `json:"filename"`
}

// flexInt принимает число как JSON-число или строку ("123456").
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("ожидалось целое число, получено %s", data)
	}
	f.Value, f.Set = n, true
	return nil
}

// UploadFile обрабатывает POST /api/v1/files.
// multipart/form-data: order_number, line_number, file.
// application/json: svg_content, order_number, line_number, filename.
// ?async=true — ответ 202 сразу после приёма, конвертация в фоне.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*h.maxFileSize+multipartOverhead)

	params, ok := h.parseUpload(w, r)
	if !ok {
		return
	}
	if c, isCloser := params.Content.(interface{ Close() error }); isCloser {
		defer c.Close()
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		rec, err := h.ingest.Submit(r.Context(), params)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, rec)
		return
	}

	rec, err := h.ingest.Ingest(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// parseUpload разбирает тело запроса. При ошибке ответ уже записан.
func (h *APIHandler) parseUpload(w http.ResponseWriter, r *http.Request) (service.IngestParams, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		var req uploadJSONRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if tooLarge(err) {
				apierrors.FileTooLarge(w, "Тело запроса превышает допустимый размер")
			} else {
				apierrors.ValidationError(w, "Некорректный JSON в теле запроса: "+err.Error())
			}
			return service.IngestParams{}, false
		}
		if req.SVGContent == "" {
			apierrors.ValidationError(w, "Поле svg_content обязательно")
			return service.IngestParams{}, false
		}
		if !req.OrderNumber.Set || !req.LineNumber.Set {
			apierrors.ValidationError(w, "Поля order_number и line_number обязательны")
			return service.IngestParams{}, false
		}
		filename := req.Filename
		if filename == "" {
			filename = defaultJSONFilename
		}
		return service.IngestParams{
			OrderNumber: req.OrderNumber.Value,
			LineNumber:  req.LineNumber.Value,
			Filename:    filename,
			Content:     bytes.NewReader([]byte(req.SVGContent)),
		}, true

	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			if tooLarge(err) {
				apierrors.FileTooLarge(w, "Тело запроса превышает допустимый размер")
			} else {
				apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
			}
			return service.IngestParams{}, false
		}
		orderStr, lineStr := r.FormValue("order_number"), r.FormValue("line_number")
		if orderStr == "" || lineStr == "" {
			apierrors.ValidationError(w, "Поля order_number и line_number обязательны")
			return service.IngestParams{}, false
		}
		order, errOrder := strconv.Atoi(orderStr)
		line, errLine := strconv.Atoi(lineStr)
		if errOrder != nil || errLine != nil {
			apierrors.ValidationError(w, "Поля order_number и line_number должны быть целыми числами")
			return service.IngestParams{}, false
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			apierrors.ValidationError(w, "Поле 'file' обязательно")
			return service.IngestParams{}, false
		}
		return service.IngestParams{
			OrderNumber: order,
			LineNumber:  line,
			Filename:    header.Filename,
			Content:     file,
		}, true

	default:
		apierrors.ValidationError(w, "Content-Type должен быть multipart/form-data или application/json")
		return service.IngestParams{}, false
	}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// ListFiles обрабатывает GET /api/v1/files?page=&per_page=.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", service.DefaultPerPage)

	result, err := h.query.List(r.Context(), page, perPage)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStats обрабатывает GET /api/v1/files/stats.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetFile обрабатывает GET /api/v1/files/{order}/{line}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}
	line, ok := intParam(w, r, "line")
	if !ok {
		return
	}

	rec, err := h.query.Get(r.Context(), order, line)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DownloadFile обрабатывает GET /api/v1/files/{order}/{line}/download/{kind}.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}
	line, ok := intParam(w, r, "line")
	if !ok {
		return
	}
	kind := service.ArtifactKind(strings.ToLower(chi.URLParam(r, "kind")))

	art, err := h.query.OpenArtifact(r.Context(), order, line, kind)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	serveArtifact(w, r, art)
}

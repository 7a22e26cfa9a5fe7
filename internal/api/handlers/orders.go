// orders.go — HTTP handlers заказа: строки, сводка, объединение PDF.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apierrors "github.com/bigkaa/svgconv/internal/api/errors"
	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/service"
)

// mergeRequest — необязательное тело POST /orders/{order}/merge.
type mergeRequest struct {
	LineNumbers []int `json:"line_numbers"`
}

// orderFilesResponse — ответ списка строк заказа.
type orderFilesResponse struct {
	Files []*model.FileRecord `json:"files"`
	Count int                 `json:"count"`
}

// ListOrderFiles обрабатывает GET /api/v1/orders/{order}/files.
func (h *APIHandler) ListOrderFiles(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}

	recs, err := h.query.ListByOrder(r.Context(), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderFilesResponse{Files: recs, Count: len(recs)})
}

// GetOrderSummary обрабатывает GET /api/v1/orders/{order}/summary.
func (h *APIHandler) GetOrderSummary(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}

	summary, err := h.query.OrderSummary(r.Context(), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// MergeOrder обрабатывает POST /api/v1/orders/{order}/merge.
// Тело необязательно: {"line_numbers": [3, 1, 2]} задаёт состав и порядок.
func (h *APIHandler) MergeOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}

	var req mergeRequest
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			apierrors.ValidationError(w, "Некорректный JSON в теле запроса: "+err.Error())
			return
		}
	}

	merged, err := h.merge.MergeOrder(r.Context(), order, req.LineNumbers)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, merged)
}

// ListMerged обрабатывает GET /api/v1/orders/{order}/merged.
func (h *APIHandler) ListMerged(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}

	list, err := h.merge.ListMerged(r.Context(), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListAllMerged обрабатывает GET /api/v1/merged: версии всех заказов, новые первыми.
func (h *APIHandler) ListAllMerged(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", service.DefaultPerPage)

	result, err := h.merge.ListAllMerged(r.Context(), page, perPage)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetMerged обрабатывает GET /api/v1/orders/{order}/merged/{seq}.
func (h *APIHandler) GetMerged(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}
	seq, ok := intParam(w, r, "seq")
	if !ok {
		return
	}

	m, err := h.merge.GetMerged(r.Context(), order, seq)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetLatestMerged обрабатывает GET /api/v1/orders/{order}/merged/latest.
func (h *APIHandler) GetLatestMerged(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}

	m, err := h.merge.LatestMerged(r.Context(), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DownloadLatestMerged обрабатывает GET /api/v1/orders/{order}/merged/latest/download.
func (h *APIHandler) DownloadLatestMerged(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}

	art, err := h.merge.OpenLatestMerged(r.Context(), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	serveArtifact(w, r, art)
}

// DownloadMerged обрабатывает GET /api/v1/orders/{order}/merged/{seq}/download.
func (h *APIHandler) DownloadMerged(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}
	seq, ok := intParam(w, r, "seq")
	if !ok {
		return
	}

	art, err := h.merge.OpenMerged(r.Context(), order, seq)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	serveArtifact(w, r, art)
}

package handlers

import (
	"net/http"

	"github.com/BaSui01/plankton/rag"
)

// HealthHandler 健康检查。
type HealthHandler struct {
	index *rag.Index
}

// NewHealthHandler 创建健康检查处理器。index 可为 nil。
func NewHealthHandler(index *rag.Index) *HealthHandler {
	return &HealthHandler{index: index}
}

// HandleHealth 处理 GET /health。
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	data := map[string]any{"status": "ok"}
	if h.index != nil {
		data["indexed_chunks"] = h.index.Len()
	}
	WriteSuccess(w, data)
}

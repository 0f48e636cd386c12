package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/store"
)

// ReviewHandler review 集合的写入接口：用户对回答的评价。
type ReviewHandler struct {
	store  store.Store
	logger *zap.Logger
}

// NewReviewHandler 创建审阅处理器。
func NewReviewHandler(st store.Store, logger *zap.Logger) *ReviewHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewHandler{
		store:  st,
		logger: logger.With(zap.String("component", "handlers.review")),
	}
}

// CreateReviewRequest POST /review 请求体。
type CreateReviewRequest struct {
	Question string `json:"question"`
	Response string `json:"response"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// HandleCreate 处理 POST /review。
func (h *ReviewHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateReviewRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Question == "" || req.Response == "" {
		WriteError(w, llm.NewError(llm.ErrInvalidRequest, "question and response are required"), h.logger)
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		WriteError(w, llm.NewError(llm.ErrInvalidRequest, "rating must be between 1 and 5"), h.logger)
		return
	}

	doc := store.Document{
		"id":       uuid.NewString(),
		"question": req.Question,
		"response": req.Response,
		"rating":   req.Rating,
		"date":     time.Now().UTC(),
	}
	if req.Comment != "" {
		doc["comment"] = req.Comment
	}
	if req.UserID != "" {
		doc["user_id"] = req.UserID
	}

	if err := h.store.Insert(r.Context(), store.CollectionReview, doc); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, doc)
}

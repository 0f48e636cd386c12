package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/store"
)

// UsersHandler users 集合的增查接口。
type UsersHandler struct {
	store  store.Store
	logger *zap.Logger
}

// NewUsersHandler 创建用户处理器。
func NewUsersHandler(st store.Store, logger *zap.Logger) *UsersHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsersHandler{
		store:  st,
		logger: logger.With(zap.String("component", "handlers.users")),
	}
}

// CreateUserRequest POST /users 请求体。
type CreateUserRequest struct {
	UserName  string `json:"user_name"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	ChatID    int64  `json:"chat_id,omitempty"`
}

// HandleList 处理 GET /users。支持 ?user_name= 过滤。
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{}
	if name := r.URL.Query().Get("user_name"); name != "" {
		filter["user_name"] = name
	}

	docs, err := h.store.Find(r.Context(), store.CollectionUsers, filter)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	WriteSuccess(w, docs)
}

// HandleCreate 处理 POST /users。
func (h *UsersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.UserName == "" {
		WriteError(w, llm.NewError(llm.ErrInvalidRequest, "user_name is required"), h.logger)
		return
	}

	doc := store.Document{
		"id":         uuid.NewString(),
		"user_name":  req.UserName,
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"created_at": time.Now().UTC(),
	}
	if req.ChatID != 0 {
		doc["chat_id"] = req.ChatID
	}

	if err := h.store.Insert(r.Context(), store.CollectionUsers, doc); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, doc)
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/controller"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

const maxImportBytes = 32 << 20

// Handler 聊天会话的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.With(zap.String("component", "handler.chat")),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleCloseSession)

			r.Post("/messages", h.handleSendMessage)
			r.Post("/messages/{messageID}/retry", h.handleRetryMessage)
			r.Post("/messages/{messageID}/cancel", h.handleCancelMessage)
			r.Delete("/messages/{messageID}", h.handleDeleteMessage)

			r.Post("/attachments", h.handleAddAttachment)
			r.Delete("/attachments/{attachmentID}", h.handleRemoveAttachment)

			r.Patch("/settings", h.handleUpdateSettings)
			r.Post("/clear", h.handleClear)
			r.Post("/reset", h.handleReset)
			r.Get("/export", h.handleExport)
			r.Post("/import", h.handleImport)

			r.Post("/threads", h.handleCreateThread)
			r.Put("/threads/selected", h.handleSelectThread)
			r.Delete("/threads/{threadID}", h.handleDeleteThread)
		})
	})
}

// sessionView 是会话对外的JSON表示
type sessionView struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
	Busy      bool          `json:"busy"`
	State     session.State `json:"state"`
}

func viewOf(sess *chatService.Session) sessionView {
	return sessionView{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		Busy:      sess.Controller.Busy(),
		State:     sess.Controller.Snapshot(),
	}
}

// lookup 解析路径中的会话，不存在时直接写出404
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*chatService.Session, bool) {
	sess, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return sess, true
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, viewOf(sess))
}

// handleGetSession 返回会话当前状态
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

// handleCloseSession 关闭并释放会话
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage 发送用户消息并等待模型回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Content     string            `json:"content"`
		Attachments []chat.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 客户端断开不应中断已提交的消息
	ctx := context.WithoutCancel(r.Context())
	if err := sess.Controller.SendMessage(ctx, payload.Content, payload.Attachments); err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

// handleRetryMessage 重试一条用户消息
func (h *Handler) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if err := sess.Controller.RetryMessage(ctx, chi.URLParam(r, "messageID")); err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

// handleCancelMessage 取消消息
func (h *Handler) handleCancelMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.CancelMessage(chi.URLParam(r, "messageID")); err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.DeleteMessage(chi.URLParam(r, "messageID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddAttachment 校验并添加待发送附件
func (h *Handler) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var att chat.Attachment
	if err := json.NewDecoder(r.Body).Decode(&att); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	added, err := sess.Controller.AddAttachment(att)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, added)
}

func (h *Handler) handleRemoveAttachment(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Controller.RemoveAttachment(chi.URLParam(r, "attachmentID"))
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateSettings 部分更新会话设置
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var patch chat.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.Controller.UpdateSettings(r.Context(), patch))
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Controller.ClearChat()
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Controller.ResetSession()
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

// handleExport 以附件形式导出会话
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	blob, err := sess.Controller.ExportSession()
	if err != nil {
		h.writeError(w, err)
		return
	}

	filename := fmt.Sprintf("chat-export-%s.json", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, blob); err != nil {
		h.logger.Warn("failed to write export", zap.Error(err))
	}
}

// handleImport 导入会话，格式错误时保持原状态
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "import blob too large")
		return
	}

	if err := sess.Controller.ImportSession(r.Context(), string(body)); err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

func (h *Handler) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	utils.RespondJSON(w, http.StatusCreated, sess.Controller.CreateThread(r.Context(), payload.Title))
}

// handleSelectThread 选择线程，id 为 null 时取消选择
func (h *Handler) handleSelectThread(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		ID *string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sess.Controller.SelectThread(payload.ID); err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

func (h *Handler) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.DeleteThread(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError 将领域错误映射为HTTP状态码
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *controller.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.RespondReason(w, http.StatusBadRequest, verr.Error(), verr.Reason)
	case errors.Is(err, chatService.ErrSessionNotFound),
		errors.Is(err, controller.ErrMessageNotFound),
		errors.Is(err, controller.ErrThreadNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, controller.ErrSendInProgress):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, controller.ErrEmptyMessage),
		errors.Is(err, controller.ErrInvalidImport):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

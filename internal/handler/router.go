package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/z-chat/backend/internal/handler/realtime"
	"github.com/zhouzirui/z-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/z-chat/backend/internal/middleware"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, gateway ai.Gateway, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc, logger)
	streamHandler := stream.New(chatSvc, logger)
	realtimeHandler := realtime.New(gateway, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": len(chatSvc.SessionIDs()),
		})
	})

	r.Route("/api", func(api chi.Router) {
		// REST 会话操作
		chatHandler.RegisterRoutes(api)

		// 状态快照推送
		streamHandler.RegisterRoutes(api)

		// transport.Channel 客户端的补全对端
		realtimeHandler.RegisterRoutes(api)
	})

	return r
}

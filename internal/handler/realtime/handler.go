// Package realtime serves the websocket peer that transport.Channel clients
// talk to. Every frame carrying an id is acknowledged; chat:complete frames
// are answered by the configured completion gateway.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/stream"
	"github.com/zhouzirui/z-chat/backend/internal/service/transport"
)

const (
	readTimeout  = 75 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler WebSocket 对端处理器
type Handler struct {
	gateway  ai.Gateway
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(gateway ai.Gateway, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gateway: gateway,
		logger:  logger.With(zap.String("component", "handler.realtime")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// peer 串行化同一连接上的写操作
type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *zap.Logger
}

func (p *peer) write(frame transport.Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return p.conn.WriteJSON(frame)
}

func (p *peer) emit(event string, payload any) error {
	frame, err := transport.NewFrame(event, payload)
	if err != nil {
		return err
	}
	return p.write(frame)
}

func (p *peer) ack(request transport.Frame, payload any, ackErr error) {
	if request.ID == "" {
		return
	}
	frame, err := transport.AckFrame(request, payload, ackErr)
	if err != nil {
		p.logger.Warn("failed to build ack", zap.String("event", request.Event), zap.Error(err))
		return
	}
	if err := p.write(frame); err != nil {
		p.logger.Debug("ack write failed", zap.String("event", request.Event), zap.Error(err))
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	p := &peer{conn: conn, logger: h.logger}
	h.logger.Info("peer connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		h.logger.Info("peer disconnected", zap.String("remote", r.RemoteAddr))
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, p)
	}()

	for {
		var frame transport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch frame.Event {
		case transport.EventPing:
			if err := p.emit(transport.EventPong, frame.Payload); err != nil {
				return
			}
		case ai.EventComplete:
			// 补全可能较慢，放到独立goroutine中以免阻塞心跳
			wg.Add(1)
			go func(frame transport.Frame) {
				defer wg.Done()
				h.serveCompletion(ctx, p, frame)
			}(frame)
		case transport.EventAck, transport.EventPong:
		default:
			p.ack(frame, nil, nil)
		}
	}
}

// serveCompletion 调用模型并回应ack；流式请求先发送 stream:* 帧再ack
func (h *Handler) serveCompletion(ctx context.Context, p *peer, frame transport.Frame) {
	var req ai.Request
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		p.ack(frame, nil, fmt.Errorf("invalid completion request: %w", err))
		return
	}
	if h.gateway == nil {
		p.ack(frame, nil, errors.New("no completion gateway configured"))
		return
	}

	if sg, ok := h.gateway.(ai.StreamingGateway); ok && req.Stream {
		resp, err := h.streamCompletion(ctx, p, sg, req)
		p.ack(frame, resp, err)
		return
	}

	resp, err := h.gateway.Complete(ctx, req)
	if err != nil {
		h.logger.Warn("completion failed", zap.Error(err))
	}
	p.ack(frame, resp, err)
}

func (h *Handler) streamCompletion(ctx context.Context, p *peer, sg ai.StreamingGateway, req ai.Request) (*ai.Response, error) {
	start := time.Now()
	s, err := sg.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := p.emit(stream.EventStart, stream.StartPayload{}); err != nil {
		return nil, err
	}
	for {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = p.emit(stream.EventError, stream.ErrorPayload{Error: err.Error()})
			return nil, err
		}
		if err := p.emit(stream.EventData, stream.DataPayload{Content: fragment}); err != nil {
			return nil, err
		}
	}

	resp := s.Response()
	meta := &chat.Metadata{
		Model:           resp.Model,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if resp.Usage != nil {
		meta.Tokens = resp.Usage.TotalTokens
	}
	if resp.Cost != nil {
		meta.Cost = *resp.Cost
	}
	for _, call := range resp.ToolCalls {
		meta.Tools = append(meta.Tools, call.Name)
	}
	if err := p.emit(stream.EventEnd, stream.EndPayload{Metadata: meta}); err != nil {
		return nil, err
	}
	return resp, nil
}

// pingLoop 定期发送ping控制帧
func (h *Handler) pingLoop(ctx context.Context, p *peer) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// =============================================================================
// 📡 WebSocket 事件广播
// =============================================================================

const (
	// 每个订阅者的事件缓冲大小，写满后丢弃事件而不是阻塞运行
	subscriberBuffer = 64

	// 单条消息的写超时
	writeTimeout = 5 * time.Second
)

// Hub 把引擎生命周期事件广播给所有 WebSocket 订阅者。
// 实现 workflow.Emitter，可直接挂到引擎上；慢客户端只丢事件，不会拖慢运行。
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	closed  bool
	dropped int64
}

type subscriber struct {
	ch chan []byte
}

var _ workflow.Emitter = (*Hub)(nil)

// NewHub 创建事件广播器
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger.With(zap.String("component", "event_hub")),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Emit 把事件序列化后广播给所有订阅者。缓冲写满的订阅者丢弃该事件。
func (h *Hub) Emit(e workflow.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for sub := range h.subs {
		select {
		case sub.ch <- payload:
		default:
			h.dropped++
		}
	}
}

// ServeHTTP 把请求升级为 WebSocket 并推送事件流
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := h.subscribe()
	if sub == nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unsubscribe(sub)

	h.logger.Debug("event subscriber connected", zap.String("remote", r.RemoteAddr))

	// 事件流是单向的，CloseRead 负责发现客户端断开
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, payload); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

// subscribe 注册一个订阅者，Hub 已关闭时返回 nil
func (h *Hub) subscribe() *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	h.subs[sub] = struct{}{}
	return sub
}

// unsubscribe 移除订阅者。通道由 Close 统一关闭，这里只摘除引用。
func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// Subscribers 返回当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 返回因缓冲写满被丢弃的事件数
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close 关闭 Hub 并断开所有订阅者，之后 Emit 为空操作
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = make(map[*subscriber]struct{})
}

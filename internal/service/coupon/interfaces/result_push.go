// internal/service/coupon/interfaces/result_push.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"couponhub/internal/pkg/logger"
	"couponhub/internal/service/coupon/application/issue"
	"couponhub/internal/service/coupon/port"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
		return true
	},
}

// resultClient 是一个等待发券结果的 WebSocket 连接，按 requestId 订阅。
type resultClient struct {
	conn *websocket.Conn
	send chan []byte
}

// ResultPushHub 把 worker 写到结果流里的记录推给还在等待的客户端。
// 每个网关节点用独立的消费组 + 独立的消费者身份消费结果流，
// 节点之间互不竞争，每个节点都能看到全部结果，各自推给自己的连接。
type ResultPushHub struct {
	log            port.OrderedLog
	issueStreamKey string
	group          string
	consumer       string

	mu      sync.RWMutex
	clients map[string]*resultClient // requestId -> client

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResultPushHub 创建结果推送 hub。每个进程的消费组名都不同，
// 这样多实例部署时结果会广播到所有节点。
func NewResultPushHub(log port.OrderedLog, issueStreamKey string) *ResultPushHub {
	suffix := uuid.New().String()[:8]
	return &ResultPushHub{
		log:            log,
		issueStreamKey: issueStreamKey,
		group:          "result-push-" + suffix,
		consumer:       "gateway-" + suffix,
		clients:        make(map[string]*resultClient),
		done:           make(chan struct{}),
	}
}

// Start 建组并拉起结果流的消费循环。
func (h *ResultPushHub) Start(ctx context.Context) error {
	if err := h.log.EnsureGroup(ctx, h.issueStreamKey, h.group); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	go h.consumeLoop(ctx)
	return nil
}

// Stop 停止消费循环并关闭所有连接。
func (h *ResultPushHub) Stop(ctx context.Context) {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	for requestID, client := range h.clients {
		close(client.send)
		delete(h.clients, requestID)
	}
}

func (h *ResultPushHub) consumeLoop(ctx context.Context) {
	defer close(h.done)
	for {
		if ctx.Err() != nil {
			return
		}
		records, err := h.log.ReadGroup(ctx, h.issueStreamKey, h.group, h.consumer, 64, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Ctx(ctx).Error().Err(err).Msg("failed to read issue result stream")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, record := range records {
			h.dispatch(ctx, record)
			if err := h.log.Ack(ctx, h.issueStreamKey, h.group, record.ID); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("record_id", record.ID).Msg("failed to ack result record")
			}
		}
	}
}

// dispatch 把一条结果记录推给订阅它的客户端。
// 没人订阅（客户端在别的节点，或早就断开）就静默丢弃。
func (h *ResultPushHub) dispatch(ctx context.Context, record port.LogRecord) {
	requestID := record.Values[issue.FieldRequestID]
	if requestID == "" {
		return
	}

	h.mu.RLock()
	client, ok := h.clients[requestID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(record.Values)
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
		// 客户端写缓冲已满，放弃这条推送
		logger.Ctx(ctx).Warn().Str("request_id", requestID).Msg("result push buffer full, dropping message")
	}
}

// ServeWS 把 HTTP 连接升级为 WebSocket 并按 requestId 订阅结果。
// 一个 requestId 只对应一个连接，后来的顶掉先来的。
func (h *ResultPushHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		http.Error(w, "requestId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &resultClient{conn: conn, send: make(chan []byte, 16)}
	h.mu.Lock()
	if old, ok := h.clients[requestID]; ok {
		close(old.send)
	}
	h.clients[requestID] = client
	h.mu.Unlock()

	go h.writePump(requestID, client)
	go h.readPump(requestID, client)
}

// writePump 把 send channel 里的消息写进连接。
// 推送完第一条结果就主动关闭：一个请求只有一个结果。
func (h *ResultPushHub) writePump(requestID string, client *resultClient) {
	defer client.conn.Close()
	for payload := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
		h.unregister(requestID, client)
		return
	}
}

// readPump 只负责发现连接断开，读到错误就注销客户端。
func (h *ResultPushHub) readPump(requestID string, client *resultClient) {
	defer client.conn.Close()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.unregister(requestID, client)
			return
		}
	}
}

func (h *ResultPushHub) unregister(requestID string, client *resultClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[requestID]; ok && current == client {
		delete(h.clients, requestID)
		close(client.send)
	}
}

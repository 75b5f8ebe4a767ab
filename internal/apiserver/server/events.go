// Package server WebSocket 事件网关
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/pkg/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second

	// wsSendBuffer 单连接发送缓冲；慢客户端写满后丢弃消息
	wsSendBuffer = 64
)

// EventGateway WebSocket 事件网关
//
// 以独立消费组订阅工作流生命周期 Topic，把事件按 workflow_id
// 推送给订阅该工作流的 WebSocket 客户端。网关是纯扇出组件：
// 不回放历史事件，连接建立后只收到之后发生的事件。
type EventGateway struct {
	consumer eventbus.Consumer
	metrics  *Metrics
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*wsClient]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// wsClient 单个 WebSocket 连接
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewEventGateway 创建事件网关并启动消费
func NewEventGateway(bus eventbus.Bus, cellID string, metrics *Metrics) *EventGateway {
	g := &EventGateway{
		metrics: metrics,
		logger:  logging.Default("ws.gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[string]map[*wsClient]struct{}{},
	}

	lifecycle := []model.EventType{
		model.EventWorkflowStarted,
		model.EventWorkflowStepCompleted,
		model.EventWorkflowCompleted,
		model.EventWorkflowFailed,
	}
	topics := make([]string, 0, len(lifecycle))
	for _, et := range lifecycle {
		topics = append(topics, et.Topic())
	}
	g.consumer = bus.NewConsumer(cellID+"-ws-gateway-group", topics)
	for _, et := range lifecycle {
		g.consumer.RegisterHandler(et, g.onEvent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.consumer.Run(ctx); err != nil {
			g.logger.WithError(err).Error("gateway consumer exited")
		}
	}()
	return g
}

// Stop 停止网关并断开全部客户端
func (g *EventGateway) Stop() {
	g.consumer.Stop()
	g.cancel()
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, conns := range g.clients {
		for c := range conns {
			c.close()
		}
	}
	g.clients = map[string]map[*wsClient]struct{}{}
}

// onEvent 按 workflow_id 扇出事件
func (g *EventGateway) onEvent(ctx context.Context, event *model.Event) error {
	workflowID, _ := event.Data["workflow_id"].(string)
	if workflowID == "" {
		return nil
	}

	g.mu.Lock()
	conns := g.clients[workflowID]
	if len(conns) == 0 {
		g.mu.Unlock()
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	targets := make([]*wsClient, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
			if g.metrics != nil {
				g.metrics.WSMessagesTotal.WithLabelValues(string(event.EventType)).Inc()
			}
		default:
			// 慢客户端：丢弃而不是阻塞消费循环
		}
	}
	return nil
}

// ServeWS 处理 WebSocket 订阅
//
// 路由: GET /api/v1/workflows/{id}/events
func (g *EventGateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "missing workflow id")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	g.register(workflowID, client)
	if g.metrics != nil {
		g.metrics.WSConnectionsActive.Inc()
	}

	go g.writePump(client)

	// 读循环仅用于感知连接关闭
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	g.unregister(workflowID, client)
	client.close()
	if g.metrics != nil {
		g.metrics.WSConnectionsActive.Dec()
	}
}

func (g *EventGateway) register(workflowID string, c *wsClient) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients[workflowID] == nil {
		g.clients[workflowID] = map[*wsClient]struct{}{}
	}
	g.clients[workflowID][c] = struct{}{}
}

func (g *EventGateway) unregister(workflowID string, c *wsClient) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients[workflowID], c)
	if len(g.clients[workflowID]) == 0 {
		delete(g.clients, workflowID)
	}
}

// writePump 把事件写入连接，定期发送 ping 保活
func (g *EventGateway) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteTimeout))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

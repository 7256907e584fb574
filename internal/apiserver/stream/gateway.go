// Package stream 流式进度网关 - SSE/WebSocket 转发
//
// 把事件总线上的运行轨迹事件转发给观察者：SSE 供流式触发与
// 命令行客户端消费，WebSocket 供 UI 消费。两条传输承载同一事件
// 序列：先回放历史再跟随实时，晚到或重连的观察者收敛到相同进度；
// 观察者断开只结束转发，不影响运行本身。
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/model"
)

// WebSocket 连接参数
const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ============================================================================
// Gateway
// ============================================================================

// Gateway 运行轨迹事件网关
type Gateway struct {
	events eventbus.TraceEventBus
}

// NewGateway 创建网关（events 为 nil 时回落空实现，流立即结束）
func NewGateway(events eventbus.TraceEventBus) *Gateway {
	if events == nil {
		events = eventbus.NewNoOpEventBus()
	}
	return &Gateway{events: events}
}

// ============================================================================
// SSE 转发
// ============================================================================

// ServeSSE 把一条运行的事件流写成 SSE 帧
//
// 从 fromID 起回放（空值从头），写到终结事件（done/error）为止。
// 事件流意外结束（总线关闭、上下文取消）时直接返回：客户端的
// 契约是流内没等到终结事件就回落同步接口，网关不负责补发结果。
func (g *Gateway) ServeSSE(ctx context.Context, w http.ResponseWriter, runID, fromID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	writeSSEHeaders(w)
	flusher.Flush()

	ch, err := g.events.SubscribeTraceEvents(ctx, runID, fromID)
	if err != nil {
		return fmt.Errorf("subscribe trace events for run %s: %w", runID, err)
	}

	observersActive.WithLabelValues("sse").Inc()
	defer observersActive.WithLabelValues("sse").Dec()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, open := <-ch:
			if !open {
				return nil
			}
			if ev == nil || ev.Event == nil {
				continue
			}
			if err := writeSSEFrame(w, flusher, ev.ID, ev.Event); err != nil {
				return err
			}
			eventsForwardedTotal.WithLabelValues("sse").Inc()
			if ev.Event.Type.IsTerminal() {
				return nil
			}
		}
	}
}

// WriteResult 把一个合成的终结事件写成单帧 SSE 流
//
// 触发被去重/任务停用这类没有运行记录的场合使用：观察者依然
// 通过流收到一个 done 事件，契约上与正常运行一致。
func WriteResult(w http.ResponseWriter, ev *model.StreamEvent) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}
	writeSSEHeaders(w)
	return writeSSEFrame(w, flusher, "", ev)
}

func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// writeSSEFrame 写一帧：可选 id 行 + data 行 + 空行分隔
//
// id 行携带事件总线消息 ID，客户端重连时经 Last-Event-ID 续传。
func writeSSEFrame(w io.Writer, flusher http.Flusher, id string, ev *model.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// ============================================================================
// WebSocket 转发
// ============================================================================

// ServeWS 经已升级的 WebSocket 连接转发同一事件流
//
// 每个事件一条文本消息，负载与 SSE 的 data 行相同。终结事件后
// 发送正常关闭帧。客户端断开由读泵感知并取消转发。
func (g *Gateway) ServeWS(ctx context.Context, conn *websocket.Conn, runID, fromID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 读泵：消费控制帧，客户端断开时取消转发
	go func() {
		defer cancel()
		conn.SetReadLimit(wsReadLimit)
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[Stream/WS] read error: run=%s err=%v", runID, err)
				}
				return
			}
		}
	}()

	ch, err := g.events.SubscribeTraceEvents(ctx, runID, fromID)
	if err != nil {
		return fmt.Errorf("subscribe trace events for run %s: %w", runID, err)
	}

	observersActive.WithLabelValues("ws").Inc()
	defer observersActive.WithLabelValues("ws").Dec()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case ev, open := <-ch:
			if !open {
				return nil
			}
			if ev == nil || ev.Event == nil {
				continue
			}
			data, err := json.Marshal(ev.Event)
			if err != nil {
				return fmt.Errorf("marshal stream event: %w", err)
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
			eventsForwardedTotal.WithLabelValues("ws").Inc()
			if ev.Event.Type.IsTerminal() {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return nil
			}
		}
	}
}

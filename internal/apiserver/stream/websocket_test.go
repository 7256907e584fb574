// Package stream WebSocket 转发集成测试
//
// 使用 httptest.Server + gorilla/websocket 客户端验证实际消息传递：
//   - 回放历史事件并在终结事件后正常关闭
//   - 实时推送（订阅通道驱动）
//   - 升级前的运行校验（404 拒绝握手）
//   - from 查询参数断点续传
package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/model"
)

// newWSServer 启动挂载流式路由的测试服务器，返回 ws:// 基地址
func newWSServer(t *testing.T, store *mockRunStore, bus eventbus.TraceEventBus) (*httptest.Server, string) {
	t.Helper()
	mux := newTestMux(store, bus)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

// readEvent 读取一条文本消息并解析为流事件
func readEvent(t *testing.T, conn *websocket.Conn) *model.StreamEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var ev model.StreamEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal error: %v, msg: %s", err, msg)
	}
	return &ev
}

// TestStreamWS_ReplaysAndCloses 回放历史事件，终结后正常关闭
func TestStreamWS_ReplaysAndCloses(t *testing.T) {
	store := newMockStore()
	seedRun(store, "run-1")
	bus := &stubBus{events: []*eventbus.TraceEvent{
		traceEvent("1-0", 1, &model.StreamEvent{Type: model.StreamEventStarted, RunID: "run-1"}),
		traceEvent("2-0", 2, &model.StreamEvent{
			Type:   model.StreamEventDone,
			RunID:  "run-1",
			Result: &model.TriggerResult{OK: true, RunID: "run-1"},
		}),
	}}
	_, wsURL := newWSServer(t, store, bus)

	client, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/runs/run-1/trace", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer client.Close()

	first := readEvent(t, client)
	if first.Type != model.StreamEventStarted {
		t.Errorf("消息 1 类型 = %s, 期望 started", first.Type)
	}
	second := readEvent(t, client)
	if second.Type != model.StreamEventDone || second.Result == nil || !second.Result.OK {
		t.Errorf("消息 2 = %+v, 期望携带结果的 done", second)
	}

	// 终结事件后服务端发送正常关闭帧
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("关闭错误 = %v, 期望 CloseNormalClosure", err)
	}
}

// TestStreamWS_LiveEvents 实时推送模式
func TestStreamWS_LiveEvents(t *testing.T) {
	store := newMockStore()
	seedRun(store, "run-1")
	liveCh := make(chan *eventbus.TraceEvent, 10)
	bus := &stubBus{liveCh: liveCh}
	_, wsURL := newWSServer(t, store, bus)

	client, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/runs/run-1/trace", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer client.Close()

	detail := "fetched 12 items"
	liveCh <- traceEvent("1-0", 1, &model.StreamEvent{
		Type:  model.StreamEventStep,
		RunID: "run-1",
		Trace: &model.StepTraceUpdate{StepID: "s2", Status: model.StepStatusCompleted, Detail: &detail},
	})

	ev := readEvent(t, client)
	if ev.Type != model.StreamEventStep || ev.Trace == nil || ev.Trace.StepID != "s2" {
		t.Errorf("事件 = %+v, 期望 s2 的 step 更新", ev)
	}

	liveCh <- traceEvent("2-0", 2, &model.StreamEvent{
		Type:   model.StreamEventDone,
		RunID:  "run-1",
		Result: &model.TriggerResult{OK: true, RunID: "run-1"},
	})

	done := readEvent(t, client)
	if done.Type != model.StreamEventDone {
		t.Errorf("事件类型 = %s, 期望 done", done.Type)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("关闭错误 = %v, 期望 CloseNormalClosure", err)
	}
}

// TestStreamWS_RunNotFound 运行不存在时握手前拒绝
func TestStreamWS_RunNotFound(t *testing.T) {
	_, wsURL := newWSServer(t, newMockStore(), &stubBus{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/runs/run-x/trace", nil)
	if err == nil {
		t.Fatal("期望握手失败")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("握手响应 = %+v, 期望 404", resp)
	}
	resp.Body.Close()
}

// TestStreamWS_ResumeFromQuery from 参数透传给订阅
func TestStreamWS_ResumeFromQuery(t *testing.T) {
	store := newMockStore()
	seedRun(store, "run-1")
	bus := &stubBus{events: []*eventbus.TraceEvent{
		traceEvent("9-0", 9, &model.StreamEvent{Type: model.StreamEventDone, RunID: "run-1"}),
	}}
	_, wsURL := newWSServer(t, store, bus)

	client, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/runs/run-1/trace?from=8-0", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer client.Close()

	// 先读到事件，确保订阅已发生
	readEvent(t, client)

	if got := bus.subscribedFrom(); got != "8-0" {
		t.Errorf("订阅 fromID = %q, 期望 8-0", got)
	}
}

// Package streamclient 流式触发的命令行/程序化客户端
//
// 以显式状态机（subscribing → streaming → finalized）消费流式
// 触发接口：打开失败回落同步触发；流中途静默关闭先按
// Last-Event-ID 在运行事件流上续传，续传耗尽再回落。调用方
// 无论走哪条路径都观察到一个终结结果，语义上等价于一次
// 同步调用。
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"missions-admin/internal/shared/model"
)

// EventFunc 每个流事件到达时回调
//
// view 是事件并入后的进度视图，回调内只读不持有。nil 回调
// 表示调用方只要终结结果，不观察中间进度。
type EventFunc func(ev *model.StreamEvent, view *RunView)

// ============================================================================
// Client
// ============================================================================

// Config 客户端配置
type Config struct {
	BaseURL string // API Server 地址，如 http://localhost:8080
	Token   string // Bearer 访问令牌，空值不携带认证头

	// HTTPClient 可选。事件流是长连接，默认客户端不设整体
	// 超时，生命周期由调用方的 ctx 控制。
	HTTPClient *http.Client

	ResumeAttempts int           // 流中断后的续传次数，默认 1
	PollInterval   time.Duration // 回落轮询运行记录的间隔，默认 2s
}

// Client 任务触发与运行观察客户端
type Client struct {
	cfg  Config
	http *http.Client
}

// New 创建客户端
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ResumeAttempts <= 0 {
		cfg.ResumeAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, http: hc}
}

// ============================================================================
// 触发
// ============================================================================

// TriggerStream 流式触发一次运行并跟随到终结
//
// 订阅阶段失败（连接拒绝、非 200、非事件流响应）回落同步触发：
// 服务端尚未发射运行，重复触发由幂等声明折叠。流中途中断且已
// 从 started 事件得知运行 ID 时，先在运行事件流上按最后事件 ID
// 续传；续传次数耗尽后同样回落。
func (c *Client) TriggerStream(ctx context.Context, missionID string, onEvent EventFunc) (*Outcome, error) {
	s := newSession(onEvent)

	err := c.followStream(ctx, s, c.cfg.BaseURL+"/api/v1/missions/"+missionID+"/trigger/stream", "")
	if s.state == StateFinalized {
		return s.outcome(false), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// streaming 阶段中断：运行已在服务端推进，优先续传拿真实结果
	for attempt := 1; s.state == StateStreaming && s.view.RunID != "" && attempt <= c.cfg.ResumeAttempts; attempt++ {
		log.Printf("[StreamClient/Resume] stream interrupted, resuming: run=%s from=%s attempt=%d",
			s.view.RunID, s.lastEventID, attempt)
		err = c.followStream(ctx, s, c.cfg.BaseURL+"/api/v1/runs/"+s.view.RunID+"/stream", s.lastEventID)
		if s.state == StateFinalized {
			return s.outcome(false), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	log.Printf("[StreamClient/Fallback] falling back to sync trigger: mission=%s state=%s err=%v",
		missionID, s.state, err)
	result, ferr := c.TriggerSync(ctx, missionID)
	if ferr != nil {
		return nil, fmt.Errorf("stream failed and sync fallback failed: %w", ferr)
	}
	s.finalize(result)
	return s.outcome(true), nil
}

// TriggerSync 调同步触发接口，阻塞到运行终态
//
// 运行失败同样返回 HTTP 200，成败在结果体里；非 200 表示调用
// 本身失败。
func (c *Client) TriggerSync(ctx context.Context, missionID string) (*model.TriggerResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v1/missions/"+missionID+"/trigger", nil)
	if err != nil {
		return nil, fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync trigger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync trigger: %s", readErrorBody(resp))
	}
	var result model.TriggerResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode trigger result: %w", err)
	}
	return &result, nil
}

// ============================================================================
// 运行观察
// ============================================================================

// WatchRun 跟随一条已存在运行的事件流到终结
//
// fromID 非空时从该事件之后续传（网关回放缺失的部分）。流失败
// 时回落轮询运行记录——观察已有运行没有触发语义，回落不经过
// 触发接口。
func (c *Client) WatchRun(ctx context.Context, runID, fromID string, onEvent EventFunc) (*Outcome, error) {
	s := newSession(onEvent)
	s.view.RunID = runID
	s.lastEventID = fromID

	url := c.cfg.BaseURL + "/api/v1/runs/" + runID + "/stream"
	err := c.followStream(ctx, s, url, s.lastEventID)
	for attempt := 1; s.state == StateStreaming && attempt <= c.cfg.ResumeAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[StreamClient/Resume] stream interrupted, resuming: run=%s from=%s attempt=%d",
			runID, s.lastEventID, attempt)
		err = c.followStream(ctx, s, url, s.lastEventID)
	}
	if s.state == StateFinalized {
		return s.outcome(false), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	log.Printf("[StreamClient/Fallback] falling back to run polling: run=%s err=%v", runID, err)
	result, perr := c.pollRun(ctx, runID)
	if perr != nil {
		return nil, fmt.Errorf("stream failed and run polling failed: %w", perr)
	}
	s.finalize(result)
	return s.outcome(true), nil
}

// GetRun 读取一条运行记录
func (c *Client) GetRun(ctx context.Context, runID string) (*model.MissionRun, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/api/v1/runs/"+runID, nil)
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get run: %s", readErrorBody(resp))
	}
	var payload struct {
		Run *model.MissionRun `json:"run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	if payload.Run == nil {
		return nil, fmt.Errorf("run %s missing in response", runID)
	}
	return payload.Run, nil
}

// pollRun 轮询运行记录直到终态
func (c *Client) pollRun(ctx context.Context, runID string) (*model.TriggerResult, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.IsTerminal() {
			return model.ResultFromRun(run), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ============================================================================
// 流跟随
// ============================================================================

// followStream 打开一条 SSE 流并把事件喂给会话
//
// 会话终结返回 nil；流在终结事件前耗尽（静默关闭）也返回 nil，
// 由调用方按会话状态决定续传或回落；打开失败与读失败返回错误。
func (c *Client) followStream(ctx context.Context, s *session, url, fromID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if fromID != "" {
		req.Header.Set("Last-Event-ID", fromID)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: %s", readErrorBody(resp))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("open stream: unexpected content type %q", ct)
	}

	frames := newSSEReader(resp.Body)
	for {
		f, err := frames.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if f.ID != "" {
			s.lastEventID = f.ID
		}
		var ev model.StreamEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			log.Printf("[StreamClient/Parse] drop malformed event: err=%v", err)
			continue
		}
		if s.observe(&ev) {
			return nil
		}
	}
}

// ============================================================================
// 认证
// ============================================================================

// Login 用邮箱密码换取访问令牌
//
// 成功后令牌存入客户端，后续请求自动携带。供交互式客户端在
// 建立观察前调用，不做并发期间的令牌轮换。
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: %s", readErrorBody(resp))
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("login: response carries no access token")
	}
	c.cfg.Token = payload.AccessToken
	return payload.AccessToken, nil
}

// ============================================================================
// 工具函数
// ============================================================================

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// readErrorBody 提取服务端错误信息（{"error": msg} 体或状态码）
func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

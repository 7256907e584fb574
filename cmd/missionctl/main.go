// Package main missionctl - 命令行触发与运行观察工具
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"missions-admin/internal/shared/model"
	"missions-admin/pkg/streamclient"
)

const usage = `missionctl - 任务触发与运行观察

用法:
  missionctl trigger <mission-id>   流式触发一次运行并跟随进度
  missionctl watch <run-id>         跟随一条已存在的运行
  missionctl run <run-id>           打印一条运行的最终结果

环境变量:
  MISSIONS_API_URL    API Server 地址（默认 http://localhost:8080）
  MISSIONS_TOKEN      访问令牌
  MISSIONS_EMAIL      没有令牌时用邮箱口令登录
  MISSIONS_PASSWORD
`

func main() {
	if len(os.Args) < 3 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := streamclient.New(streamclient.Config{
		BaseURL: getEnv("MISSIONS_API_URL", "http://localhost:8080"),
		Token:   os.Getenv("MISSIONS_TOKEN"),
	})

	if os.Getenv("MISSIONS_TOKEN") == "" {
		email, password := os.Getenv("MISSIONS_EMAIL"), os.Getenv("MISSIONS_PASSWORD")
		if email != "" && password != "" {
			if _, err := client.Login(ctx, email, password); err != nil {
				log.Fatalf("Login failed: %v", err)
			}
		}
	}

	var (
		out *streamclient.Outcome
		err error
	)
	switch cmd, arg := os.Args[1], os.Args[2]; cmd {
	case "trigger":
		out, err = client.TriggerStream(ctx, arg, printEvent)
	case "watch":
		out, err = client.WatchRun(ctx, arg, "", printEvent)
	case "run":
		var run *model.MissionRun
		run, err = client.GetRun(ctx, arg)
		if err == nil {
			out = &streamclient.Outcome{Result: model.ResultFromRun(run)}
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	printResult(out)
	if !out.Result.OK {
		os.Exit(1)
	}
}

// printEvent 每个进度事件打一行
func printEvent(ev *model.StreamEvent, _ *streamclient.RunView) {
	switch ev.Type {
	case model.StreamEventStarted:
		fmt.Printf("run %s started: %d steps\n", ev.RunID, len(ev.Traces))
	case model.StreamEventStep:
		if ev.Trace != nil {
			fmt.Printf("  step %-14s %s\n", stepLabel(ev.Trace), ev.Trace.Status)
		}
	}
}

func stepLabel(u *model.StepTraceUpdate) string {
	if u.StepID != "" {
		return u.StepID
	}
	return string(u.Type)
}

// printResult 打印终结结果与逐步轨迹
func printResult(out *streamclient.Outcome) {
	r := out.Result
	switch {
	case r.Skipped:
		fmt.Printf("skipped: %s\n", r.Reason)
	case r.OK:
		fmt.Printf("ok: run=%s\n", r.RunID)
	default:
		fmt.Printf("failed: run=%s reason=%s error=%s\n", r.RunID, r.Reason, r.Error)
	}
	for _, t := range r.StepTraces {
		fmt.Printf("  %-14s %-9s %s\n", t.StepID, t.Status, t.Detail)
	}
	for _, res := range r.Results {
		fmt.Printf("  output %-14s channel=%s delivered=%v %s\n", res.StepID, res.Channel, res.Delivered, res.Detail)
	}
	if out.FellBack {
		fmt.Println("(result obtained via fallback)")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

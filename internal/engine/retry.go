// Package engine 瞬态错误与步骤内重试
package engine

import (
	"context"
	"errors"
	"time"

	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/model"
)

// ============================================================================
// 瞬态错误标记
// ============================================================================

// transientError 标记可重试的瞬时失败
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient 把错误标记为瞬时失败
//
// 执行器对网络抖动、限流、上游 5xx 一类"重试大概率能好"的错误
// 调用它；未标记的错误视为确定性失败，引擎不会消耗重试预算。
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient 判断错误是否可重试
//
// 显式标记的瞬时错误与超时（context.DeadlineExceeded）可重试；
// 取消（context.Canceled）不可——那是进程在退出，不是外部在抖。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ============================================================================
// 步骤内重试
// ============================================================================

// callWithRetry 以步骤内重试预算执行一次外部调用
//
// 每次调用都带独立的超时 ctx；仅瞬时错误消耗重试预算，重试间隔
// 按指数退避。轨迹的 RetryCount 记录实际发生的重试次数。
func (e *Engine) callWithRetry(ctx context.Context, trace *model.StepTrace, timeout time.Duration, call func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := call(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) || attempt >= e.cfg.StepRetryLimit {
			return nil, err
		}

		trace.RetryCount = attempt + 1
		delay := time.Duration(idempotency.ComputeRetryDelayMs(attempt+1, e.cfg.BaseDelayMs, e.cfg.MaxDelayMs)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// stepTimeout 返回步骤的外部调用超时（0 用引擎默认值）
func (e *Engine) stepTimeout(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return e.cfg.StepTimeout
}

// stepErrorCode 失败归类为机器可读错误码
func stepErrorCode(kind string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return kind
}

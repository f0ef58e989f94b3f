// Package trace 在 context 中传递 trace ID，Log 时每行带 TRACE=id 便于排查。
package trace

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type ctxKey int

const traceIDKey ctxKey = 0

// trace ID 取 uuid 前 8 位 hex，足够 grep
const traceIDLen = 8

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

func NewTraceID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:traceIDLen]
}

// New 派生带新 trace ID 的 context，每个轮询周期/后台检查/HTTP 请求一个。
func New(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

var logMu sync.Mutex

func output(ctx context.Context, level, format string, args ...interface{}) {
	id := TraceID(ctx)
	if id == "" {
		id = "-"
	}
	msg := fmt.Sprintf(format, args...)
	logMu.Lock()
	defer logMu.Unlock()
	if level == "" {
		_ = log.Output(3, fmt.Sprintf("TRACE=%s | %s", id, msg))
		return
	}
	_ = log.Output(3, fmt.Sprintf("TRACE=%s | %s | %s", id, level, msg))
}

// Log 打日志，每行开头固定为 TRACE=id，便于一眼看到 trace 并 grep
func Log(ctx context.Context, format string, args ...interface{}) {
	output(ctx, "", format, args...)
}

// Warn 数据完整性类告警（重复代码、缺行情等），仅供开发者排查，不影响流程。
func Warn(ctx context.Context, format string, args ...interface{}) {
	output(ctx, "WARN", format, args...)
}

package logger

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// TemporalAdapter 把 zap 适配为 Temporal 的 log.Logger。
// Temporal 传入的是 key/value 交替的参数，正好对应 SugaredLogger 的 *w 方法。
type TemporalAdapter struct {
	s *zap.SugaredLogger
}

var (
	_ log.Logger     = (*TemporalAdapter)(nil)
	_ log.WithLogger = (*TemporalAdapter)(nil)
)

// NewTemporal 创建 Temporal 日志适配器
func NewTemporal(l *zap.Logger) *TemporalAdapter {
	return &TemporalAdapter{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (a *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	a.s.Debugw(msg, keyvals...)
}

func (a *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	a.s.Infow(msg, keyvals...)
}

func (a *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	a.s.Warnw(msg, keyvals...)
}

func (a *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	a.s.Errorw(msg, keyvals...)
}

// With 返回附加了字段的新适配器
func (a *TemporalAdapter) With(keyvals ...interface{}) log.Logger {
	return &TemporalAdapter{s: a.s.With(keyvals...)}
}

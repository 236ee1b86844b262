package logging

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type cronLogger struct {
	s *zap.SugaredLogger
}

// CronLogger adapts zap to the logger interface robfig/cron expects.
func CronLogger(l *zap.Logger) cron.Logger {
	return cronLogger{s: l.Named("cron").Sugar()}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.s.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

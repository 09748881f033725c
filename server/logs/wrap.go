package logs

import (
	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/logs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var serverLogger *zap.Logger

func init() {
	serverLogger = logs.Component(consts.Server)
}

// Check 只有在 lvl 开启时才返回非 nil 的 entry，
// 调用方可以据此跳过代价较高的字段构造。
func Check(lvl zapcore.Level, msg string) *zapcore.CheckedEntry {
	return serverLogger.Check(lvl, msg)
}

func Debug(msg string, fields ...zap.Field) {
	serverLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	serverLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	serverLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	serverLogger.Error(msg, fields...)
}

package logs

import (
	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/logs"
	"go.uber.org/zap"
)

var socketLogger *zap.Logger

func init() {
	socketLogger = logs.Component(consts.Socket)
}

func Debug(msg string, fields ...zap.Field) {
	socketLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	socketLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	socketLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	socketLogger.Error(msg, fields...)
}

package logs

import (
	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/utils"
	"go.uber.org/zap"
)

var Logger *zap.Logger

func init() {
	var err error
	option := zap.AddCaller()
	if utils.IsTest() {
		Logger, err = zap.NewDevelopment(option)
	} else {
		Logger, err = zap.NewProduction(option)
	}

	if err != nil {
		panic(err)
	}
}

// Component 返回带组件名字段的子 logger
func Component(name string) *zap.Logger {
	return Logger.With(zap.String(consts.LogFieldComponent, name))
}

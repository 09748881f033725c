package server

import (
	"strings"
	"time"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/server/logs"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type MetricsConfig struct {
	Addr         string        `mapstructure:"addr"`
	PushURL      string        `mapstructure:"push_url"`
	PushInterval time.Duration `mapstructure:"push_interval"`
}

type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Backlog        int           `mapstructure:"backlog"`
	MaxConnections int           `mapstructure:"max_connections"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	RecvWindow     int           `mapstructure:"recv_window"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	NoDelay        bool          `mapstructure:"no_delay"`
	FrameLimit     int           `mapstructure:"frame_limit"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8014)
	v.SetDefault("backlog", 16)
	v.SetDefault("max_connections", 200)
	v.SetDefault("send_buffer", 16*consts.KB)
	v.SetDefault("recv_window", 16*consts.KB)
	v.SetDefault("poll_interval", 20*time.Millisecond)
	v.SetDefault("no_delay", true)
	v.SetDefault("frame_limit", consts.KB)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.push_interval", 5*time.Second)
}

// LoadConfig 读取 path，path 为空时读取默认配置目录下的 config.yaml，
// 默认文件不存在不算错误。EGGIE_SOCK_* 环境变量覆盖文件中的配置。
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(consts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(consts.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			e := errs.NewConfigErr().WithErr(err)
			logs.Error(e.Error(), zap.String(consts.LogFieldParams, path))
			return nil, e
		}
		logs.Info("config file not found, using defaults", zap.String(consts.LogFieldParams, consts.DefaultConfigPath))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		e := errs.NewConfigErr().WithErr(err)
		logs.Error(e.Error())
		return nil, e
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	checks := []struct {
		name string
		val  int
		ok   bool
	}{
		{"port", cfg.Port, cfg.Port > 0 && cfg.Port <= 65535},
		{"backlog", cfg.Backlog, cfg.Backlog > 0},
		{"max_connections", cfg.MaxConnections, cfg.MaxConnections > 0 && cfg.MaxConnections <= 4000},
		{"send_buffer", cfg.SendBuffer, cfg.SendBuffer > 0 && cfg.SendBuffer <= consts.MB},
		{"recv_window", cfg.RecvWindow, cfg.RecvWindow > 0 && cfg.RecvWindow <= consts.MB},
		{"frame_limit", cfg.FrameLimit, cfg.FrameLimit > 0 && cfg.FrameLimit <= consts.MB},
	}
	for _, c := range checks {
		if !c.ok {
			e := errs.NewInvalidParamErr()
			logs.Error(e.Error(), zap.String(consts.LogFieldParams, c.name), zap.Int(consts.LogFieldValue, c.val))
			return e
		}
	}
	return nil
}

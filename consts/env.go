package consts

const (
	EnvPrefix = "EGGIE_SOCK"     // viper 环境变量前缀
	Env       = "EGGIE_SOCK_ENV" // 运行环境，test 时使用开发日志
	Host      = "EGGIE_SOCK_HOST"
	Port      = "EGGIE_SOCK_PORT"
	Config    = "EGGIE_SOCK_CONFIG" // 配置文件路径
)

package consts

// log field names
const (
	LogFieldComponent = "component"
	LogFieldOp        = "op"
	LogFieldParams    = "params"
	LogFieldValue     = "value"
	LogFieldLocal     = "local"
	LogFieldRemote    = "remote"
	LogFieldBytes     = "bytes"
	LogFieldCode      = "code"
)

// component names
const (
	Socket   = "socket"
	Netstack = "netstack"
	Server   = "server"
)

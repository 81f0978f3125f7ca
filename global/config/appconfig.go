package config

import "time"

// AppConfig is the client configuration. Keys map 1:1 to the yaml file and to
// CHATSYNC_* environment variables (dots become underscores).
type AppConfig struct {
	BaseURL string `mapstructure:"base_url"` // http(s)://host of the backend
	WsURL   string `mapstructure:"ws_url"`   // empty => derived from BaseURL + endpoints.push
	Token   string `mapstructure:"token"`    // bearer token
	UserID  string `mapstructure:"user_id"`
	AppName string `mapstructure:"app_name"` // page title base

	Endpoints EndpointConfig  `mapstructure:"endpoints"`
	Push      PushConfig      `mapstructure:"push"`
	Pull      PullConfig      `mapstructure:"pull"`
	Typing    TypingConfig    `mapstructure:"typing"`
	Toast     ToastConfig     `mapstructure:"toast"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// EndpointConfig paths may contain {conversation_id}.
type EndpointConfig struct {
	Compose string `mapstructure:"compose"`
	Fetch   string `mapstructure:"fetch"`
	Typing  string `mapstructure:"typing"`
	Updates string `mapstructure:"updates"`
	Login   string `mapstructure:"login"`
	Push    string `mapstructure:"push"`
}

type PushConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

type PullConfig struct {
	MessageInterval time.Duration `mapstructure:"message_interval"`
	UpdatesInterval time.Duration `mapstructure:"updates_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// PollWhilePushOpen keeps the per-conversation message poll running while
	// push is Open; push then only shortens latency.
	PollWhilePushOpen bool `mapstructure:"poll_while_push_open"`
}

type TypingConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
}

type ToastConfig struct {
	Lifetime time.Duration `mapstructure:"lifetime"`
}

const (
	ReconnectPolicyReload  = "reload"
	ReconnectPolicyBackoff = "backoff"
)

type ReconnectConfig struct {
	Policy       string        `mapstructure:"policy"` // reload | backoff
	ReloadDelay  time.Duration `mapstructure:"reload_delay"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxElapsed   time.Duration `mapstructure:"max_elapsed"`
}

type NotifyConfig struct {
	Native bool `mapstructure:"native"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

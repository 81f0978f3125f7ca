package config

import (
	"strings"
	"time"

	"ChatSync/tools/errs"

	"github.com/spf13/viper"
)

const EnvPrefix = "CHATSYNC"

var Global = Default()

// Default returns the built-in configuration; the intervals match the web client
// this engine replaces (2s message poll, 30s updates poll, 1s typing quiet
// period, 5s toasts, reload 5s after the socket closes).
func Default() AppConfig {
	return AppConfig{
		BaseURL: "http://127.0.0.1:8080",
		AppName: "ConnectPro",
		Endpoints: EndpointConfig{
			Compose: "/conversation/{conversation_id}/",
			Fetch:   "/api/conversation/{conversation_id}/messages/",
			Typing:  "/api/typing-indicator/",
			Updates: "/api/updates/",
			Login:   "/api/login/",
			Push:    "/ws/",
		},
		Push: PushConfig{
			Enabled:          true,
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     25 * time.Second,
		},
		Pull: PullConfig{
			MessageInterval:   2 * time.Second,
			UpdatesInterval:   30 * time.Second,
			RequestTimeout:    10 * time.Second,
			PollWhilePushOpen: true,
		},
		Typing:    TypingConfig{QuietPeriod: time.Second},
		Toast:     ToastConfig{Lifetime: 5 * time.Second},
		Reconnect: ReconnectConfig{Policy: ReconnectPolicyReload, ReloadDelay: 5 * time.Second, InitialDelay: 500 * time.Millisecond, MaxElapsed: 2 * time.Minute},
		Log:       LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper, d AppConfig) {
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("ws_url", d.WsURL)
	v.SetDefault("token", d.Token)
	v.SetDefault("user_id", d.UserID)
	v.SetDefault("app_name", d.AppName)

	v.SetDefault("endpoints.compose", d.Endpoints.Compose)
	v.SetDefault("endpoints.fetch", d.Endpoints.Fetch)
	v.SetDefault("endpoints.typing", d.Endpoints.Typing)
	v.SetDefault("endpoints.updates", d.Endpoints.Updates)
	v.SetDefault("endpoints.login", d.Endpoints.Login)
	v.SetDefault("endpoints.push", d.Endpoints.Push)

	v.SetDefault("push.enabled", d.Push.Enabled)
	v.SetDefault("push.handshake_timeout", d.Push.HandshakeTimeout)
	v.SetDefault("push.ping_interval", d.Push.PingInterval)

	v.SetDefault("pull.message_interval", d.Pull.MessageInterval)
	v.SetDefault("pull.updates_interval", d.Pull.UpdatesInterval)
	v.SetDefault("pull.request_timeout", d.Pull.RequestTimeout)
	v.SetDefault("pull.poll_while_push_open", d.Pull.PollWhilePushOpen)

	v.SetDefault("typing.quiet_period", d.Typing.QuietPeriod)
	v.SetDefault("toast.lifetime", d.Toast.Lifetime)

	v.SetDefault("reconnect.policy", d.Reconnect.Policy)
	v.SetDefault("reconnect.reload_delay", d.Reconnect.ReloadDelay)
	v.SetDefault("reconnect.initial_delay", d.Reconnect.InitialDelay)
	v.SetDefault("reconnect.max_elapsed", d.Reconnect.MaxElapsed)

	v.SetDefault("notify.native", d.Notify.Native)
	v.SetDefault("log.level", d.Log.Level)
}

// Load reads path (yaml/json/toml by extension; empty for none) over the
// defaults, then applies CHATSYNC_* environment overrides.
func Load(path string) (AppConfig, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, errs.WrapMsg(err, "read config", "path", path)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, errs.WrapMsg(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if c.BaseURL == "" {
		return errs.ErrArgs.WrapMsg("base_url is required")
	}
	switch c.Reconnect.Policy {
	case ReconnectPolicyReload, ReconnectPolicyBackoff:
	default:
		return errs.ErrArgs.WrapMsg("unknown reconnect policy", "policy", c.Reconnect.Policy)
	}
	if c.Pull.MessageInterval <= 0 || c.Pull.UpdatesInterval <= 0 {
		return errs.ErrArgs.WrapMsg("pull intervals must be positive")
	}
	if c.Typing.QuietPeriod <= 0 || c.Toast.Lifetime <= 0 {
		return errs.ErrArgs.WrapMsg("typing quiet period and toast lifetime must be positive")
	}
	return nil
}

// PushURL returns WsURL, or BaseURL with the scheme switched to ws(s) plus the push path.
func (c *AppConfig) PushURL() string {
	if c.WsURL != "" {
		return c.WsURL
	}
	base := strings.TrimRight(c.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.Endpoints.Push
}

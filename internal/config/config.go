// Package config loads the parley configuration: a JSONC file with
// ${{ .Env.VAR }} templates, layered over a .env file and defaults.
package config

import "time"

// Config is the root configuration for parley.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Chat      ChatConfig      `json:"chat"`
	Events    EventsConfig    `json:"events"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Stub      StubConfig      `json:"stub"`
}

// GatewayConfig describes the remote agent mesh gateway.
type GatewayConfig struct {
	BaseURL string   `json:"base_url"`
	Token   string   `json:"token,omitempty"` // plain or ENC[age:...]
	Timeout Duration `json:"timeout,omitempty"`
}

// ChatConfig holds chat engine settings.
type ChatConfig struct {
	DefaultAgent  string   `json:"default_agent,omitempty"`
	CancelTimeout Duration `json:"cancel_timeout,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir,omitempty"`
}

// SchedulerConfig holds scheduled prompt settings.
type SchedulerConfig struct {
	Enabled    bool `json:"enabled"`
	MaxRetries int  `json:"max_retries"`
}

// StubConfig configures the local development gateway.
type StubConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	DBPath string `json:"db_path,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling from "15s" strings.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

package config

import "time"

type Config struct {
	Backend     BackendConfig     `yaml:"backend" json:"backend"`
	Stream      StreamConfig      `yaml:"stream" json:"stream"`
	Attachments AttachmentsConfig `yaml:"attachments" json:"attachments"`
	Gateway     GatewayConfig     `yaml:"gateway" json:"gateway"`
}

// BackendConfig locates the workflow backend the client talks to.
type BackendConfig struct {
	BaseURL       string `yaml:"baseURL" json:"baseURL"`
	StreamPath    string `yaml:"streamPath" json:"streamPath"`       // SSE turn endpoint
	SendPath      string `yaml:"sendPath" json:"sendPath"`           // acknowledged turn endpoint (socket transport)
	SocketURL     string `yaml:"socketURL" json:"socketURL"`         // conversation id is appended as a path segment
	ExtractPath   string `yaml:"extractPath" json:"extractPath"`     // document extraction
	PreviewSDKURL string `yaml:"previewSDKURL" json:"previewSDKURL"` // document preview widget asset
	Token         string `yaml:"token" json:"token"`
}

// Transport values
const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

type StreamConfig struct {
	Transport   string `yaml:"transport" json:"transport"`     // sse | ws
	Mode        string `yaml:"mode" json:"mode"`               // chat | research
	PrimaryNode string `yaml:"primaryNode" json:"primaryNode"` // node whose tokens form the answer in chat mode
}

type AttachmentsConfig struct {
	SoftTimeout time.Duration `yaml:"softTimeout" json:"softTimeout"` // warn when extraction takes longer; never aborts
}

// GatewayConfig configures the development workflow backend (analystdesk serve).
type GatewayConfig struct {
	Port           int           `yaml:"port" json:"port"`
	Auth           AuthConfig    `yaml:"auth" json:"auth"`
	Heartbeat      string        `yaml:"heartbeat" json:"heartbeat"`           // cron spec, e.g. "@every 15s"; empty disables
	DedupTTL       time.Duration `yaml:"dedupTTL" json:"dedupTTL"`             // identical submissions inside the window are rejected
	TokenDelay     time.Duration `yaml:"tokenDelay" json:"tokenDelay"`         // pause between streamed tokens
	SubscriberWait time.Duration `yaml:"subscriberWait" json:"subscriberWait"` // how long a scheduled turn waits for its socket
	PrimaryNode    string        `yaml:"primaryNode" json:"primaryNode"`
}

type AuthConfig struct {
	Token string `yaml:"token" json:"token"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:       "http://localhost:19810",
			StreamPath:    "/api/chat/stream",
			SendPath:      "/api/chat/send",
			SocketURL:     "ws://localhost:19810/ws",
			ExtractPath:   "/api/extract",
			PreviewSDKURL: "http://localhost:19810/preview/sdk.js",
		},
		Stream: StreamConfig{
			Transport:   TransportSSE,
			Mode:        "chat",
			PrimaryNode: "agent",
		},
		Attachments: AttachmentsConfig{
			SoftTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			Port:           19810,
			Heartbeat:      "@every 15s",
			DedupTTL:       2 * time.Second,
			TokenDelay:     20 * time.Millisecond,
			SubscriberWait: 5 * time.Second,
			PrimaryNode:    "agent",
		},
	}
}

package model

// ExtConfigResponse is the subset of GET {prefix}/ext/config the relay reads.
type ExtConfigResponse struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
}

type PingResponse struct {
	Status    string `json:"status"`
	Server    string `json:"server"`
	ServerURL string `json:"server_url"`
}

type QueueResponse struct {
	TaskID int64  `json:"task_id"`
	Detail string `json:"detail"`
}

type FloatStateResponse struct {
	Enabled bool `json:"enabled"`
}

// ConfigView is EffectiveConfig with the token reduced to a digest.
type ConfigView struct {
	ServerURL   string `json:"server_url"`
	APIPrefix   string `json:"api_prefix"`
	HasToken    bool   `json:"has_token"`
	TokenDigest string `json:"token_digest,omitempty"`
}

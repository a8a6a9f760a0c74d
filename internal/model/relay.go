package model

import "strings"

// Mode selects what the server should fetch for a URL.
type Mode string

const (
	ModeVideo    Mode = "video"
	ModePlaylist Mode = "playlist"
)

// ParseMode accepts either casing; anything unknown falls back to video.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModePlaylist)) {
		return ModePlaylist
	}
	return ModeVideo
}

// Wire is the form the queue endpoint expects.
func (m Mode) Wire() string {
	if m == "" {
		return strings.ToUpper(string(ModeVideo))
	}
	return strings.ToUpper(string(m))
}

type Origin string

const (
	OriginPopup           Origin = "popup"
	OriginFloatingControl Origin = "floating-control"
)

// EffectiveConfig is what one execution context uses to reach the server.
type EffectiveConfig struct {
	ServerBaseURL string `json:"server_url"`
	APIPrefix     string `json:"api_prefix"`
	AuthToken     string `json:"token"`
}

// Endpoint joins the base URL, API prefix and path.
func (c EffectiveConfig) Endpoint(path string) string {
	return strings.TrimRight(c.ServerBaseURL, "/") + c.APIPrefix + path
}

func (c EffectiveConfig) Usable() bool {
	return c.ServerBaseURL != "" && c.AuthToken != ""
}

type SubmissionIntent struct {
	URL                         string `json:"url"`
	Mode                        Mode   `json:"mode"`
	Origin                      Origin `json:"origin"`
	RequiresStrictURLValidation bool   `json:"requiresStrictUrlValidation"`
}

type ErrorKind string

const (
	ErrMisconfigured ErrorKind = "Misconfigured"
	ErrNoURL         ErrorKind = "NoUrl"
	ErrInvalidURL    ErrorKind = "InvalidUrl"
	ErrUnreachable   ErrorKind = "Unreachable"
	ErrRejected      ErrorKind = "Rejected"
)

// Outcome is the classified result of one submission attempt.
type Outcome struct {
	OK        bool      `json:"ok"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	TaskID    int64     `json:"taskId,omitempty"`
}

func Succeeded(taskID int64, detail string) Outcome {
	return Outcome{OK: true, TaskID: taskID, Detail: detail}
}

func Failed(kind ErrorKind, detail string) Outcome {
	return Outcome{OK: false, ErrorKind: kind, Detail: detail}
}

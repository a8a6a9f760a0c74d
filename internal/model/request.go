package model

// Message types understood across contexts.
const (
	MsgSubmitDownload = "SUBMIT_DOWNLOAD"
	MsgSetFloatButton = "SET_FLOAT_BUTTON"
)

type SubmitDownload struct {
	URL                 string `json:"url,omitempty"`
	Mode                Mode   `json:"mode"`
	FromFloatingControl bool   `json:"fromFloatingControl,omitempty"`
}

// SetFloatButton is a fire-and-forget broadcast; storage stays authoritative.
type SetFloatButton struct {
	Enabled bool `json:"enabled"`
}

// QueueRequest is the body of POST {prefix}/queue.
type QueueRequest struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	Mode   string `json:"mode"`
}

type BridgeSubmitRequest struct {
	URL                 string `json:"url"`
	Mode                string `json:"mode"`
	FromFloatingControl bool   `json:"from_floating_control"`
	TabID               int    `json:"tab_id"`
}

type FloatStateRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandReload       CommandType = "RELOAD"
	CommandGetStatus    CommandType = "GET_STATUS"
	CommandGetOutputs   CommandType = "GET_OUTPUTS"
	CommandDamageScreen CommandType = "DAMAGE_SCREEN"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Windows        int               `json:"windows"`
	Mapped         int               `json:"mapped"`
	Bound          int               `json:"bound"`
	FailedBinds    int               `json:"failed_binds"`
	Frames         uint64            `json:"frames"`
	RefreshRate    float64           `json:"refresh_rate"`
	VSync          bool              `json:"vsync"`
	Method         string            `json:"method"`
	LastPath       string            `json:"last_path"`
	Presents       map[string]uint64 `json:"presents,omitempty"`
	SkippedPresent uint64            `json:"skipped_presents"`
	Fallbacks      uint64            `json:"output_fallbacks"`
	SkippedWindows uint64            `json:"skipped_windows"`
	FBOFrames      uint64            `json:"fbo_frames"`
	ProtocolErrors uint64            `json:"protocol_errors"`
	Unredirected   uint32            `json:"unredirected,omitempty"`
	TextureFilter  string            `json:"texture_filter"`
	Plugins        []string          `json:"plugins,omitempty"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Backend        string            `json:"backend"`
}

// OutputInfo represents one output being painted.
type OutputInfo struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// OutputsData represents the data returned by GET_OUTPUTS. Targets are
// the outputs actually painted, after equal outputs are collapsed.
type OutputsData struct {
	Outputs []OutputInfo `json:"outputs"`
	Targets []OutputInfo `json:"targets"`
}

// DamageScreenPayload optionally limits DAMAGE_SCREEN to a rectangle.
type DamageScreenPayload struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

package dto

import "encoding/json"

// Realtime session wire shapes, per spec §6. The event names are
// illustrative; this module picks a flat {type, ...} envelope for every
// server->client message and dispatches client->server messages by the
// same `type` field, mirroring the teacher's WSEvent discriminated
// envelope.

// ReadyEvent is sent once, immediately after a session is accepted.
type ReadyEvent struct {
	Type            string          `json:"type"` // "ready"
	Threshold       float64         `json:"threshold"`
	MarkEnabled     bool            `json:"mark_enabled"`
	ConfigSnapshot  json.RawMessage `json:"config_snapshot,omitempty"`
}

// CfgMessage is a client->server per-session config update.
type CfgMessage struct {
	Type      string   `json:"type"` // "cfg"
	Threshold *float64 `json:"threshold,omitempty"`
	Mark      *bool    `json:"mark,omitempty"`
}

// FrameMessage carries one JPEG/PNG frame, either as a binary WebSocket
// message or (when sent over a text frame) base64-encoded here.
type FrameMessage struct {
	Type string `json:"type"` // "frame"
	B64  string `json:"b64,omitempty"`
}

// ResultBox is one detected-and-matched face in a frame.
type ResultBox struct {
	BBox  [4]float64 `json:"bbox"`
	Label string     `json:"label"`
	Score float64    `json:"score"`
}

// MarkedInfo is one admitted attendance mark.
type MarkedInfo struct {
	Label string `json:"label"`
	Score float64 `json:"score"`
	Ts    string `json:"ts"`
}

// BlockedInfo is one sighting that C7 refused to admit.
type BlockedInfo struct {
	Label string `json:"label"`
	Code  string `json:"code"` // "cooldown"
}

// ResultEvent is emitted once per processed frame.
type ResultEvent struct {
	Type       string        `json:"type"` // "result"
	Results    []ResultBox   `json:"results"`
	Marked     []string      `json:"marked"`
	MarkedInfo []MarkedInfo  `json:"marked_info"`
	Blocked    []BlockedInfo `json:"blocked"`
	T          string        `json:"t"`
}

// LogRefreshEvent hints that clients should re-fetch the event log.
type LogRefreshEvent struct {
	Type string `json:"type"` // "log_refresh"
}

// DBUpdateEvent is broadcast after enrollment or reconciliation.
type DBUpdateEvent struct {
	Type   string   `json:"type"` // "db_update"
	Labels []string `json:"labels"`
}

// ErrorEvent is a non-fatal, session-scoped error.
type ErrorEvent struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

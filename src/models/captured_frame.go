package models

import "time"

const (
	DirectionClientToServer = "client->server"
	DirectionServerToClient = "server->client"
)

// MCapturedFrame is one decoded vendor frame, from a pcap file, the relay or
// a direct gateway session.
type MCapturedFrame struct {
	Origin      string    `json:"origin"`
	SessionID   string    `json:"session_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Direction   string    `json:"direction"`
	Template    string    `json:"template,omitempty"`
	Summary     string    `json:"summary"`
	Hex         string    `json:"hex"`
	Truncated   bool      `json:"truncated"`
}

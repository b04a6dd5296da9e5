package models

import "time"

// MProbeResult records the first template of a probe family that got an answer.
type MProbeResult struct {
	Family         string `json:"family"`
	Template       string `json:"template"`
	Responded      bool   `json:"responded"`
	ResponseHex    string `json:"response_hex,omitempty"`
	ResponseText   string `json:"response_text,omitempty"`
	Classification string `json:"classification,omitempty"`
	Description    string `json:"description,omitempty"`
	Error          string `json:"error,omitempty"`
	LatencyMs      int64  `json:"latency_ms"`
}

type MPortReport struct {
	RunID     string         `json:"run_id"`
	Host      string         `json:"host"`
	Port      int            `json:"port"`
	Open      bool           `json:"open"`
	Probes    []MProbeResult `json:"probes,omitempty"`
	ScannedAt time.Time      `json:"scanned_at"`
}

// Responsive is true when any probe family got a reply.
func (r MPortReport) Responsive() bool {
	for _, p := range r.Probes {
		if p.Responded {
			return true
		}
	}
	return false
}

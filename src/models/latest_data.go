package models

// -----------------------------------------------------------------------------
// Server State Structure
// -----------------------------------------------------------------------------

type MLatestData struct {
	Type      string           `json:"type"` // "INITIAL" or "UPDATE"
	Quote     *MQuoteUpdate    `json:"quote,omitempty"`
	Frames    []MCapturedFrame `json:"frames,omitempty"`
	Reports   []MPortReport    `json:"reports,omitempty"`
	Metrics   MPollMetrics     `json:"metrics"`
	Timestamp int64            `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// SubscribeCommand for client messages
// -----------------------------------------------------------------------------

// MSubscribeCommand selects which topics ("quotes", "frames", "reports") a
// websocket client receives. No topics means all of them.
type MSubscribeCommand struct {
	Command string   `json:"command"`
	Topics  []string `json:"topics"`
}

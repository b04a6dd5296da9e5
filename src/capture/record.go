package capture

import (
	"encoding/hex"
	"time"

	"rtrader-bridge/src/models"
	"rtrader-bridge/src/protocol"
)

const (
	OriginPcap    = "pcap"
	OriginRelay   = "relay"
	OriginGateway = "gateway"
)

// NewFrameRecord decodes raw and wraps it for storage and push. Frames too
// short to hold a header are still recorded with an error summary.
func NewFrameRecord(origin, sessionID string, at time.Time, src, dst, direction string, raw []byte) models.MCapturedFrame {
	rec := models.MCapturedFrame{
		Origin:      origin,
		SessionID:   sessionID,
		Timestamp:   at.UTC(),
		Source:      src,
		Destination: dst,
		Direction:   direction,
		Hex:         hex.EncodeToString(raw),
	}

	frame, err := protocol.Decode(raw)
	if err != nil {
		rec.Summary = err.Error()
		rec.Truncated = true
		return rec
	}
	rec.Template = frame.Template()
	rec.Summary = frame.Summary()
	rec.Truncated = frame.Truncated
	return rec
}

package interfaces

// -----------------------------------------------------------------------------
// IDataExchanger pushes quotes, frames and scan reports to external listeners.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Broadcast merges payload into the server state and pushes it to clients.
	// Accepted payloads: models.MQuoteUpdate, models.MCapturedFrame,
	// []models.MPortReport and models.MPollMetrics.
	Broadcast(payload interface{})

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}

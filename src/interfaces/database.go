package interfaces

import "rtrader-bridge/src/models"

// -----------------------------------------------------------------------------
// IDatabase defines the contract for storage operations.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveQuoteUpdates inserts a batch of bid/ask changes.
	SaveQuoteUpdates(updates []models.MQuoteUpdate) error

	// -----------------------------------------------------------------------------

	// SavePortReports stores the outcome of one scan run.
	SavePortReports(reports []models.MPortReport) error

	// -----------------------------------------------------------------------------

	// SaveFrames stores decoded vendor frames.
	SaveFrames(frames []models.MCapturedFrame) error

	// -----------------------------------------------------------------------------

	// RecentFrames returns the newest frames first.
	RecentFrames(limit int) ([]models.MCapturedFrame, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData() error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}

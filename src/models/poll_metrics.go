package models

// MPollMetrics summarises a quote polling run.
type MPollMetrics struct {
	Reads      int64   `json:"reads"`
	Updates    int64   `json:"updates"`
	Errors     int64   `json:"errors"`
	Skipped    int64   `json:"skipped"`
	SpreadMean float64 `json:"spread_mean"`
	SpreadStd  float64 `json:"spread_std"`
}

package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	TopicQuotes  = "quotes"
	TopicFrames  = "frames"
	TopicReports = "reports"
	TopicMetrics = "metrics"
)

var knownTopics = []string{TopicQuotes, TopicFrames, TopicReports, TopicMetrics}

// -----------------------------------------------------------------------------

// parseTopics keeps the known topic names. Unknown names are ignored, so a
// list of only unknown names subscribes to everything.
func parseTopics(names []string) map[string]bool {
	topics := make(map[string]bool)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if contains(knownTopics, n) {
			topics[n] = true
		}
	}
	return topics
}

// -----------------------------------------------------------------------------

// queryInt reads a positive integer query parameter, clamped to limit.
func queryInt(c *gin.Context, key string, def, limit int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > limit {
		return limit
	}
	return v
}

// -----------------------------------------------------------------------------

// nonNil makes empty results encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// -----------------------------------------------------------------------------

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

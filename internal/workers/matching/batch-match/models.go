// internal/workers/matching/batch-match/models.go
package batchmatch

import "donor-matching/internal/matching/orchestrator"

// Input carries an optional RFC3339 asOf; empty means now.
type Input struct {
	AsOf string `json:"asOf,omitempty"`
}

type Output struct {
	ProcessedCount      int                         `json:"processedCount"`
	NewMatchCount       int                         `json:"newMatchCount"`
	RequestsWithNoMatch []string                    `json:"requestsWithNoMatch"`
	Failures            []orchestrator.BatchFailure `json:"failures"`
	Cancelled           bool                        `json:"cancelled"`
}

const inputSchema = `{
	"type": "object",
	"properties": {
		"asOf": {"type": "string", "format": "date-time"}
	}
}`

// internal/workers/notification/notify-unmatched-sweep/models.go
package notifyunmatchedsweep

import "donor-matching/internal/notification/dispatcher"

type Input struct {
	AsOf string `json:"asOf,omitempty"`
}

type Output struct {
	Checked   int                  `json:"checked"`
	Skipped   int                  `json:"skipped"`
	Notified  []string             `json:"notified"`
	Escalated []string             `json:"escalated"`
	Failures  []dispatcher.Failure `json:"failures"`
	Cancelled bool                 `json:"cancelled"`
}

const inputSchema = `{
	"type": "object",
	"properties": {
		"asOf": {"type": "string", "format": "date-time"}
	}
}`

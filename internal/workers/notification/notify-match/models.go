// internal/workers/notification/notify-match/models.go
package notifymatch

import "time"

type Input struct {
	MatchID string `json:"matchId"`
}

type Output struct {
	MatchID     string    `json:"matchId"`
	Channel     string    `json:"channel"`
	Status      string    `json:"deliveryStatus"`
	MessageID   string    `json:"messageId,omitempty"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

const inputSchema = `{
	"type": "object",
	"required": ["matchId"],
	"properties": {
		"matchId": {"type": "string", "minLength": 1}
	}
}`

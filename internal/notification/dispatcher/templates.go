package dispatcher

import (
	"fmt"
	"strconv"
	"strings"

	"donor-matching/internal/models"
)

type template struct {
	subject string
	body    string
}

var templates = map[models.NotificationKind]template{
	models.NotifyDonorMatch: {
		subject: "{{urgency}} blood request: your {{bloodType}} donation is needed",
		body: "Hello {{donorName}},\n\n{{hospitalName}} in {{city}} needs {{units}} unit(s) of {{bloodType}} blood " +
			"and you are a compatible donor{{distance}}. Please reply to confirm whether you can donate.\n\n" +
			"Match reference: {{matchId}}",
	},
	models.NotifyNoMatch: {
		subject: "No compatible donor found for request {{requestId}}",
		body: "Hello {{hospitalName}},\n\nNo eligible {{bloodType}}-compatible donor was found for request {{requestId}} " +
			"({{units}} unit(s), urgency {{urgency}}). The request stays open and will be retried.",
	},
	models.NotifyEscalation: {
		subject: "ESCALATION: critical request {{requestId}} is unmatched",
		body: "Critical request {{requestId}} for {{units}} unit(s) of {{bloodType}} at {{hospitalName}} " +
			"has no matched donor. Immediate manual sourcing is required.",
	},
}

func render(kind models.NotificationKind, recipient models.Recipient, urgency models.Urgency, data map[string]interface{}) models.Message {
	t := templates[kind]
	return models.Message{
		Kind:      kind,
		Recipient: recipient,
		Subject:   renderTemplate(t.subject, data),
		Body:      renderTemplate(t.body, data),
		Urgency:   urgency,
	}
}

// renderTemplate substitutes {{key}} placeholders in one left-to-right pass
// and drops unknown ones. Substituted values are never rescanned.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	var b strings.Builder
	b.Grow(len(tmpl))

	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end == -1 {
			break
		}
		b.WriteString(rest[:start])
		b.WriteString(formatValue(data[rest[start+2:start+2+end]]))
		rest = rest[start+2+end+2:]
	}
	b.WriteString(rest)
	return b.String()
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

package api

import "donor-matching/internal/common/validation"

var updateStatusSchema = validation.MustCompile("updateStatus", `{
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`)

var batchSchema = validation.MustCompile("batch", `{
	"type": "object",
	"properties": {
		"asOf": {"type": "string", "format": "date-time"}
	},
	"additionalProperties": false
}`)

package validation

import (
	"fmt"
	"regexp"
	"strings"

	"donor-matching/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON schema for request bodies and job variables.
type Schema struct {
	name   string
	schema *gojsonschema.Schema
}

// MustCompile compiles a schema literal and panics on a malformed one; schemas
// are package-level constants so a failure is a programming error.
func MustCompile(name, schemaJSON string) *Schema {
	s, err := Compile(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

func Compile(name, schemaJSON string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: compiled}, nil
}

// ValidateBytes validates a raw JSON document. An empty body is validated as {}.
func (s *Schema) ValidateBytes(doc []byte) error {
	if len(strings.TrimSpace(string(doc))) == 0 {
		doc = []byte("{}")
	}
	return s.validate(gojsonschema.NewBytesLoader(doc))
}

// ValidateMap validates an already decoded document such as Zeebe job variables.
func (s *Schema) ValidateMap(doc map[string]interface{}) error {
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return s.validate(gojsonschema.NewGoLoader(doc))
}

func (s *Schema) validate(loader gojsonschema.JSONLoader) error {
	result, err := s.schema.Validate(loader)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("%s: malformed document: %v", s.name, err))
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		msgs[i] = desc.String()
	}
	return errors.NewValidationError(fmt.Sprintf("%s: %s", s.name, strings.Join(msgs, "; ")))
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePhone validates basic phone number format
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// Package schema derives tool input schemas from annotated Go structs.
package schema

import (
	"github.com/invopop/jsonschema"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
)

// Reflect builds the InputSchema for the argument struct A. Fields are named
// after their json tags; fields without omitempty are required, and the
// jsonschema tag supplies descriptions.
func Reflect[A any]() domain.InputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(new(A))

	out := domain.InputSchema{
		Type:       "object",
		Properties: map[string]domain.SchemaProperty{},
	}
	if s == nil || s.Type != "object" {
		return out
	}
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = toProperty(el.Value)
		}
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	return out
}

func toProperty(s *jsonschema.Schema) domain.SchemaProperty {
	if s == nil {
		return domain.SchemaProperty{}
	}
	return domain.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
}

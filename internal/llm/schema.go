package llm

import (
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
)

// Schema is the subset of JSON Schema both providers can enforce on a
// structured response: objects, arrays, strings with an optional enum.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`

	// AdditionalProperties is always false on objects; strict mode on
	// OpenAI-compatible APIs rejects schemas that leave it open.
	AdditionalProperties *bool `json:"additionalProperties,omitempty"`
}

// ResponseSchema names a Schema for a structured completion.
type ResponseSchema struct {
	Name   string
	Schema *Schema
}

// closed returns a copy of s with additionalProperties set to false on every
// object, as strict json_schema mode requires.
func (s *Schema) closed() *Schema {
	if s == nil {
		return nil
	}
	out := *s
	if out.Type == "object" {
		f := false
		out.AdditionalProperties = &f
	}
	if s.Items != nil {
		out.Items = s.Items.closed()
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.closed()
		}
	}
	return &out
}

// MarshalStrict encodes s for a strict json_schema response format.
func (s *Schema) MarshalStrict() (json.RawMessage, error) {
	return json.Marshal(s.closed())
}

// genaiSchema converts s to the Gemini SDK's schema type.
func (s *Schema) genaiSchema() (*genai.Schema, error) {
	if s == nil {
		return nil, nil
	}
	out := &genai.Schema{Description: s.Description, Enum: s.Enum, Required: s.Required}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		return nil, fmt.Errorf("schema type %q not supported", s.Type)
	}
	if len(s.Enum) > 0 {
		out.Format = "enum"
	}
	if s.Items != nil {
		items, err := s.Items.genaiSchema()
		if err != nil {
			return nil, err
		}
		out.Items = items
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			p, err := v.genaiSchema()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out.Properties[k] = p
		}
	}
	return out, nil
}

package llm

import "encoding/json"

// JSONSchema describes tool parameters in OpenAI's JSON Schema format.
type JSONSchema struct {
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Type                 string                 `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

// MarshalJSON uses an alias type to avoid recursing into itself.
func (s *JSONSchema) MarshalJSON() ([]byte, error) {
	type alias JSONSchema
	return json.Marshal((*alias)(s))
}

// String renders the schema for ToolDescriptor.Parameters.
func (s *JSONSchema) String() string {
	if s == nil {
		return `{"type":"object"}`
	}
	b, err := json.Marshal(s)
	if err != nil {
		return `{"type":"object"}`
	}
	return string(b)
}

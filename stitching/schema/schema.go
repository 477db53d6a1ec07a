// Package schema renders JSON Schema documents for the pipeline's options file.
package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Generate reflects T into a JSON Schema map. Every object in the result is closed
// (additionalProperties=false), mirroring the strict decoding of options files.
func Generate[T any]() (map[string]interface{}, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	var v T
	s := reflector.Reflect(v)
	m, err := schemaToMap(s)
	if err != nil {
		return nil, err
	}
	closeObjects(m)
	return m, nil
}

// GenerateJSON is Generate encoded as indented JSON.
func GenerateJSON[T any]() ([]byte, error) {
	m, err := Generate[T]()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(m, "", "  ")
}

func schemaToMap(s *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	itemsKey                = "items"
)

func closeObjects(s map[string]interface{}) {
	if t, ok := s[typeKey].(string); ok && t == "object" {
		s[additionalPropertiesKey] = false
	}

	if properties, ok := s[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				closeObjects(propMap)
			}
		}
	}

	if items, ok := s[itemsKey].(map[string]interface{}); ok {
		closeObjects(items)
	}
}

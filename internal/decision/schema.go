package decision

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const callToolSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "intent": {"const": "call_tool"},
    "tool": {"type": "string", "minLength": 1},
    "parameters": {"type": "object"}
  },
  "required": ["intent", "tool"],
  "additionalProperties": false
}`

const routeToQASchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "intent": {"const": "route_to_qa"},
    "query": {"type": "string"}
  },
  "required": ["intent", "query"],
  "additionalProperties": false
}`

const proposeNewToolSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "intent": {"const": "propose_new_tool"},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"}
  },
  "required": ["intent", "name", "description"],
  "additionalProperties": false
}`

// SchemaSet is a compiled set of decision shapes keyed by intent.
type SchemaSet struct {
	name    string
	schemas map[string]*gojsonschema.Schema
	order   []string
}

// CoreSchemas accepts call_tool and propose_new_tool.
var CoreSchemas = mustSchemaSet("core", map[string]string{
	IntentCallTool:       callToolSchema,
	IntentProposeNewTool: proposeNewToolSchema,
}, IntentCallTool, IntentProposeNewTool)

// RouterSchemas accepts call_tool, route_to_qa and propose_new_tool.
var RouterSchemas = mustSchemaSet("router", map[string]string{
	IntentCallTool:       callToolSchema,
	IntentRouteToQA:      routeToQASchema,
	IntentProposeNewTool: proposeNewToolSchema,
}, IntentCallTool, IntentRouteToQA, IntentProposeNewTool)

func mustSchemaSet(name string, docs map[string]string, order ...string) *SchemaSet {
	set := &SchemaSet{
		name:    name,
		schemas: make(map[string]*gojsonschema.Schema, len(docs)),
		order:   order,
	}
	for intent, doc := range docs {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
		if err != nil {
			panic(fmt.Sprintf("compile %s schema for %s: %v", name, intent, err))
		}
		set.schemas[intent] = s
	}
	return set
}

// Intents returns the intents this set accepts, in declaration order.
func (s *SchemaSet) Intents() []string {
	return append([]string(nil), s.order...)
}

// Validate checks a parsed JSON object against the shape selected by its
// "intent" field and builds the corresponding [Decision]. Any mismatch,
// including unknown or extra fields, is returned as a *SchemaError.
func (s *SchemaSet) Validate(obj map[string]any) (Decision, error) {
	intent, _ := obj["intent"].(string)
	schema, ok := s.schemas[intent]
	if !ok {
		return nil, &SchemaError{
			Problems: []string{fmt.Sprintf("intent: must be one of %s, got %q",
				strings.Join(s.order, ", "), intent)},
		}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return nil, &SchemaError{Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, &SchemaError{Problems: problems}
	}

	return build(intent, obj)
}

func build(intent string, obj map[string]any) (Decision, error) {
	switch intent {
	case IntentCallTool:
		tool, _ := obj["tool"].(string)
		params, _ := obj["parameters"].(map[string]any)
		return NewCallTool(tool, params)
	case IntentProposeNewTool:
		name, _ := obj["name"].(string)
		desc, _ := obj["description"].(string)
		return NewProposeNewTool(name, desc)
	case IntentRouteToQA:
		query, _ := obj["query"].(string)
		return NewRouteToQA(query), nil
	default:
		return nil, &SchemaError{Problems: []string{fmt.Sprintf("intent: unsupported %q", intent)}}
	}
}

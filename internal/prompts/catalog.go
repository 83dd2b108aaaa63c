package prompts

import (
	"encoding/json"
	"fmt"
)

// Tool is one entry of the tool catalog shown to the model.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog serializes tools as an indented JSON array in the given order.
// Field order is fixed by the struct so identical catalogs always render
// identically. A nil catalog renders as "[]".
func Catalog(tools []Tool) (string, error) {
	if tools == nil {
		tools = []Tool{}
	}
	data, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tool catalog: %w", err)
	}
	return string(data), nil
}

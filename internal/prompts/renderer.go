package prompts

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Headers used when conversation context is injected ahead of the
// current utterance.
const (
	RecentConversationHeader = "## Recent Conversation:"
	CurrentRequestHeader     = "## Current Request:"
	CurrentQueryHeader       = "## Current Query:"
)

// Templates holds the raw template text for each prompt a Renderer can
// produce. Empty fields are filled with the built-in defaults.
type Templates struct {
	Decision string
	Repair   string
	Answer   string
}

// Renderer fills prompt templates. It holds no mutable state and is safe
// for concurrent use.
type Renderer struct {
	tmpl      Templates
	modelName string
}

// NewRenderer returns a Renderer for the given templates. modelName is
// substituted for {model_name} in the decision template.
func NewRenderer(t Templates, modelName string) *Renderer {
	if t.Decision == "" {
		t.Decision = CoreTemplate()
	}
	if t.Repair == "" {
		t.Repair = RepairTemplate()
	}
	if t.Answer == "" {
		t.Answer = QATemplate()
	}
	return &Renderer{tmpl: t, modelName: modelName}
}

// Decision renders the primary prompt. When conversation is non-empty it
// is placed under the recent-conversation header, followed by the
// current-request header, immediately before the trimmed input. An empty
// conversation produces exactly the no-context prompt.
func (r *Renderer) Decision(input string, tools []Tool, conversation string) (string, error) {
	catalog, err := Catalog(tools)
	if err != nil {
		return "", err
	}
	out, err := Format(r.tmpl.Decision, map[string]string{
		"user_input": withContext(conversation, CurrentRequestHeader, input),
		"tools":      catalog,
		"model_name": r.modelName,
	})
	if err != nil {
		return "", fmt.Errorf("render decision prompt: %w", err)
	}
	return out, nil
}

// Repair renders the repair prompt from the broken output alone.
func (r *Renderer) Repair(broken string) (string, error) {
	out, err := Format(r.tmpl.Repair, map[string]string{"broken_output": broken})
	if err != nil {
		return "", fmt.Errorf("render repair prompt: %w", err)
	}
	return out, nil
}

// Answer renders the Q/A prompt, injecting conversation the same way
// Decision does but under the current-query header.
func (r *Renderer) Answer(query, conversation string) (string, error) {
	out, err := Format(r.tmpl.Answer, map[string]string{
		"query": withContext(conversation, CurrentQueryHeader, query),
	})
	if err != nil {
		return "", fmt.Errorf("render answer prompt: %w", err)
	}
	return out, nil
}

func withContext(conversation, header, text string) string {
	text = strings.TrimSpace(text)
	if conversation == "" {
		return text
	}
	return "\n" + RecentConversationHeader + "\n" + conversation + "\n\n" + header + "\n" + text
}

// LoadTemplate reads a template override from path. When path is empty or
// the file does not exist, fallback is returned and the choice is logged.
// Other read errors are returned.
func LoadTemplate(path, fallback string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("prompt file not found, using built-in default", "path", path)
			return fallback, nil
		}
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	logger.Info("loaded prompt", "path", path)
	return string(data), nil
}

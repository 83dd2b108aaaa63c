package decision

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCore(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Decision
		wantErr error
	}{
		{
			name: "plain text is conversation",
			raw:  "  Good evening, sir.\n",
			want: NewConversation("Good evening, sir."),
		},
		{
			name: "stray braces after first char stay conversation",
			raw:  "Sure {this} is not JSON }{",
			want: NewConversation("Sure {this} is not JSON }{"),
		},
		{
			name: "empty output is empty conversation",
			raw:  "   ",
			want: NewConversation(""),
		},
		{
			name: "call tool",
			raw:  `{"intent":"call_tool","tool":"home_assistant","parameters":{"action":"turn_on","target":"light","room":"bedroom"}}`,
			want: mustCallTool(t, "home_assistant", map[string]any{"action": "turn_on", "target": "light", "room": "bedroom"}),
		},
		{
			name: "call tool without parameters",
			raw:  `{"intent":"call_tool","tool":"home_assistant"}`,
			want: mustCallTool(t, "home_assistant", nil),
		},
		{
			name: "truncated object closed by heuristic",
			raw:  `{"intent": "call_tool", "tool": "home_assistant", "parameters": {"action": "turn_on", "target": "light"}`,
			want: mustCallTool(t, "home_assistant", map[string]any{"action": "turn_on", "target": "light"}),
		},
		{
			name: "propose new tool",
			raw:  `{"intent":"propose_new_tool","name":"garage_control","description":"Control the garage door"}`,
			want: mustPropose(t, "garage_control", "Control the garage door"),
		},
		{
			name:    "unrecoverable JSON needs repair",
			raw:     `{"intent": "call_tool", "tool": `,
			wantErr: ErrNeedsRepair,
		},
		{
			name: "off-script JSON falls back to conversation",
			raw:  `{"answer": "It is sunny."}`,
			want: NewConversation("It is sunny."),
		},
		{
			name: "fallback keys checked in order",
			raw:  `{"reply": "second", "response": "first"}`,
			want: NewConversation("first"),
		},
		{
			name: "empty fallback values are skipped",
			raw:  `{"response": "", "answer": false, "message": 0, "text": "third"}`,
			want: NewConversation("third"),
		},
		{
			name:    "non-string fallback value stops the search",
			raw:     `{"response": {"text": "nested"}, "answer": "later"}`,
			wantErr: ErrSchemaValidation,
		},
		{
			name:    "route_to_qa is not a core shape",
			raw:     `{"intent":"route_to_qa","query":"what time is it"}`,
			wantErr: ErrSchemaValidation,
		},
		{
			name:    "extra field rejected",
			raw:     `{"intent":"call_tool","tool":"home_assistant","parameters":{},"shell":"rm -rf /"}`,
			wantErr: ErrSchemaValidation,
		},
		{
			name:    "empty tool rejected",
			raw:     `{"intent":"call_tool","tool":""}`,
			wantErr: ErrSchemaValidation,
		},
		{
			name:    "parameters must be an object",
			raw:     `{"intent":"call_tool","tool":"x","parameters":[1,2]}`,
			wantErr: ErrSchemaValidation,
		},
		{
			name:    "empty fallback value is not a fallback",
			raw:     `{"response": ""}`,
			wantErr: ErrSchemaValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyCore(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyRouter(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Decision
		wantErr error
	}{
		{
			name: "readable prose is a refusal",
			raw:  "I'm sorry, I can't help with that request.",
			want: NewRefusal("I'm sorry, I can't help with that request."),
		},
		{
			name:    "short prose is malformed",
			raw:     "  nope  ",
			wantErr: ErrMalformedOutput,
		},
		{
			name: "exactly threshold length is a refusal",
			raw:  "0123456789",
			want: NewRefusal("0123456789"),
		},
		{
			name: "route to qa",
			raw:  `{"intent":"route_to_qa","query":"what is the capital of France"}`,
			want: NewRouteToQA("what is the capital of France"),
		},
		{
			name: "call tool",
			raw:  `{"intent":"call_tool","tool":"intent_processor","parameters":{"text":"lights on"}}`,
			want: mustCallTool(t, "intent_processor", map[string]any{"text": "lights on"}),
		},
		{
			name: "truncated object closed by heuristic",
			raw:  `{"intent":"route_to_qa","query":"hi there"`,
			want: NewRouteToQA("hi there"),
		},
		{
			name:    "unparseable JSON is malformed",
			raw:     `{"intent": "route_to_qa", "query": `,
			wantErr: ErrMalformedOutput,
		},
		{
			name: "fallback key becomes refusal",
			raw:  `{"message": "I won't do that."}`,
			want: NewRefusal("I won't do that."),
		},
		{
			name:    "unknown intent without fallback",
			raw:     `{"intent":"dance"}`,
			wantErr: ErrSchemaValidation,
		},
		{
			name:    "route_to_qa missing query",
			raw:     `{"intent":"route_to_qa"}`,
			wantErr: ErrSchemaValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyRouter(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	inputs := []string{
		"hello there, how are you",
		`{"intent":"call_tool","tool":"home_assistant","parameters":{"action":"toggle"}}`,
		`{"intent":"call_tool"`,
		`{"bogus": 1}`,
		"short",
	}
	for _, raw := range inputs {
		d1, err1 := ClassifyCore(raw)
		d2, err2 := ClassifyCore(raw)
		assert.Equal(t, d1, d2, "core %q", raw)
		assert.Equal(t, errText(err1), errText(err2), "core %q", raw)

		r1, rerr1 := ClassifyRouter(raw)
		r2, rerr2 := ClassifyRouter(raw)
		assert.Equal(t, r1, r2, "router %q", raw)
		assert.Equal(t, errText(rerr1), errText(rerr2), "router %q", raw)
	}
}

func TestSchemaErrorProblems(t *testing.T) {
	_, err := ClassifyCore(`{"intent":"call_tool","tool":"x","extra":true}`)
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.NotEmpty(t, se.Problems)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestCallToolParametersAreCopied(t *testing.T) {
	src := map[string]any{"action": "turn_on"}
	ct := mustCallTool(t, "home_assistant", src)
	src["action"] = "turn_off"
	assert.Equal(t, "turn_on", ct.Parameters()["action"])

	p := ct.Parameters()
	p["action"] = "toggle"
	assert.Equal(t, "turn_on", ct.Parameters()["action"])
}

func TestConstructorsRejectEmptyNames(t *testing.T) {
	_, err := NewCallTool("", nil)
	require.ErrorIs(t, err, ErrInvalidDecision)

	_, err = NewProposeNewTool("", "does things")
	require.ErrorIs(t, err, ErrInvalidDecision)
}

func TestExcerpt(t *testing.T) {
	short := "abc"
	assert.Equal(t, short, Excerpt(short))

	long := strings.Repeat("é", ExcerptLimit+50)
	got := Excerpt(long)
	assert.Equal(t, ExcerptLimit+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestIsToolDecision(t *testing.T) {
	assert.True(t, IsToolDecision(mustCallTool(t, "x", nil)))
	assert.True(t, IsToolDecision(mustPropose(t, "x", "y")))
	assert.False(t, IsToolDecision(NewConversation("hi")))
	assert.False(t, IsToolDecision(NewRefusal("no thanks")))
	assert.False(t, IsToolDecision(NewRouteToQA("q")))
}

func mustCallTool(t *testing.T, tool string, params map[string]any) CallTool {
	t.Helper()
	ct, err := NewCallTool(tool, params)
	require.NoError(t, err)
	return ct
}

func mustPropose(t *testing.T, name, desc string) ProposeNewTool {
	t.Helper()
	p, err := NewProposeNewTool(name, desc)
	require.NoError(t, err)
	return p
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

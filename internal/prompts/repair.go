package prompts

// repairTemplate is deliberately minimal: no tools, no conversation.
// Placeholder: {broken_output}.
const repairTemplate = `The following JSON is malformed. Fix it and return ONLY valid JSON, nothing else.
No explanation, no markdown, no extra text. Just the corrected JSON object.

{broken_output}`

// RepairTemplate returns the default prompt used to ask the model to
// re-emit a broken JSON decision.
func RepairTemplate() string {
	return repairTemplate
}

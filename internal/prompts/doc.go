// Package prompts contains the LLM prompt templates Alfred sends to its
// models and the renderer that fills them in.
//
// Built-in templates are Go constants so they are always available and can
// be validated by tests. Operators can override any of them with a file
// (see [LoadTemplate]); override files use the same placeholder syntax,
// with {{ and }} standing for literal braces.
//
// Convention: each prompt category gets its own file (core.go, router.go,
// repair.go, qa.go) with an exported function returning the default
// template text.
package prompts

// Package prompts contains the instructions AgenticOps sends to models.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, are compiled into the
// binary, and can be validated by tests.
//
// Convention: each prompt category gets its own file (classifier.go,
// specialists.go, canvas.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts

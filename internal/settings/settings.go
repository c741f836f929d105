// Package settings resolves the effective AI configuration for a rally address.
package settings

import (
	"strings"
)

// Defaults are used for any field neither settings row provides.
var Defaults = Effective{
	SystemPrompt:     "",
	Model:            "gpt-5.1",
	ReasoningEffort:  "medium",
	Verbosity:        "medium",
	MaxOutputTokens:  4096,
	InputCostPerMil:  1.25,
	OutputCostPerMil: 10.00,
}

// Project is the project-wide default row. Nil fields are unset.
type Project struct {
	SystemPrompt     *string
	Model            *string
	ReasoningEffort  *string
	Verbosity        *string
	MaxOutputTokens  *int
	InputCostPerMil  *float64
	OutputCostPerMil *float64
}

// Email is the per-address override row. It never carries pricing.
type Email struct {
	Address         string
	SystemPrompt    *string
	Model           *string
	ReasoningEffort *string
	Verbosity       *string
	MaxOutputTokens *int
}

// Effective is a fully populated configuration.
type Effective struct {
	SystemPrompt     string
	Model            string
	ReasoningEffort  string
	Verbosity        string
	MaxOutputTokens  int
	InputCostPerMil  float64
	OutputCostPerMil float64
}

// Configured reports whether a system prompt is available.
func (e Effective) Configured() bool {
	return strings.TrimSpace(e.SystemPrompt) != ""
}

// Resolve merges email over project over Defaults, field by field.
// Either row may be nil.
func Resolve(project *Project, email *Email) Effective {
	if project == nil {
		project = &Project{}
	}
	if email == nil {
		email = &Email{}
	}

	return Effective{
		SystemPrompt:     firstString(Defaults.SystemPrompt, email.SystemPrompt, project.SystemPrompt),
		Model:            firstString(Defaults.Model, email.Model, project.Model),
		ReasoningEffort:  firstString(Defaults.ReasoningEffort, email.ReasoningEffort, project.ReasoningEffort),
		Verbosity:        firstString(Defaults.Verbosity, email.Verbosity, project.Verbosity),
		MaxOutputTokens:  firstInt(Defaults.MaxOutputTokens, email.MaxOutputTokens, project.MaxOutputTokens),
		InputCostPerMil:  firstFloat(Defaults.InputCostPerMil, project.InputCostPerMil),
		OutputCostPerMil: firstFloat(Defaults.OutputCostPerMil, project.OutputCostPerMil),
	}
}

// Cost returns the USD cost of a completion at the effective rates.
func Cost(inputTokens, outputTokens int, e Effective) float64 {
	return float64(inputTokens)/1e6*e.InputCostPerMil + float64(outputTokens)/1e6*e.OutputCostPerMil
}

// firstString returns the first set candidate, else def. An empty string
// is a value, not a fallthrough.
func firstString(def string, candidates ...*string) string {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return def
}

// firstInt returns the first set candidate, else def.
func firstInt(def int, candidates ...*int) int {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return def
}

func firstFloat(def float64, candidates ...*float64) float64 {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return def
}

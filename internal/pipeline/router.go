// Package pipeline implements the multi-phase generation pipeline:
// model routing, phase orchestration with provider fallback, streaming
// artifact extraction, and structural validation.
package pipeline

import "appforge/internal/types"

// Candidate pairs a provider kind with a concrete model ID.
type Candidate struct {
	Provider types.Provider
	Model    string
}

// Default models used when a phase preference cannot be satisfied and as
// the per-provider fallback during GENERATE/ITERATE.
//
// Gemini Pro triggers RECITATION blocks on common boilerplate code, so
// Claude leads the GENERATE preference and Gemini Flash (weaker filter than
// Pro) is the Gemini-side fallback.
const (
	defaultGeminiModel    = "gemini-3-flash-preview"
	defaultAnthropicModel = "claude-sonnet-4-6"
)

var fallbackModels = map[types.Provider]string{
	types.ProviderAnthropic: defaultAnthropicModel,
	types.ProviderGemini:    defaultGeminiModel,
}

// Ordered provider walk for fallback construction. Fixed so candidate
// queues are deterministic given the same credential set.
var providerOrder = []types.Provider{
	types.ProviderAnthropic,
	types.ProviderGemini,
}

// phaseModels maps each phase to its ordered model preference:
//   - ANALYZE: fast, cheap classification
//   - PLAN: reasoning-heavy
//   - GENERATE: code quality, weakest recitation filter first
//   - ITERATE: long context for existing code
//
// SPEC and VALIDATE make no LLM call and have no preferences.
var phaseModels = map[types.Phase][]Candidate{
	types.PhaseAnalyze: {
		{types.ProviderGemini, "gemini-3-flash-preview"},
		{types.ProviderAnthropic, "claude-haiku-4-5-20251001"},
	},
	types.PhasePlan: {
		{types.ProviderAnthropic, "claude-sonnet-4-6"},
		{types.ProviderGemini, "gemini-3-pro-preview"},
	},
	types.PhaseGenerate: {
		{types.ProviderAnthropic, "claude-sonnet-4-6"},
		{types.ProviderGemini, "gemini-3-flash-preview"},
	},
	types.PhaseIterate: {
		{types.ProviderGemini, "gemini-3-pro-preview"},
		{types.ProviderAnthropic, "claude-sonnet-4-6"},
	},
}

// primary returns the best available candidate for a phase. It never fails:
// with no usable credential at all it still returns the default Gemini
// candidate, and the failure surfaces at call time instead.
func primary(phase types.Phase, creds types.CredentialSet) Candidate {
	for _, cand := range phaseModels[phase] {
		if creds.Has(cand.Provider) {
			return cand
		}
	}
	if creds.Has(types.ProviderGemini) {
		return Candidate{types.ProviderGemini, defaultGeminiModel}
	}
	if creds.Has(types.ProviderAnthropic) {
		return Candidate{types.ProviderAnthropic, defaultAnthropicModel}
	}
	return Candidate{types.ProviderGemini, defaultGeminiModel}
}

// Select returns the model ID to use for a phase given the available
// credentials. Pure and deterministic: identical inputs always yield the
// same model ID.
func Select(phase types.Phase, creds types.CredentialSet) string {
	return primary(phase, creds).Model
}

// Candidates returns the ordered fallback queue for a phase: the primary
// candidate followed by one fallback model per other credentialed provider.
// Used by GENERATE/ITERATE to route around provider content blocks.
func Candidates(phase types.Phase, creds types.CredentialSet) []Candidate {
	first := primary(phase, creds)
	out := []Candidate{first}
	for _, p := range providerOrder {
		if p == first.Provider || !creds.Has(p) {
			continue
		}
		if fb := fallbackModels[p]; fb != first.Model {
			out = append(out, Candidate{p, fb})
		}
	}
	return out
}

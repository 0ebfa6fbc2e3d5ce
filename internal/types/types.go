// Package types provides shared type definitions used across appforge packages.
// This package exists to break import cycles between the pipeline, provider,
// and project packages. Types here should be foundational data structures
// with no complex dependencies.
package types

import "strings"

// Phase is one discrete step of the generation workflow.
type Phase string

const (
	PhaseAnalyze  Phase = "ANALYZE"
	PhaseSpec     Phase = "SPEC"
	PhasePlan     Phase = "PLAN"
	PhaseGenerate Phase = "GENERATE"
	PhaseValidate Phase = "VALIDATE"
	PhaseIterate  Phase = "ITERATE"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
)

// CredentialSet records which providers have usable credentials.
// Presence only; no secret material is carried here.
type CredentialSet map[Provider]bool

// Has reports whether the provider has a usable credential.
func (c CredentialSet) Has(p Provider) bool {
	return c[p]
}

// Empty reports whether no provider is usable at all.
func (c CredentialSet) Empty() bool {
	for _, ok := range c {
		if ok {
			return false
		}
	}
	return true
}

// Stack is the target technology stack of a generated application.
type Stack string

const (
	StackReactFastAPI Stack = "react-fastapi"
	StackReactOnly    Stack = "react-only"
	StackFastAPIOnly  Stack = "fastapi-only"
)

// HasFrontend reports whether the stack includes a React frontend.
func (s Stack) HasFrontend() bool {
	return s == StackReactFastAPI || s == StackReactOnly
}

// HasBackend reports whether the stack includes a FastAPI backend.
func (s Stack) HasBackend() bool {
	return s == StackReactFastAPI || s == StackFastAPIOnly
}

// Complexity classifies a user request.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

// Role classifies a generated file by its purpose within the project.
type Role string

const (
	RoleEntry     Role = "entry"
	RoleConfig    Role = "config"
	RoleStyle     Role = "style"
	RoleSchema    Role = "schema"
	RoleTest      Role = "test"
	RoleComponent Role = "component"
	RoleSource    Role = "source"
)

// File is a single named, path-addressed unit of generated content.
// Path is the identity within a project.
type File struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Role     Role   `json:"role"`
	Language string `json:"language"`
	Ordinal  int    `json:"ordinal"`
}

// LineCount returns the number of lines in the file body.
func (f File) LineCount() int {
	if f.Content == "" {
		return 0
	}
	return strings.Count(f.Content, "\n") + 1
}

// Dependency is a single package requirement of the generated application.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Spec is the derived specification driving one generation run.
// Immutable once built.
type Spec struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Stack        Stack      `json:"stack"`
	Complexity   Complexity `json:"complexity"`
	AuthStrategy string     `json:"auth_strategy"`
	Database     string     `json:"database"`
}

// PhaseRecord is one entry of the append-only phase ledger.
// A GENERATE/ITERATE record carries the summed token usage of all fallback
// attempts and the model that finally produced usable output.
type PhaseRecord struct {
	Phase      Phase  `json:"phase"`
	Success    bool   `json:"success"`
	Output     any    `json:"output,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
	Error      string `json:"error,omitempty"`
}

package pipeline

import (
	"appforge/internal/project"
	"appforge/internal/types"
)

// EventKind tags a pipeline stream event.
type EventKind string

const (
	EventPhaseStarted   EventKind = "phase_started"
	EventPhaseCompleted EventKind = "phase_completed"
	EventPlan           EventKind = "plan"
	EventToken          EventKind = "token"
	EventFile           EventKind = "file"
	EventDeps           EventKind = "deps"
	EventRunCompleted   EventKind = "run_completed"
)

// Event is one element of the ordered, finite, non-restartable sequence a
// streaming run exposes to its consumer. A file event for path P is never
// emitted before the token events whose text contributed to P.
type Event struct {
	Kind         EventKind                 `json:"kind"`
	Phase        types.Phase               `json:"phase,omitempty"`
	DurationMs   int64                     `json:"duration_ms,omitempty"`
	Model        string                    `json:"model,omitempty"`
	TokensUsed   int                       `json:"tokens_used,omitempty"`
	Text         string                    `json:"text,omitempty"`
	File         *types.File               `json:"file,omitempty"`
	FrontendDeps []types.Dependency        `json:"frontend_deps,omitempty"`
	BackendDeps  []types.Dependency        `json:"backend_deps,omitempty"`
	Errors       []string                  `json:"errors,omitempty"`
	Result       *project.GenerationResult `json:"result,omitempty"`
}

func phaseStarted(phase types.Phase) Event {
	return Event{Kind: EventPhaseStarted, Phase: phase}
}

func phaseCompleted(rec types.PhaseRecord) Event {
	return Event{
		Kind:       EventPhaseCompleted,
		Phase:      rec.Phase,
		DurationMs: rec.DurationMs,
		Model:      rec.Model,
		TokensUsed: rec.TokensUsed,
	}
}

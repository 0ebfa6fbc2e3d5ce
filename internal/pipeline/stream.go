package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"appforge/internal/project"
	"appforge/internal/types"
)

// Stream runs the pipeline and exposes it as an ordered event sequence. The
// channel is closed when the run finishes or the context is cancelled; a
// cancelled run is abandoned without emitting run_completed. Token events for
// a GENERATE or ITERATE attempt always precede the file events extracted from
// them.
func (o *Orchestrator) Stream(ctx context.Context, req RunRequest) (<-chan Event, error) {
	if o.creds.Empty() {
		return nil, ErrNoProvider
	}
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		start := time.Now()
		r := &run{o: o}
		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if req.Existing != nil {
			merged, ok := r.streamIterate(ctx, emit, req.UserRequest, req.Existing)
			if !ok {
				return
			}
			res := r.result(merged, nil, start)
			emit(Event{Kind: EventRunCompleted, Result: res})
			return
		}

		if !emit(phaseStarted(types.PhaseAnalyze)) {
			return
		}
		a := r.analyze(ctx, req.UserRequest)
		if !emit(phaseCompleted(r.last())) {
			return
		}

		spec := r.buildSpec(a, req.UserRequest, req.Spec)
		if !emit(phaseCompleted(r.last())) {
			return
		}

		if !emit(phaseStarted(types.PhasePlan)) {
			return
		}
		plan := r.plan(ctx, req.UserRequest, spec)
		if !emit(phaseCompleted(r.last())) {
			return
		}
		if !emit(Event{Kind: EventPlan, Phase: types.PhasePlan, Text: plan}) {
			return
		}

		if !emit(phaseStarted(types.PhaseGenerate)) {
			return
		}
		proj, ok := r.streamGenerate(ctx, emit, req.UserRequest, spec, plan)
		if !ok {
			return
		}

		if !emit(phaseStarted(types.PhaseValidate)) {
			return
		}
		verrs := r.validate(proj, spec)
		done := phaseCompleted(r.last())
		done.Errors = verrs
		if !emit(done) {
			return
		}

		res := r.result(proj, verrs, start)
		emit(Event{Kind: EventRunCompleted, Result: res, Errors: verrs})
	}()
	return events, nil
}

func (r *run) last() types.PhaseRecord {
	return r.phases[len(r.phases)-1]
}

// streamModel resolves and opens a stream for one candidate. Failures return
// a nil channel so the caller treats the attempt as an empty completion.
func (r *run) streamModel(ctx context.Context, cand Candidate, req types.Request) <-chan types.StreamChunk {
	client, err := r.o.resolver.ClientFor(cand.Provider, cand.Model)
	if err != nil {
		r.o.logger.Warn("client unavailable",
			zap.String("provider", string(cand.Provider)),
			zap.String("model", cand.Model),
			zap.Error(err))
		return nil
	}
	req.Model = cand.Model
	chunks, err := client.Stream(ctx, req)
	if err != nil {
		r.o.logger.Warn("stream open failed",
			zap.String("model", cand.Model),
			zap.Error(err))
		return nil
	}
	return chunks
}

// streamGenerate runs the GENERATE fallback queue with incremental file
// extraction. Each attempt gets a fresh extractor seeded with the paths
// already emitted, so a file surfaces to the consumer at most once across
// the whole phase. The final project is assembled from an authoritative
// re-parse of the winning attempt's full buffer.
func (r *run) streamGenerate(ctx context.Context, emit func(Event) bool, userRequest string, spec types.Spec, plan string) (*project.Project, bool) {
	start := time.Now()
	cands := Candidates(types.PhaseGenerate, r.o.creds)
	req := types.Request{
		Messages: []types.Message{
			{Role: "system", Content: buildGenerateSystem(spec.Stack)},
			{Role: "user", Content: buildGenerateUser(userRequest, plan)},
		},
		Temperature: 0.3,
		MaxTokens:   32000,
	}

	ex, usedModel, totalTokens, ok := r.streamAttempts(ctx, emit, cands, req)
	if !ok {
		return nil, false
	}
	for _, f := range ex.Finalize() {
		f := f
		if !emit(Event{Kind: EventFile, Phase: types.PhaseGenerate, File: &f}) {
			return nil, false
		}
	}

	frontendDeps, backendDeps := ParseDeps(ex.Buffer())
	if len(frontendDeps)+len(backendDeps) > 0 {
		if !emit(Event{Kind: EventDeps, Phase: types.PhaseGenerate, FrontendDeps: frontendDeps, BackendDeps: backendDeps}) {
			return nil, false
		}
	}

	files := ParseFiles(ex.Buffer())
	proj := newProject(spec, files, frontendDeps, backendDeps, plan)

	r.record(types.PhaseRecord{
		Phase:   types.PhaseGenerate,
		Success: len(files) > 0,
		Output: map[string]any{
			"file_count":  len(files),
			"total_lines": proj.TotalLines(),
		},
		DurationMs: time.Since(start).Milliseconds(),
		TokensUsed: totalTokens,
		Model:      usedModel,
	})
	if !emit(phaseCompleted(r.last())) {
		return nil, false
	}
	return proj, true
}

// streamIterate is the refinement counterpart: one ITERATE phase, merged
// into the existing project.
func (r *run) streamIterate(ctx context.Context, emit func(Event) bool, userRequest string, existing *project.Project) (*project.Project, bool) {
	if !emit(phaseStarted(types.PhaseIterate)) {
		return nil, false
	}
	start := time.Now()
	cands := Candidates(types.PhaseIterate, r.o.creds)
	req := types.Request{
		Messages: []types.Message{
			{Role: "system", Content: refinerPrompt},
			{Role: "user", Content: buildIterateUser(userRequest, existing)},
		},
		Temperature: 0.3,
		MaxTokens:   16000,
	}

	ex, usedModel, totalTokens, ok := r.streamAttempts(ctx, emit, cands, req)
	if !ok {
		return nil, false
	}
	for _, f := range ex.Finalize() {
		f := f
		if !emit(Event{Kind: EventFile, Phase: types.PhaseIterate, File: &f}) {
			return nil, false
		}
	}

	frontendDeps, backendDeps := ParseDeps(ex.Buffer())
	if len(frontendDeps)+len(backendDeps) > 0 {
		if !emit(Event{Kind: EventDeps, Phase: types.PhaseIterate, FrontendDeps: frontendDeps, BackendDeps: backendDeps}) {
			return nil, false
		}
	}

	changed := ParseFiles(ex.Buffer())
	merged := project.Merge(existing, changed, frontendDeps, backendDeps)

	r.record(types.PhaseRecord{
		Phase:   types.PhaseIterate,
		Success: true,
		Output: map[string]any{
			"changed_files": len(changed),
			"total_files":   len(merged.Files),
		},
		DurationMs: time.Since(start).Milliseconds(),
		TokensUsed: totalTokens,
		Model:      usedModel,
	})
	if !emit(phaseCompleted(r.last())) {
		return nil, false
	}
	return merged, true
}

// streamAttempts walks the candidate queue, streaming tokens and extracting
// files as fragments arrive. It returns the extractor of the last attempt,
// the last model tried and the token total summed over every attempt. A
// false return means the consumer went away mid-stream.
func (r *run) streamAttempts(ctx context.Context, emit func(Event) bool, cands []Candidate, req types.Request) (*Extractor, string, int, bool) {
	var ex *Extractor
	var emittedSoFar []string
	usedModel := cands[0].Model
	totalTokens := 0

	for _, cand := range cands {
		ex = NewExtractor()
		ex.MarkEmitted(emittedSoFar...)
		usedModel = cand.Model

		chunks := r.streamModel(ctx, cand, req)
		if chunks == nil {
			continue
		}

		blocked := false
		abandoned := false
		for chunk := range chunks {
			if abandoned {
				continue // drain so the producer can exit
			}
			switch chunk.Kind {
			case types.ChunkToken:
				if !emit(Event{Kind: EventToken, Text: chunk.Text, Model: cand.Model}) {
					abandoned = true
					continue
				}
				for _, f := range ex.Feed(chunk.Text) {
					f := f
					if !emit(Event{Kind: EventFile, File: &f}) {
						abandoned = true
						break
					}
				}
			case types.ChunkDone:
				totalTokens += chunk.TokensIn + chunk.TokensOut
				blocked = chunk.Blocked
				if chunk.Model != "" {
					usedModel = chunk.Model
				}
			}
		}
		if abandoned {
			return nil, "", 0, false
		}

		emittedSoFar = ex.EmittedPaths()
		if !blocked && strings.TrimSpace(ex.Buffer()) != "" {
			break
		}
		r.o.logger.Warn("stream attempt unusable, falling back",
			zap.String("model", cand.Model),
			zap.Bool("blocked", blocked))
	}
	return ex, usedModel, totalTokens, true
}

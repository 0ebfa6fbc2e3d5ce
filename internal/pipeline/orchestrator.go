package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"appforge/internal/project"
	"appforge/internal/types"
)

// ErrNoProvider is returned when a run is requested without any provider
// credentials. A run can survive individual model failures by falling back,
// but it cannot start with an empty credential set.
var ErrNoProvider = errors.New("no provider credentials configured")

// ClientResolver builds a client for a provider/model pair. The provider
// factory satisfies this; tests substitute fakes.
type ClientResolver interface {
	ClientFor(p types.Provider, model string) (types.Client, error)
}

// Orchestrator drives the generation pipeline: ANALYZE, SPEC, PLAN, GENERATE
// and VALIDATE for a fresh build, or a single ITERATE pass when refining an
// existing project. Every phase appends exactly one record to the run ledger,
// in execution order.
type Orchestrator struct {
	resolver ClientResolver
	creds    types.CredentialSet
	logger   *zap.Logger
}

func New(resolver ClientResolver, creds types.CredentialSet, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{resolver: resolver, creds: creds, logger: logger}
}

// RunRequest describes one pipeline run. Existing selects the iterate path;
// Spec, when set, skips derivation and is recorded as supplied by the caller.
type RunRequest struct {
	UserRequest string
	Spec        *types.Spec
	Existing    *project.Project
}

// Run executes the pipeline to completion and returns the aggregated result.
// The result is unsuccessful, not an error, when generation produced a
// project that fails validation; an error means the run could not proceed.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*project.GenerationResult, error) {
	if o.creds.Empty() {
		return nil, ErrNoProvider
	}
	start := time.Now()
	r := &run{o: o}

	if req.Existing != nil {
		merged := r.iterate(ctx, req.UserRequest, req.Existing)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return r.result(merged, nil, start), nil
	}

	a := r.analyze(ctx, req.UserRequest)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec := r.buildSpec(a, req.UserRequest, req.Spec)
	plan := r.plan(ctx, req.UserRequest, spec)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proj := r.generate(ctx, req.UserRequest, spec, plan)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	verrs := r.validate(proj, spec)
	return r.result(proj, verrs, start), nil
}

// run holds the per-run ledger. Records are append-only and never reordered.
type run struct {
	o      *Orchestrator
	phases []types.PhaseRecord
}

func (r *run) record(rec types.PhaseRecord) {
	r.phases = append(r.phases, rec)
}

func (r *run) totalTokens() int {
	total := 0
	for _, rec := range r.phases {
		total += rec.TokensUsed
	}
	return total
}

func (r *run) result(proj *project.Project, verrs []string, start time.Time) *project.GenerationResult {
	return &project.GenerationResult{
		Project:         proj,
		Phases:          r.phases,
		TotalDurationMs: time.Since(start).Milliseconds(),
		TotalTokens:     r.totalTokens(),
		Success:         len(verrs) == 0,
		Errors:          verrs,
	}
}

// callModel resolves and calls a single candidate. Resolver and transport
// failures degrade to an empty response so the fallback policy sees them the
// same way it sees an empty completion.
func (r *run) callModel(ctx context.Context, cand Candidate, req types.Request) types.Response {
	if ctx.Err() != nil {
		return types.Response{Model: cand.Model}
	}
	client, err := r.o.resolver.ClientFor(cand.Provider, cand.Model)
	if err != nil {
		r.o.logger.Warn("client unavailable",
			zap.String("provider", string(cand.Provider)),
			zap.String("model", cand.Model),
			zap.Error(err))
		return types.Response{Model: cand.Model}
	}
	req.Model = cand.Model
	resp, err := client.Call(ctx, req)
	if err != nil {
		r.o.logger.Warn("model call failed",
			zap.String("model", cand.Model),
			zap.Error(err))
		return types.Response{Model: cand.Model}
	}
	return resp
}

// analysis is the ANALYZE phase classification. Unparseable model output
// falls back to the standard full-stack defaults.
type analysis struct {
	Complexity    string   `json:"complexity"`
	Stack         string   `json:"stack"`
	Features      []string `json:"features"`
	NeedsAuth     bool     `json:"needs_auth"`
	NeedsDatabase bool     `json:"needs_database"`
}

func defaultAnalysis() analysis {
	return analysis{
		Complexity:    string(types.ComplexityStandard),
		Stack:         string(types.StackReactFastAPI),
		NeedsDatabase: true,
	}
}

func parseAnalysis(content string) (analysis, bool) {
	trimmed := strings.TrimSpace(cleanContent(content))
	var a analysis
	if err := json.Unmarshal([]byte(trimmed), &a); err != nil {
		return analysis{}, false
	}
	if a.Stack == "" || a.Complexity == "" {
		return analysis{}, false
	}
	return a, true
}

func (r *run) analyze(ctx context.Context, userRequest string) analysis {
	start := time.Now()
	cand := primary(types.PhaseAnalyze, r.o.creds)
	resp := r.callModel(ctx, cand, types.Request{
		Messages: []types.Message{
			{Role: "user", Content: buildAnalyzeUser(userRequest)},
		},
		Temperature: 0.1,
		MaxTokens:   500,
	})
	a, ok := parseAnalysis(resp.Content)
	if !ok {
		r.o.logger.Warn("analysis unparseable, using defaults",
			zap.String("model", resp.Model))
		a = defaultAnalysis()
	}
	r.record(types.PhaseRecord{
		Phase:      types.PhaseAnalyze,
		Success:    true,
		Output:     a,
		DurationMs: time.Since(start).Milliseconds(),
		TokensUsed: resp.TotalTokens(),
		Model:      resp.Model,
	})
	return a
}

// buildSpec derives a Spec from the analysis, or adopts the caller-supplied
// one. SPEC always appends a ledger record; it never calls a model.
func (r *run) buildSpec(a analysis, userRequest string, supplied *types.Spec) types.Spec {
	start := time.Now()
	var spec types.Spec
	if supplied != nil {
		spec = *supplied
	} else {
		spec = types.Spec{
			Name:         requestName(userRequest),
			Description:  userRequest,
			Stack:        validStack(a.Stack),
			Complexity:   validComplexity(a.Complexity),
			AuthStrategy: "none",
			Database:     "",
		}
		if a.NeedsAuth {
			spec.AuthStrategy = "jwt"
		}
		if a.NeedsDatabase {
			spec.Database = "sqlite"
		}
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	r.record(types.PhaseRecord{
		Phase:      types.PhaseSpec,
		Success:    true,
		Output:     spec,
		DurationMs: time.Since(start).Milliseconds(),
	})
	return spec
}

func requestName(userRequest string) string {
	name := strings.TrimSpace(userRequest)
	if len(name) > 60 {
		name = name[:60]
	}
	if name == "" {
		name = "Untitled App"
	}
	return name
}

func validStack(s string) types.Stack {
	switch types.Stack(s) {
	case types.StackReactFastAPI, types.StackReactOnly, types.StackFastAPIOnly:
		return types.Stack(s)
	}
	return types.StackReactFastAPI
}

func validComplexity(c string) types.Complexity {
	switch types.Complexity(c) {
	case types.ComplexitySimple, types.ComplexityStandard, types.ComplexityComplex:
		return types.Complexity(c)
	}
	return types.ComplexityStandard
}

func (r *run) plan(ctx context.Context, userRequest string, spec types.Spec) string {
	start := time.Now()
	cand := primary(types.PhasePlan, r.o.creds)
	resp := r.callModel(ctx, cand, types.Request{
		Messages: []types.Message{
			{Role: "system", Content: plannerPrompt},
			{Role: "user", Content: buildPlanUser(userRequest, spec)},
		},
		Temperature: 0.2,
		MaxTokens:   4000,
	})
	r.record(types.PhaseRecord{
		Phase:      types.PhasePlan,
		Success:    true,
		Output:     resp.Content,
		DurationMs: time.Since(start).Milliseconds(),
		TokensUsed: resp.TotalTokens(),
		Model:      resp.Model,
	})
	return resp.Content
}

// generate runs the fallback queue for GENERATE: every attempted candidate's
// tokens count toward the phase total, the recorded model is the last one
// attempted, and the first non-empty unblocked completion wins.
func (r *run) generate(ctx context.Context, userRequest string, spec types.Spec, plan string) *project.Project {
	start := time.Now()
	cands := Candidates(types.PhaseGenerate, r.o.creds)

	var resp types.Response
	usedModel := cands[0].Model
	totalTokens := 0
	for _, cand := range cands {
		resp = r.callModel(ctx, cand, types.Request{
			Messages: []types.Message{
				{Role: "system", Content: buildGenerateSystem(spec.Stack)},
				{Role: "user", Content: buildGenerateUser(userRequest, plan)},
			},
			Temperature: 0.3,
			MaxTokens:   32000,
		})
		totalTokens += resp.TotalTokens()
		usedModel = cand.Model
		if strings.TrimSpace(resp.Content) != "" && !resp.Blocked {
			break
		}
		r.o.logger.Warn("generation attempt unusable, falling back",
			zap.String("model", cand.Model),
			zap.Bool("blocked", resp.Blocked))
	}

	files := ParseFiles(resp.Content)
	frontendDeps, backendDeps := ParseDeps(resp.Content)
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
	return proj
}

func newProject(spec types.Spec, files []types.File, frontendDeps, backendDeps []types.Dependency, plan string) *project.Project {
	summary := plan
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return &project.Project{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		Description:  spec.Description,
		Stack:        spec.Stack,
		Complexity:   spec.Complexity,
		Files:        files,
		FrontendDeps: frontendDeps,
		BackendDeps:  backendDeps,
		Version:      1,
		SpecID:       spec.ID,
		PlanSummary:  summary,
	}
}

func (r *run) validate(proj *project.Project, spec types.Spec) []string {
	start := time.Now()
	verrs := Validate(proj, spec)
	rec := types.PhaseRecord{
		Phase:   types.PhaseValidate,
		Success: len(verrs) == 0,
		Output: map[string]any{
			"errors":     verrs,
			"file_count": len(proj.Files),
		},
		DurationMs: time.Since(start).Milliseconds(),
	}
	if len(verrs) > 0 {
		rec.Error = strings.Join(verrs, "; ")
	}
	r.record(rec)
	return verrs
}

// iterate runs the refinement pass against an existing project. It shares
// the GENERATE fallback policy and merges changed files path-by-path.
func (r *run) iterate(ctx context.Context, userRequest string, existing *project.Project) *project.Project {
	start := time.Now()
	cands := Candidates(types.PhaseIterate, r.o.creds)

	var resp types.Response
	usedModel := cands[0].Model
	totalTokens := 0
	for _, cand := range cands {
		resp = r.callModel(ctx, cand, types.Request{
			Messages: []types.Message{
				{Role: "system", Content: refinerPrompt},
				{Role: "user", Content: buildIterateUser(userRequest, existing)},
			},
			Temperature: 0.3,
			MaxTokens:   16000,
		})
		totalTokens += resp.TotalTokens()
		usedModel = cand.Model
		if strings.TrimSpace(resp.Content) != "" && !resp.Blocked {
			break
		}
		r.o.logger.Warn("iteration attempt unusable, falling back",
			zap.String("model", cand.Model),
			zap.Bool("blocked", resp.Blocked))
	}

	changed := ParseFiles(resp.Content)
	frontendDeps, backendDeps := ParseDeps(resp.Content)
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
	return merged
}

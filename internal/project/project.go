// Package project defines the versioned artifact set produced by a
// generation run, plus the iteration merge that derives a new snapshot from
// an existing one.
package project

import (
	"fmt"
	"sort"

	"appforge/internal/types"
)

// Project is the complete, versioned collection of generated files and
// dependency manifests for one generated application. Snapshots are
// immutable: iteration produces a new Project sharing unchanged files.
type Project struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Stack        types.Stack        `json:"stack"`
	Complexity   types.Complexity   `json:"complexity"`
	Files        []types.File       `json:"files"`
	FrontendDeps []types.Dependency `json:"frontend_deps"`
	BackendDeps  []types.Dependency `json:"backend_deps"`
	Version      int                `json:"version"`
	SpecID       string             `json:"spec_id"`
	PlanSummary  string             `json:"plan_summary,omitempty"`
}

// GetFile returns the file at the given path, or nil if absent.
func (p *Project) GetFile(path string) *types.File {
	for i := range p.Files {
		if p.Files[i].Path == path {
			return &p.Files[i]
		}
	}
	return nil
}

// FileTree returns the sorted list of file paths.
func (p *Project) FileTree() []string {
	paths := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

// TotalLines returns the line count across all files.
func (p *Project) TotalLines() int {
	total := 0
	for _, f := range p.Files {
		total += f.LineCount()
	}
	return total
}

// GenerationResult is the consolidated outcome of one pipeline run.
type GenerationResult struct {
	Project         *Project            `json:"project"`
	Phases          []types.PhaseRecord `json:"phases"`
	TotalDurationMs int64               `json:"total_duration_ms"`
	TotalTokens     int                 `json:"total_tokens"`
	Success         bool                `json:"success"`
	Errors          []string            `json:"errors,omitempty"`
}

// Summary returns a one-line human-readable description of the result.
func (r *GenerationResult) Summary() string {
	status := "ok"
	if !r.Success {
		status = fmt.Sprintf("%d validation errors", len(r.Errors))
	}
	return fmt.Sprintf("%d files, %d tokens, %dms, %s",
		len(r.Project.Files), r.TotalTokens, r.TotalDurationMs, status)
}

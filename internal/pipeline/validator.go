package pipeline

import (
	"fmt"
	"strings"

	"appforge/internal/project"
	"appforge/internal/types"
)

const (
	frontendEntryPath = "frontend/src/App.tsx"
	backendEntryPath  = "backend/app/main.py"
)

// Validate runs structural checks over a finished project. Every check
// appends independently; there is no short-circuiting. An empty list means
// the project passed. No LLM is involved.
func Validate(p *project.Project, spec types.Spec) []string {
	errors := []string{}

	if len(p.Files) == 0 {
		errors = append(errors, "No files were generated")
	}

	if spec.Stack.HasFrontend() && p.GetFile(frontendEntryPath) == nil {
		errors = append(errors, "Missing frontend entry point: "+frontendEntryPath)
	}
	if spec.Stack.HasBackend() && p.GetFile(backendEntryPath) == nil {
		errors = append(errors, "Missing backend entry point: "+backendEntryPath)
	}

	for _, f := range p.Files {
		if strings.Contains(f.Content, "// TODO") || strings.Contains(f.Content, "# TODO") {
			errors = append(errors, fmt.Sprintf("Placeholder found in %s", f.Path))
		}
		// Repeated bare "..." lines suggest elided code in typed frontend
		// source. Python is exempt: "..." is a legitimate Ellipsis literal.
		if f.Language == "ts" || f.Language == "tsx" {
			if countEllipsisLines(f.Content) > 2 {
				errors = append(errors, fmt.Sprintf("Suspected placeholder '...' in %s", f.Path))
			}
		}
	}

	for _, f := range p.Files {
		if len(strings.TrimSpace(f.Content)) < 10 {
			errors = append(errors, fmt.Sprintf("Nearly empty file: %s", f.Path))
		}
	}

	return errors
}

func countEllipsisLines(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "..." {
			n++
		}
	}
	return n
}

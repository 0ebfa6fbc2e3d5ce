package project

import "appforge/internal/types"

// Merge derives a new snapshot from an existing project: files whose paths
// appear in changed are replaced, everything else is carried over unchanged,
// the version is incremented by exactly one, and new dependency entries are
// concatenated (not deduplicated) onto the existing collections.
func Merge(existing *Project, changed []types.File, frontendDeps, backendDeps []types.Dependency) *Project {
	changedPaths := make(map[string]bool, len(changed))
	for _, f := range changed {
		changedPaths[f.Path] = true
	}

	files := make([]types.File, 0, len(existing.Files)+len(changed))
	for _, f := range existing.Files {
		if !changedPaths[f.Path] {
			files = append(files, f)
		}
	}
	files = append(files, changed...)

	next := *existing
	next.Files = files
	next.Version = existing.Version + 1
	next.FrontendDeps = append(append([]types.Dependency{}, existing.FrontendDeps...), frontendDeps...)
	next.BackendDeps = append(append([]types.Dependency{}, existing.BackendDeps...), backendDeps...)
	return &next
}

package pipeline

import (
	"path"
	"regexp"
	"strings"

	"appforge/internal/types"
)

// ParseFiles extracts every file from a complete response body. This is the
// sole extraction path for batch calls and the authoritative pass used to
// assemble the final project after streaming.
func ParseFiles(content string) []types.File {
	e := NewExtractor()
	e.buf.WriteString(content)
	files := e.scan(true)
	if files == nil {
		files = []types.File{}
	}
	return files
}

// Dependency manifests are declared per target, one package per line:
//
//	### DEPS: frontend
//	axios@1.6.8
//
//	### DEPS: backend
//	fastapi==0.110.0
var depsMarkerPattern = regexp.MustCompile(`(?m)^### DEPS:[ \t]*(frontend|backend)[ \t]*$`)

// ParseDeps scans a complete response body for dependency manifest blocks.
// Absent manifests yield empty collections.
func ParseDeps(content string) (frontend, backend []types.Dependency) {
	frontend = []types.Dependency{}
	backend = []types.Dependency{}

	marks := depsMarkerPattern.FindAllStringSubmatchIndex(content, -1)
	for _, m := range marks {
		target := content[m[2]:m[3]]
		block := content[m[1]:]
		// A manifest block ends at the next ### marker or end of buffer.
		if idx := strings.Index(block, "\n### "); idx >= 0 {
			block = block[:idx]
		}
		for _, line := range strings.Split(block, "\n") {
			dep, ok := parseDepLine(line)
			if !ok {
				continue
			}
			if target == "frontend" {
				frontend = append(frontend, dep)
			} else {
				backend = append(backend, dep)
			}
		}
	}
	return frontend, backend
}

// parseDepLine parses "name@version" (npm, including scoped packages) or
// "name==version" (pip). A bare name yields an empty version.
func parseDepLine(line string) (types.Dependency, bool) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
		return types.Dependency{}, false
	}
	if i := strings.Index(line, "=="); i > 0 {
		return types.Dependency{Name: strings.TrimSpace(line[:i]), Version: strings.TrimSpace(line[i+2:])}, true
	}
	// LastIndex keeps the scope prefix of packages like @types/react@18.2.0
	if i := strings.LastIndex(line, "@"); i > 0 {
		return types.Dependency{Name: strings.TrimSpace(line[:i]), Version: strings.TrimSpace(line[i+1:])}, true
	}
	return types.Dependency{Name: line}, true
}

// InferRole classifies a file by its path using the same rules for
// incremental and final extraction.
func InferRole(p string) types.Role {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	ext := strings.TrimPrefix(path.Ext(base), ".")

	switch {
	case strings.HasPrefix(base, "test_") ||
		strings.Contains(base, "_test.") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec."):
		return types.RoleTest

	case base == "app.tsx" || base == "app.jsx" || base == "app.js" ||
		base == "main.py" || base == "main.tsx" || base == "index.tsx":
		return types.RoleEntry

	case base == "package.json" || base == "tsconfig.json" ||
		strings.HasPrefix(base, "vite.config") ||
		base == "requirements.txt" || base == "config.py" ||
		base == "dockerfile" || strings.HasPrefix(base, ".env") ||
		ext == "toml" || ext == "yaml" || ext == "yml":
		return types.RoleConfig

	case ext == "css" || ext == "scss":
		return types.RoleStyle

	case strings.Contains(lower, "/models/") || strings.Contains(lower, "/schemas/") ||
		base == "database.py" || strings.HasPrefix(base, "schema.") || ext == "sql":
		return types.RoleSchema

	case strings.Contains(lower, "/components/"):
		return types.RoleComponent

	default:
		return types.RoleSource
	}
}

var languageByExt = map[string]string{
	"tsx":  "tsx",
	"ts":   "ts",
	"jsx":  "jsx",
	"js":   "js",
	"py":   "py",
	"css":  "css",
	"scss": "scss",
	"html": "html",
	"json": "json",
	"md":   "md",
	"yaml": "yaml",
	"yml":  "yaml",
	"toml": "toml",
	"sql":  "sql",
	"sh":   "sh",
	"txt":  "text",
}

// InferLanguage returns the language tag for a file path.
func InferLanguage(p string) string {
	ext := strings.TrimPrefix(path.Ext(strings.ToLower(p)), ".")
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	if ext == "" {
		return "text"
	}
	return ext
}

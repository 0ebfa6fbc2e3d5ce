package pipeline

import (
	"fmt"
	"strings"

	"appforge/internal/project"
	"appforge/internal/types"
)

// systemPrompt carries the output contract every generation phase relies
// on: the FILE/DEPS marker format parsed by the extraction engine.
const systemPrompt = `You are an expert full-stack application generator.

You produce complete, runnable applications. Output every file using this
exact format, with no markdown fences around file contents:

### FILE: path/relative/to/project/root.ext
<complete file content>
### END FILE

Rules:
- Every file must be complete and runnable. Never elide code with "..." or
  leave TODO placeholders.
- Paths are unique; never emit the same path twice.
- Declare packages beyond the framework defaults in manifest blocks:

### DEPS: frontend
axios@1.6.8

### DEPS: backend
fastapi==0.110.0
`

const plannerPrompt = `You are a technical planner for full-stack applications.

You classify requests and produce concise technical plans: pages and
components for the frontend, resources and endpoints for the backend, data
model, and auth approach. Plans are implementation-ready and ordered:
config first, then schema, backend, frontend. Keep plans under 60 lines.`

const frontendPrompt = `# FRONTEND GENERATION CONTEXT

You are generating a React + TypeScript frontend rendered in a Sandpack
preview.
- frontend/src/App.tsx is always the entry point.
- Use inline styles (style={{...}}), not CSS classes or Tailwind.
- All imports use relative paths starting with ./
- Components live under frontend/src/components/.
- Declare npm packages beyond react/react-dom as DEPS.`

const backendPrompt = `# BACKEND GENERATION CONTEXT

You are generating a FastAPI backend with layered architecture:
Routes -> Services -> Models -> Database.
- backend/app/main.py mounts CORS, includes routers under /api, and exposes
  /api/health.
- Use pydantic-settings in backend/app/config.py.
- SQLModel engine and get_session() in backend/app/database.py.
- Thin routers delegating to service classes; RESTful plural-noun routes;
  errors as {"detail": "message"} with conventional status codes.
- When auth is required: JWT via python-jose, HTTPBearer dependency,
  hashing in backend/app/auth/password.py.`

const databasePrompt = `# DATABASE GENERATION CONTEXT

Use SQLite through SQLModel. Separate table models from API schemas
(Create/Read/Update variants). IDs are uuid4 hex strings; timestamps use
UTC defaults; foreign keys are indexed. create_tables() runs on startup.`

const refinerPrompt = `# REFINEMENT CONTEXT

You are modifying an existing project. Output ONLY the files that need to
change, using the ### FILE: format. Each emitted file must be complete,
never a diff. Preserve the existing structure, naming, and style. Declare
any newly required packages in DEPS blocks.`

// buildGenerateSystem assembles the GENERATE system prompt from the stack.
func buildGenerateSystem(stack types.Stack) string {
	parts := []string{systemPrompt}
	if stack.HasFrontend() {
		parts = append(parts, frontendPrompt)
	}
	if stack.HasBackend() {
		parts = append(parts, backendPrompt)
	}
	if stack != types.StackReactOnly {
		parts = append(parts, databasePrompt)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func buildAnalyzeUser(userRequest string) string {
	return fmt.Sprintf(`Analyze this request and classify it.

Request: %s

Respond with ONLY a JSON object:
{"complexity": "simple|standard|complex", "stack": "react-fastapi|react-only|fastapi-only", "features": ["feature1", "feature2"], "needs_auth": true/false, "needs_database": true/false}`, userRequest)
}

func buildPlanUser(userRequest string, spec types.Spec) string {
	return fmt.Sprintf(`Create a technical plan for this application.

User Request: %s

Spec:
Stack: %s
Complexity: %s
Auth: %s
Database: %s

Follow the plan format exactly.`,
		userRequest, spec.Stack, spec.Complexity, spec.AuthStrategy, spec.Database)
}

func buildGenerateUser(userRequest, plan string) string {
	return fmt.Sprintf(`Generate a complete application based on this plan.

User Request: %s

Technical Plan:
%s

Generate ALL files using ### FILE: markers. Follow the generation order
specified in the system prompt. Every file must be complete and runnable.`,
		userRequest, plan)
}

func buildIterateUser(userRequest string, existing *project.Project) string {
	var files strings.Builder
	for _, f := range existing.Files {
		fmt.Fprintf(&files, "\n### FILE: %s\n%s\n### END FILE\n", f.Path, f.Content)
	}
	return fmt.Sprintf(`Here is the current project:

File tree:
%s

Files:
%s

Change request: %s

Output ONLY the files that need to change, using ### FILE: markers. Each
file must be complete (not a diff).`,
		strings.Join(existing.FileTree(), "\n"), files.String(), userRequest)
}

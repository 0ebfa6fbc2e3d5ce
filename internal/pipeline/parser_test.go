package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"appforge/internal/types"
)

func TestParseDeps(t *testing.T) {
	content := "### FILE: a.py\nx = 1\n### END FILE\n" +
		"### DEPS: frontend\n" +
		"axios@1.6.8\n" +
		"@types/react@18.2.0\n" +
		"- zustand@4.5.0\n" +
		"react\n" +
		"\n" +
		"### DEPS: backend\n" +
		"fastapi==0.110.0\n" +
		"# a comment\n" +
		"sqlmodel\n"

	frontend, backend := ParseDeps(content)

	wantFrontend := []types.Dependency{
		{Name: "axios", Version: "1.6.8"},
		{Name: "@types/react", Version: "18.2.0"},
		{Name: "zustand", Version: "4.5.0"},
		{Name: "react"},
	}
	if diff := cmp.Diff(wantFrontend, frontend); diff != "" {
		t.Errorf("frontend deps mismatch (-want +got):\n%s", diff)
	}

	wantBackend := []types.Dependency{
		{Name: "fastapi", Version: "0.110.0"},
		{Name: "sqlmodel"},
	}
	if diff := cmp.Diff(wantBackend, backend); diff != "" {
		t.Errorf("backend deps mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDeps_AbsentManifests(t *testing.T) {
	frontend, backend := ParseDeps("### FILE: a.py\nx = 1\n### END FILE\n")
	if frontend == nil || backend == nil {
		t.Fatal("ParseDeps returned nil slice for absent manifests")
	}
	if len(frontend)+len(backend) != 0 {
		t.Errorf("ParseDeps invented deps: %v / %v", frontend, backend)
	}
}

func TestParseDeps_BlockEndsAtNextMarker(t *testing.T) {
	content := "### DEPS: frontend\naxios@1.6.8\n### FILE: a.py\nnot-a-dep\n### END FILE\n"
	frontend, _ := ParseDeps(content)
	if len(frontend) != 1 || frontend[0].Name != "axios" {
		t.Errorf("frontend = %v, want just axios", frontend)
	}
}

func TestInferRole(t *testing.T) {
	tests := []struct {
		path string
		want types.Role
	}{
		{"frontend/src/App.tsx", types.RoleEntry},
		{"backend/app/main.py", types.RoleEntry},
		{"frontend/src/index.tsx", types.RoleEntry},
		{"backend/tests/test_items.py", types.RoleTest},
		{"frontend/src/App.test.tsx", types.RoleTest},
		{"frontend/src/components/TodoList.tsx", types.RoleComponent},
		{"frontend/src/styles/main.css", types.RoleStyle},
		{"backend/app/models/item.py", types.RoleSchema},
		{"backend/app/database.py", types.RoleSchema},
		{"migrations/001_init.sql", types.RoleSchema},
		{"frontend/package.json", types.RoleConfig},
		{"backend/requirements.txt", types.RoleConfig},
		{"docker-compose.yaml", types.RoleConfig},
		{"Dockerfile", types.RoleConfig},
		{"backend/app/routes/items.py", types.RoleSource},
	}
	for _, tt := range tests {
		if got := InferRole(tt.path); got != tt.want {
			t.Errorf("InferRole(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestInferRole_TestBeatsComponent(t *testing.T) {
	// Test classification wins over directory-based rules.
	if got := InferRole("frontend/src/components/TodoList.test.tsx"); got != types.RoleTest {
		t.Errorf("got %s, want test", got)
	}
}

func TestInferLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"frontend/src/App.tsx", "tsx"},
		{"backend/app/main.py", "py"},
		{"frontend/src/main.css", "css"},
		{"requirements.txt", "text"},
		{"config.yml", "yaml"},
		{"Makefile", "text"},
		{"script.rb", "rb"},
	}
	for _, tt := range tests {
		if got := InferLanguage(tt.path); got != tt.want {
			t.Errorf("InferLanguage(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

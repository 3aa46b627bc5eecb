package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRouteTable = `
routes:
  - path: /courses
  - path: /grading
    roles: [teacher, administrator]
  - path: /grading/appeals
    roles: [administrator]
  - path: sections/
    roles: [teaching_assistant, Teacher]
`

func TestParseRouteTable(t *testing.T) {
	table, err := ParseRouteTable([]byte(testRouteTable))
	require.NoError(t, err)

	routes := table.Routes()
	require.Len(t, routes, 4)
	assert.Equal(t, "/grading/appeals", routes[0].Pattern, "longest prefix first")

	route, ok := table.Match("/sections/12")
	require.True(t, ok)
	assert.Equal(t, "/sections", route.Pattern)
	assert.Equal(t, []Role{TeachingAssistant, Teacher}, route.Required)
}

func TestParseRouteTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "routes: [path: {"},
		{"empty path", "routes:\n  - path: ''\n"},
		{"duplicate", "routes:\n  - path: /a\n  - path: /a/\n"},
		{"unknown role", "routes:\n  - path: /a\n    roles: [dean]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRouteTable([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestRouteTable_Match(t *testing.T) {
	table, err := ParseRouteTable([]byte(testRouteTable))
	require.NoError(t, err)

	tests := []struct {
		path     string
		pattern  string
		required []Role
		ok       bool
	}{
		{path: "/grading", pattern: "/grading", required: []Role{Teacher, Administrator}, ok: true},
		{path: "/grading/7", pattern: "/grading", required: []Role{Teacher, Administrator}, ok: true},
		{path: "/grading/appeals/3", pattern: "/grading/appeals", required: []Role{Administrator}, ok: true},
		{path: "/courses/intro", pattern: "/courses", ok: true},
		{path: "/gradingx", ok: false},
		{path: "/", ok: false},
		{path: "/library", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			route, ok := table.Match(tt.path)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.path, route.Path)
			assert.Equal(t, tt.pattern, route.Pattern)
			if tt.required == nil {
				assert.False(t, route.RequiresRoles())
			} else {
				assert.Equal(t, tt.required, route.Required)
			}
		})
	}
}

func TestRouteTable_MatchReturnsCopy(t *testing.T) {
	table, err := NewRouteTable([]RouteDeclaration{{Path: "/admin", Roles: []string{"administrator"}}})
	require.NoError(t, err)

	route, _ := table.Match("/admin")
	route.Required[0] = Learner

	again, _ := table.Match("/admin")
	assert.Equal(t, []Role{Administrator}, again.Required)
}

func TestRouteTable_RootPrefix(t *testing.T) {
	table, err := NewRouteTable([]RouteDeclaration{{Path: "/"}, {Path: "/admin", Roles: []string{"administrator"}}})
	require.NoError(t, err)

	route, ok := table.Match("/anything")
	require.True(t, ok)
	assert.Equal(t, "/", route.Pattern)

	route, ok = table.Match("/admin/users")
	require.True(t, ok)
	assert.Equal(t, "/admin", route.Pattern)
}

func TestLoadRouteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRouteTable), 0o644))

	table, err := LoadRouteTable(path)
	require.NoError(t, err)
	assert.Len(t, table.Routes(), 4)

	_, err = LoadRouteTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// replaceFile swaps content in with a rename, the way config mounts update,
// so the watcher never sees a truncated file
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestRouteTable_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - path: /admin\n    roles: [administrator]\n"), 0o644))

	table, err := LoadRouteTable(path)
	require.NoError(t, err)

	metrics := newTestMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, table.Watch(ctx, path, nil, metrics))

	replaceFile(t, path, "routes:\n  - path: /admin\n    roles: [teacher]\n")
	assert.Eventually(t, func() bool {
		route, ok := table.Match("/admin")
		return ok && len(route.Required) == 1 && route.Required[0] == Teacher
	}, 5*time.Second, 20*time.Millisecond)

	// a broken file keeps the previous table
	replaceFile(t, path, "routes:\n  - path: /admin\n    roles: [dean]\n")
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.RouteTableReloadsTotal.WithLabelValues("error")) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	route, ok := table.Match("/admin")
	require.True(t, ok)
	assert.Equal(t, []Role{Teacher}, route.Required)
}

func TestRouteTable_WatchMissingDirectory(t *testing.T) {
	table, err := NewRouteTable(nil)
	require.NoError(t, err)

	err = table.Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "routes.yaml"), nil, nil)
	assert.Error(t, err)
}

package rbac

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/campus/pkg/observability"
)

// RouteDeclaration is one entry of the route table file
type RouteDeclaration struct {
	Path  string   `yaml:"path"`
	Roles []string `yaml:"roles"`
}

type routeFile struct {
	Routes []RouteDeclaration `yaml:"routes"`
}

type routeEntry struct {
	prefix   string
	required []Role
}

// RouteTable maps path prefixes to acceptable roles. The longest matching
// prefix wins. It is safe for concurrent use and can be swapped while serving.
type RouteTable struct {
	mu      sync.RWMutex
	entries []routeEntry
}

// NewRouteTable builds a table from declarations
func NewRouteTable(decls []RouteDeclaration) (*RouteTable, error) {
	entries, err := compileRoutes(decls)
	if err != nil {
		return nil, err
	}
	return &RouteTable{entries: entries}, nil
}

// ParseRouteTable parses a YAML route table
func ParseRouteTable(data []byte) (*RouteTable, error) {
	decls, err := parseRouteFile(data)
	if err != nil {
		return nil, err
	}
	return NewRouteTable(decls)
}

// LoadRouteTable reads a YAML route table from path
func LoadRouteTable(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}
	return ParseRouteTable(data)
}

func parseRouteFile(data []byte) ([]RouteDeclaration, error) {
	var file routeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}
	return file.Routes, nil
}

func compileRoutes(decls []RouteDeclaration) ([]routeEntry, error) {
	entries := make([]routeEntry, 0, len(decls))
	seen := make(map[string]bool, len(decls))

	for _, decl := range decls {
		prefix := normalizePrefix(decl.Path)
		if prefix == "" {
			return nil, fmt.Errorf("route declaration has an empty path")
		}
		if seen[prefix] {
			return nil, fmt.Errorf("route %s declared twice", prefix)
		}
		seen[prefix] = true

		var required []Role
		for _, token := range decl.Roles {
			role, err := ParseRole(token)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", prefix, err)
			}
			required = append(required, role)
		}
		entries = append(entries, routeEntry{prefix: prefix, required: NewRoleSet(required...).Slice()})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].prefix) > len(entries[j].prefix)
	})
	return entries, nil
}

func normalizePrefix(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func matchesPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Match returns the route for path, or false when path is not protected
func (t *RouteTable) Match(path string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if matchesPrefix(path, e.prefix) {
			required := make([]Role, len(e.required))
			copy(required, e.required)
			return Route{Path: path, Pattern: e.prefix, Required: required}, true
		}
	}
	return Route{}, false
}

// Routes returns the declared routes, longest prefix first
func (t *RouteTable) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	routes := make([]Route, 0, len(t.entries))
	for _, e := range t.entries {
		routes = append(routes, Route{Path: e.prefix, Pattern: e.prefix, Required: e.required})
	}
	return routes
}

// Replace swaps in the routes of other
func (t *RouteTable) Replace(other *RouteTable) {
	other.mu.RLock()
	entries := other.entries
	other.mu.RUnlock()

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}

// Watch reloads the table from path whenever the file is written or
// replaced, until ctx is done. A file that fails to parse leaves the current
// routes in place.
func (t *RouteTable) Watch(ctx context.Context, path string, logger *observability.Logger, metrics *observability.Metrics) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory: editors and config mounts replace the file rather
	// than write it in place.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(logger, "route table watcher")

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				t.reload(path, logger, metrics)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Route table watcher error")

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (t *RouteTable) reload(path string, logger *observability.Logger, metrics *observability.Metrics) {
	next, err := LoadRouteTable(path)
	if err != nil {
		metrics.RecordRouteTableReload("error")
		logger.WithError(err).WithField("path", path).Warn("Keeping previous route table")
		return
	}
	t.Replace(next)
	metrics.RecordRouteTableReload("success")
	logger.WithField("path", path).WithField("routes", len(next.entries)).Info("Route table reloaded")
}

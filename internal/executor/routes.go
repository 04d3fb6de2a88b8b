package executor

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	jobsdomain "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
)

// Routes maps job kinds to executor entry points.
//
//	start:
//	  generate: /workflows/generate-videos
//	  merge: /workflows/merge-videos
//	status: /executions/{handle}
//	workflows:
//	  generate: generate_videos
//	  merge: merge_videos
type Routes struct {
	Start     map[string]string `yaml:"start"`
	Status    string            `yaml:"status"`
	Workflows map[string]string `yaml:"workflows"`
}

func DefaultRoutes() Routes {
	return Routes{
		Start: map[string]string{
			string(jobsdomain.KindGenerate): "/workflows/generate-videos",
			string(jobsdomain.KindMerge):    "/workflows/merge-videos",
		},
		Status: "/executions/{handle}",
		Workflows: map[string]string{
			string(jobsdomain.KindGenerate): "generate_videos",
			string(jobsdomain.KindMerge):    "merge_videos",
		},
	}
}

// LoadRoutes reads a YAML route file over the defaults. An empty path yields
// the defaults.
func LoadRoutes(path string) (Routes, error) {
	routes := DefaultRoutes()
	path = strings.TrimSpace(path)
	if path == "" {
		return routes, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Routes{}, fmt.Errorf("read executor routes: %w", err)
	}
	var file Routes
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Routes{}, fmt.Errorf("parse executor routes %s: %w", path, err)
	}
	for k, v := range file.Start {
		if v = strings.TrimSpace(v); v != "" {
			routes.Start[k] = v
		}
	}
	for k, v := range file.Workflows {
		if v = strings.TrimSpace(v); v != "" {
			routes.Workflows[k] = v
		}
	}
	if s := strings.TrimSpace(file.Status); s != "" {
		routes.Status = s
	}
	if !strings.Contains(routes.Status, "{handle}") {
		return Routes{}, fmt.Errorf("executor routes: status route %q has no {handle} placeholder", routes.Status)
	}
	return routes, nil
}

func (r Routes) StartPath(kind jobsdomain.Kind) (string, bool) {
	p, ok := r.Start[string(kind)]
	return p, ok && p != ""
}

func (r Routes) Workflow(kind jobsdomain.Kind) (string, bool) {
	w, ok := r.Workflows[string(kind)]
	return w, ok && w != ""
}

func (r Routes) StatusPath(handle string) string {
	return strings.ReplaceAll(r.Status, "{handle}", handle)
}

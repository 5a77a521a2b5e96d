// Package examtypes holds the per-certification time configuration:
// which sections an exam has, their fixed order, and their time budgets.
// The built-in set covers the tracks the platform sells today;
// deployments can override or extend it with YAML files.
package examtypes

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

// Registry manages loading and lookup of exam type configurations
type Registry struct {
	mu    sync.RWMutex
	types map[string]*models.ExamTypeConfig
}

// NewRegistry creates a registry pre-populated with the built-in exam types
func NewRegistry() *Registry {
	r := &Registry{
		types: make(map[string]*models.ExamTypeConfig),
	}
	for _, cfg := range builtinExamTypes() {
		r.types[cfg.Name] = cfg
	}
	return r
}

// LoadFromDir loads YAML exam type files from a directory, overriding
// built-ins with the same name. A missing directory is not an error;
// most deployments run on the built-in set alone.
func (r *Registry) LoadFromDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Info("no exam type overrides directory, using built-ins", "dir", dir)
		return nil
	}

	patterns := []string{"*.yaml", "*.yml"}
	var files []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}

	loaded := 0
	for _, file := range files {
		if err := r.LoadFromFile(file); err != nil {
			slog.Warn("failed to load exam type", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("exam types loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single exam type from a YAML file
func (r *Registry) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var cfg models.ExamTypeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return err
	}

	// Total time defaults to the sum of section budgets
	if cfg.TotalTimeMinutes == 0 {
		for _, s := range cfg.Sections {
			cfg.TotalTimeMinutes += s.TimeMinutes
		}
	}

	r.mu.Lock()
	r.types[cfg.Name] = &cfg
	r.mu.Unlock()

	slog.Info("exam type loaded", "name", cfg.Name, "sections", len(cfg.Sections))
	return nil
}

func validate(cfg *models.ExamTypeConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("exam type name is required")
	}
	if len(cfg.Sections) == 0 {
		return fmt.Errorf("exam type %s has no sections", cfg.Name)
	}

	seenOrder := make(map[int]bool)
	seenType := make(map[string]bool)
	for _, s := range cfg.Sections {
		if s.Type == "" {
			return fmt.Errorf("exam type %s has a section without a type", cfg.Name)
		}
		if s.TimeMinutes <= 0 {
			return fmt.Errorf("section %s of %s has no time budget", s.Type, cfg.Name)
		}
		if seenType[s.Type] {
			return fmt.Errorf("duplicate section type %s in %s", s.Type, cfg.Name)
		}
		if seenOrder[s.Order] {
			return fmt.Errorf("duplicate section order %d in %s", s.Order, cfg.Name)
		}
		seenType[s.Type] = true
		seenOrder[s.Order] = true
	}

	// Orders must be exactly 1..N; the progression engine walks them
	for i := 1; i <= len(cfg.Sections); i++ {
		if !seenOrder[i] {
			return fmt.Errorf("exam type %s is missing section order %d", cfg.Name, i)
		}
	}

	return nil
}

// Get retrieves an exam type config by name
func (r *Registry) Get(name string) (*models.ExamTypeConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.types[name]
	return cfg, ok
}

// List returns all registered exam types, sorted by name
func (r *Registry) List() []*models.ExamTypeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.ExamTypeConfig, 0, len(r.types))
	for _, cfg := range r.types {
		result = append(result, cfg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Valid returns the sorted names of all registered exam types
func (r *Registry) Valid() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinExamTypes returns the certification tracks shipped with the
// engine. Section orders follow the official exam day sequence.
func builtinExamTypes() []*models.ExamTypeConfig {
	return []*models.ExamTypeConfig{
		{
			Name:             "ielts_academic",
			TotalTimeMinutes: 165,
			HalfBandRounding: true,
			Sections: []models.SectionConfig{
				{Type: "listening", Order: 1, TimeMinutes: 40},
				{Type: "reading", Order: 2, TimeMinutes: 60},
				{Type: "writing", Order: 3, TimeMinutes: 60},
				{Type: "speaking", Order: 4, TimeMinutes: 15},
			},
		},
		{
			Name:             "ielts_general",
			TotalTimeMinutes: 165,
			HalfBandRounding: true,
			Sections: []models.SectionConfig{
				{Type: "listening", Order: 1, TimeMinutes: 40},
				{Type: "reading", Order: 2, TimeMinutes: 60},
				{Type: "writing", Order: 3, TimeMinutes: 60},
				{Type: "speaking", Order: 4, TimeMinutes: 15},
			},
		},
		{
			Name:             "cambridge_b2_first",
			TotalTimeMinutes: 209,
			Sections: []models.SectionConfig{
				{Type: "reading", Order: 1, TimeMinutes: 75},
				{Type: "writing", Order: 2, TimeMinutes: 80},
				{Type: "listening", Order: 3, TimeMinutes: 40},
				{Type: "speaking", Order: 4, TimeMinutes: 14},
			},
		},
		{
			Name:             "cambridge_c1_advanced",
			TotalTimeMinutes: 235,
			Sections: []models.SectionConfig{
				{Type: "reading", Order: 1, TimeMinutes: 90},
				{Type: "writing", Order: 2, TimeMinutes: 90},
				{Type: "listening", Order: 3, TimeMinutes: 40},
				{Type: "speaking", Order: 4, TimeMinutes: 15},
			},
		},
		{
			Name:             "toefl_ibt",
			TotalTimeMinutes: 180,
			Sections: []models.SectionConfig{
				{Type: "reading", Order: 1, TimeMinutes: 54},
				{Type: "listening", Order: 2, TimeMinutes: 41},
				{Type: "speaking", Order: 3, TimeMinutes: 17},
				{Type: "writing", Order: 4, TimeMinutes: 50},
			},
		},
		{
			Name:             "pte_academic",
			TotalTimeMinutes: 180,
			Sections: []models.SectionConfig{
				{Type: "speaking", Order: 1, TimeMinutes: 54},
				{Type: "writing", Order: 2, TimeMinutes: 29},
				{Type: "reading", Order: 3, TimeMinutes: 29},
				{Type: "listening", Order: 4, TimeMinutes: 30},
			},
		},
		{
			Name:             "oet_medicine",
			TotalTimeMinutes: 165,
			Sections: []models.SectionConfig{
				{Type: "listening", Order: 1, TimeMinutes: 45},
				{Type: "reading", Order: 2, TimeMinutes: 60},
				{Type: "writing", Order: 3, TimeMinutes: 45},
				{Type: "speaking", Order: 4, TimeMinutes: 20},
			},
		},
	}
}

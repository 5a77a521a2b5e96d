package examtypes

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinExamTypes(t *testing.T) {
	r := NewRegistry()

	names := r.Valid()
	if len(names) != 7 {
		t.Fatalf("expected 7 built-in exam types, got %d: %v", len(names), names)
	}

	cfg, ok := r.Get("ielts_academic")
	if !ok {
		t.Fatal("ielts_academic not registered")
	}
	if len(cfg.Sections) != 4 {
		t.Errorf("expected 4 sections, got %d", len(cfg.Sections))
	}
	if cfg.SectionCost() != 0.25 {
		t.Errorf("expected section cost 0.25, got %f", cfg.SectionCost())
	}
	if !cfg.HalfBandRounding {
		t.Error("expected half band rounding for ielts_academic")
	}

	// Section order follows exam day sequence
	first := cfg.SectionAtOrder(1)
	if first == nil || first.Type != "listening" {
		t.Errorf("expected listening first for ielts_academic, got %+v", first)
	}

	toefl, _ := r.Get("toefl_ibt")
	if toefl.HalfBandRounding {
		t.Error("toefl_ibt must not use half band rounding")
	}
	if toefl.Sections[0].Type != "reading" {
		t.Errorf("expected reading first for toefl_ibt, got %s", toefl.Sections[0].Type)
	}
}

func TestGetUnknownExamType(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("duolingo"); ok {
		t.Error("expected unknown exam type to be absent")
	}
}

func TestLoadFromDirOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()

	yaml := `name: ielts_academic
total_time_minutes: 120
half_band_rounding: true
sections:
  - type: listening
    order: 1
    time_minutes: 30
  - type: reading
    order: 2
    time_minutes: 45
  - type: writing
    order: 3
    time_minutes: 45
`
	if err := os.WriteFile(filepath.Join(dir, "ielts_academic.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	r := NewRegistry()
	if err := r.LoadFromDir(dir); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	cfg, ok := r.Get("ielts_academic")
	if !ok {
		t.Fatal("ielts_academic missing after override")
	}
	if len(cfg.Sections) != 3 {
		t.Errorf("expected 3 sections after override, got %d", len(cfg.Sections))
	}
	if cfg.TotalTimeMinutes != 120 {
		t.Errorf("expected total time 120, got %d", cfg.TotalTimeMinutes)
	}
}

func TestLoadFromMissingDirUsesBuiltins(t *testing.T) {
	r := NewRegistry()

	if err := r.LoadFromDir("/nonexistent/exam-types"); err != nil {
		t.Fatalf("missing dir must not be an error, got %v", err)
	}
	if len(r.Valid()) != 7 {
		t.Errorf("expected built-ins to survive, got %d types", len(r.Valid()))
	}
}

func TestLoadFromFileRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "missing name",
			yaml: "sections:\n  - type: reading\n    order: 1\n    time_minutes: 60\n",
		},
		{
			name: "no sections",
			yaml: "name: broken\n",
		},
		{
			name: "duplicate order",
			yaml: "name: broken\nsections:\n  - type: reading\n    order: 1\n    time_minutes: 60\n  - type: writing\n    order: 1\n    time_minutes: 60\n",
		},
		{
			name: "gap in orders",
			yaml: "name: broken\nsections:\n  - type: reading\n    order: 1\n    time_minutes: 60\n  - type: writing\n    order: 3\n    time_minutes: 60\n",
		},
		{
			name: "zero time budget",
			yaml: "name: broken\nsections:\n  - type: reading\n    order: 1\n    time_minutes: 0\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "exam.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0644); err != nil {
				t.Fatalf("failed to write test file: %v", err)
			}

			r := NewRegistry()
			if err := r.LoadFromFile(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestTotalTimeDefaultsToSectionSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exam.yaml")
	yaml := `name: custom_exam
sections:
  - type: reading
    order: 1
    time_minutes: 45
  - type: writing
    order: 2
    time_minutes: 30
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	r := NewRegistry()
	if err := r.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg, _ := r.Get("custom_exam")
	if cfg.TotalTimeMinutes != 75 {
		t.Errorf("expected total time 75, got %d", cfg.TotalTimeMinutes)
	}
	if cfg.SectionCost() != 0.5 {
		t.Errorf("expected section cost 0.5, got %f", cfg.SectionCost())
	}
}

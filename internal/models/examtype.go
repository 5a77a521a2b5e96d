package models

// SectionConfig defines one timed section within an exam type
type SectionConfig struct {
	Type        string `yaml:"type" json:"type"`
	Order       int    `yaml:"order" json:"order"`
	TimeMinutes int    `yaml:"time_minutes" json:"time_minutes"`
}

// ExamTypeConfig is the time configuration for one certification track.
// Built-in configs cover the common English-proficiency exams; deployments
// can override or extend them with YAML files.
type ExamTypeConfig struct {
	Name             string          `yaml:"name" json:"name"`
	TotalTimeMinutes int             `yaml:"total_time_minutes" json:"total_time_minutes"`
	Sections         []SectionConfig `yaml:"sections" json:"sections"`

	// HalfBandRounding selects the discrete half-point band scale
	// (IELTS-style): overall band is rounded to the nearest 0.5.
	HalfBandRounding bool `yaml:"half_band_rounding" json:"half_band_rounding"`
}

// SectionCost returns the fixed per-section fraction of a credit.
// A full mock always costs exactly 1.0, equal to the sum of its sections.
func (c *ExamTypeConfig) SectionCost() float64 {
	if len(c.Sections) == 0 {
		return 1.0
	}
	return 1.0 / float64(len(c.Sections))
}

// Section finds a section config by type; nil if absent
func (c *ExamTypeConfig) Section(sectionType string) *SectionConfig {
	for i := range c.Sections {
		if c.Sections[i].Type == sectionType {
			return &c.Sections[i]
		}
	}
	return nil
}

// SectionAtOrder finds a section config by its 1-based order; nil if absent
func (c *ExamTypeConfig) SectionAtOrder(order int) *SectionConfig {
	for i := range c.Sections {
		if c.Sections[i].Order == order {
			return &c.Sections[i]
		}
	}
	return nil
}

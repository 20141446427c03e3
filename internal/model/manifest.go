package model

import (
	"slices"
	"strings"
)

// Manifest is the pre-computed statistical ground truth for a study
type Manifest struct {
	ID      string          `json:"id" yaml:"id"`
	StudyID string          `json:"study_id" yaml:"study_id"`
	Version string          `json:"version,omitempty" yaml:"version,omitempty"`
	Entries []ManifestEntry `json:"entries" yaml:"entries"`
}

// ManifestEntry is one computed result in the manifest. Read-only to the engine.
type ManifestEntry struct {
	OutcomeName             string            `json:"outcome_name" yaml:"outcome_name"`
	PValue                  Optional[float64] `json:"p_value" yaml:"p_value"`
	EffectSize              Optional[float64] `json:"effect_size" yaml:"effect_size"`
	AnalysisMethod          string            `json:"analysis_method,omitempty" yaml:"analysis_method,omitempty"`
	SourceSchemaVariableIDs []string          `json:"source_schema_variable_ids" yaml:"source_schema_variable_ids"`

	// TransformationPath lists derivation steps from raw variable to statistic
	TransformationPath []string `json:"transformation_path,omitempty" yaml:"transformation_path,omitempty"`
}

// Lookup finds the entry whose outcome name matches case-insensitively
func (m *Manifest) Lookup(outcome string) (ManifestEntry, bool) {
	return LookupOutcome(m.Entries, outcome)
}

// Outcomes returns the outcome vocabulary of the manifest
func (m *Manifest) Outcomes() []string {
	out := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e.OutcomeName)
	}
	return out
}

// LookupOutcome finds the entry whose outcome name matches case-insensitively
func LookupOutcome(entries []ManifestEntry, outcome string) (ManifestEntry, bool) {
	needle := strings.TrimSpace(outcome)
	for _, e := range entries {
		if strings.EqualFold(strings.TrimSpace(e.OutcomeName), needle) {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Variable is a protocol-defined schema variable from the registry
type Variable struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	ProtocolID        string `json:"protocol_id" yaml:"protocol_id"`
	ProtocolVersionID string `json:"protocol_version_id" yaml:"protocol_version_id"`
}

// Manuscript is the document under verification
type Manuscript struct {
	ID        string            `json:"id" yaml:"id"`
	Title     string            `json:"title" yaml:"title"`
	StudyID   string            `json:"study_id" yaml:"study_id"`
	Sections  map[string]string `json:"sections" yaml:"sections"`
	Order     []string          `json:"section_order,omitempty" yaml:"section_order,omitempty"`
	Citations []Citation        `json:"citations,omitempty" yaml:"citations,omitempty"`
}

// SectionNames returns section names in document order. Sections missing
// from Order follow in lexical order so iteration is stable.
func (m *Manuscript) SectionNames() []string {
	seen := make(map[string]bool, len(m.Sections))
	names := make([]string, 0, len(m.Sections))
	for _, name := range m.Order {
		if _, ok := m.Sections[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range m.Sections {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

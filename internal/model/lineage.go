package model

// LineageEntry is one provenance edge from a packet back to a schema variable
type LineageEntry struct {
	PacketID           string   `json:"packet_id"`
	ClaimText          string   `json:"claim_text,omitempty"`
	OutcomeName        string   `json:"outcome_name"`
	SchemaVariableID   string   `json:"schema_variable_id"`
	VariableName       string   `json:"variable_name,omitempty"`
	ProtocolID         string   `json:"protocol_id"`
	ProtocolVersionID  string   `json:"protocol_version_id"`
	AnalysisMethod     string   `json:"analysis_method,omitempty"`
	TransformationPath []string `json:"transformation_path"`
}

// LineageStats summarizes a lineage table
type LineageStats struct {
	Entries           int `json:"entries"`
	Packets           int `json:"packets"`
	DistinctVariables int `json:"distinct_variables"`
	Protocols         int `json:"protocols"`
}

// ComputeLineageStats counts packets, variables and protocols in entries
func ComputeLineageStats(entries []LineageEntry) LineageStats {
	packets := make(map[string]struct{})
	variables := make(map[string]struct{})
	protocols := make(map[string]struct{})
	for _, e := range entries {
		packets[e.PacketID] = struct{}{}
		variables[e.SchemaVariableID] = struct{}{}
		protocols[e.ProtocolID+"@"+e.ProtocolVersionID] = struct{}{}
	}
	return LineageStats{
		Entries:           len(entries),
		Packets:           len(packets),
		DistinctVariables: len(variables),
		Protocols:         len(protocols),
	}
}

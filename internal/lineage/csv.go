package lineage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/claimgate/internal/model"
)

// PathSeparator joins transformation steps in the CSV table
const PathSeparator = " > "

var csvHeader = []string{
	"packet_id",
	"claim_text",
	"outcome_name",
	"schema_variable_id",
	"variable_name",
	"protocol_id",
	"protocol_version_id",
	"analysis_method",
	"transformation_path",
}

// WriteCSV writes the lineage table with a header row
func WriteCSV(w io.Writer, entries []model.LineageEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write lineage header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.PacketID,
			e.ClaimText,
			e.OutcomeName,
			e.SchemaVariableID,
			e.VariableName,
			e.ProtocolID,
			e.ProtocolVersionID,
			e.AnalysisMethod,
			strings.Join(e.TransformationPath, PathSeparator),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write lineage row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

package filestore

// manifestSchema constrains manifest files before they are decoded
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "study_id", "entries"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "study_id": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["outcome_name", "source_schema_variable_ids"],
        "properties": {
          "outcome_name": {"type": "string", "minLength": 1},
          "p_value": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
          "effect_size": {"type": ["number", "null"]},
          "analysis_method": {"type": "string"},
          "source_schema_variable_ids": {
            "type": "array",
            "items": {"type": "string", "minLength": 1}
          },
          "transformation_path": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

const manifestSchemaURL = "https://claimgate.schemas.local/manifest.schema.json"

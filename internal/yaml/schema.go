package yaml

import (
	"fmt"

	yamlv3 "gopkg.in/yaml.v3"
)

// Every file this package writes opens with a schema header naming its
// version and type. CurrentSchemaVersion is bumped on incompatible
// format changes.
const CurrentSchemaVersion = 1

var knownFileTypes = map[string]bool{
	"run_report": true,
}

type header struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// ValidateHeader checks that content carries a supported schema header.
// A non-empty wantType additionally pins the file_type.
func ValidateHeader(content []byte, wantType string) error {
	var h header
	if err := yamlv3.Unmarshal(content, &h); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	switch {
	case h.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", h.SchemaVersion)
	case h.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", h.SchemaVersion, CurrentSchemaVersion)
	case h.FileType == "":
		return fmt.Errorf("missing file_type")
	case !knownFileTypes[h.FileType]:
		return fmt.Errorf("unknown file_type: %q", h.FileType)
	case wantType != "" && h.FileType != wantType:
		return fmt.Errorf("file_type mismatch: got %q, expected %q", h.FileType, wantType)
	}
	return nil
}

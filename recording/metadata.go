package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MetadataSchemaVersion tracks the schema version for recording metadata
// documents, grounded on header.go's HeaderSchemaVersion.
const MetadataSchemaVersion = 1

// SerializerDescriptor names the body serializer a recording was written
// with, so a reader can pick a compatible Serializer[T] without guessing.
type SerializerDescriptor struct {
	Name  string `json:"name"`
	Major uint8  `json:"major"`
	Minor uint8  `json:"minor"`
}

// Metadata is the sidecar document persisted alongside a recording file,
// per §4.7's "companion metadata describing the channel, serializer, and
// creation time".
type Metadata struct {
	SchemaVersion int                    `json:"schema_version"`
	CreatedUtc    time.Time              `json:"created_utc"`
	Channel       string                 `json:"channel"`
	Serializer    SerializerDescriptor   `json:"serializer"`
	Custom        map[string]string      `json:"custom,omitempty"`
}

// Validate ensures a metadata document carries enough information to locate
// and deserialize the recording it describes.
func (m Metadata) Validate() error {
	if m.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(m.Channel) == "" {
		return fmt.Errorf("channel must not be empty")
	}
	if strings.TrimSpace(m.Serializer.Name) == "" {
		return fmt.Errorf("serializer name must not be empty")
	}
	return nil
}

// WriteMetadata persists metadata as indented JSON to path, validating
// first so a malformed document is never written to disk.
func WriteMetadata(path string, metadata Metadata) error {
	if err := metadata.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadMetadata loads and validates a recording's sidecar metadata document.
func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return Metadata{}, err
	}
	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

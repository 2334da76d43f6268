package basecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"subforge/internal/fileutil"
)

const (
	metadataVersion  = 1
	metadataFileName = "entry.json"
)

// Artifact describes one cached file with its integrity checksum.
type Artifact struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// EntryMetadata is the sidecar record stored with every cache entry.
type EntryMetadata struct {
	Version           int               `json:"version"`
	MediaID           string            `json:"media_id"`
	ConfigFingerprint string            `json:"config_fingerprint"`
	CreatedAt         time.Time         `json:"created_at"`
	StageVersions     map[string]string `json:"stage_versions,omitempty"`
	Artifacts         []Artifact        `json:"artifacts"`
}

// Entry is a verified, retrievable cache entry.
type Entry struct {
	Dir  string
	Meta EntryMetadata
}

// SizeBytes sums the recorded artifact sizes.
func (e Entry) SizeBytes() int64 {
	var total int64
	for _, artifact := range e.Meta.Artifacts {
		total += artifact.Size
	}
	return total
}

func metadataPath(entryDir string) string {
	return filepath.Join(entryDir, metadataFileName)
}

func writeMetadata(entryDir string, meta EntryMetadata) error {
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	return fileutil.WriteFileAtomic(metadataPath(entryDir), payload, 0o644)
}

func readMetadata(entryDir string) (EntryMetadata, error) {
	payload, err := os.ReadFile(metadataPath(entryDir))
	if err != nil {
		return EntryMetadata{}, err
	}
	var meta EntryMetadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return EntryMetadata{}, fmt.Errorf("decode cache metadata: %w", err)
	}
	if meta.Version != metadataVersion {
		return EntryMetadata{}, fmt.Errorf("unsupported cache metadata version %d", meta.Version)
	}
	if len(meta.Artifacts) == 0 {
		return EntryMetadata{}, errors.New("cache metadata lists no artifacts")
	}
	return meta, nil
}

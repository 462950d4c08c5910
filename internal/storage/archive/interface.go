// Package archive stores portfolio snapshots on cold storage backends.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/newthinker/signalflow/internal/core"
)

// Storage defines the interface for cold/archive storage backends
type Storage interface {
	// Write stores data at the given path
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths matching the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

// Open builds the backend described by cfg. An empty type disables archiving.
func Open(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "localfs":
		if cfg.Path == "" {
			return nil, fmt.Errorf("archive: localfs path is required")
		}
		fs, err := NewLocalFS(cfg.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("archive: s3 bucket is required")
		}
		s3, err := NewS3(cfg.S3)
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("archive: unknown type %q", cfg.Type)
	}
}

// SnapshotPrefix is the directory holding portfolio snapshots.
const SnapshotPrefix = "snapshots"

// SnapshotKey returns the path of the snapshot written after a cycle,
// e.g. snapshots/2024-03-05/cycle-000042.json.
func SnapshotKey(at time.Time, cycle int) string {
	return fmt.Sprintf("%s/%s/cycle-%06d.json", SnapshotPrefix, at.UTC().Format("2006-01-02"), cycle)
}

// DayPrefix returns the prefix listing every snapshot of a day.
func DayPrefix(day time.Time) string {
	return fmt.Sprintf("%s/%s", SnapshotPrefix, day.UTC().Format("2006-01-02"))
}

// Latest returns the key of the newest snapshot in store. Keys sort by day
// and then by zero-padded cycle number.
func Latest(ctx context.Context, store Storage) (string, error) {
	keys, err := store.List(ctx, SnapshotPrefix+"/")
	if err != nil {
		return "", core.WrapError(core.ErrArchiveFailed, err)
	}
	var latest string
	for _, k := range keys {
		if strings.HasSuffix(k, ".json") && k > latest {
			latest = k
		}
	}
	if latest == "" {
		return "", core.Errorf(core.ErrNotFound, "no snapshots archived")
	}
	return latest, nil
}

func contentType(key string) string {
	if path.Ext(key) == ".json" {
		return "application/json"
	}
	return "application/octet-stream"
}

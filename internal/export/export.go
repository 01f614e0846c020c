// Package export writes synthesized schema scripts to object storage.
//
// An export under prefix P consists of one P/<table>.sql object per schema
// and a P/manifest.json describing them. The manifest is written last, so an
// export without a manifest is incomplete.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arkilian/tablefit/internal/ddl"
	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/internal/storage"
	"github.com/arkilian/tablefit/pkg/types"
)

// ManifestName is the object name of the export manifest under the prefix.
const ManifestName = "manifest.json"

// Manifest describes one export.
type Manifest struct {
	ExportID  string          `json:"export_id"`
	CreatedAt time.Time       `json:"created_at"`
	Tables    []ManifestEntry `json:"tables"`
}

// ManifestEntry describes one exported table script.
type ManifestEntry struct {
	Table       string `json:"table"`
	Object      string `json:"object"`
	Fingerprint string `json:"fingerprint"`
	ETag        string `json:"etag,omitempty"`
	Statements  int    `json:"statements"`
}

// Dump writes every schema's creation script and the manifest. Schemas are
// written in the given order.
func Dump(ctx context.Context, store storage.ObjectStorage, prefix string, schemas []*types.TableSchema) (*Manifest, error) {
	manifest := &Manifest{
		ExportID:  uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Tables:    make([]ManifestEntry, 0, len(schemas)),
	}

	seen := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		key := strings.ToLower(s.Name)
		if seen[key] {
			return nil, tferrors.NewModelError(tferrors.CodeNameCollision,
				fmt.Sprintf("table %s exported twice", s.Name))
		}
		seen[key] = true

		script := ddl.Synthesize(s)
		object := path.Join(prefix, s.Name+".sql")
		etag, err := store.Put(ctx, object, []byte(script.String()))
		if err != nil {
			return nil, err
		}

		manifest.Tables = append(manifest.Tables, ManifestEntry{
			Table:       s.Name,
			Object:      object,
			Fingerprint: fmt.Sprintf("%016x", ddl.Fingerprint(s)),
			ETag:        etag,
			Statements:  len(script),
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, tferrors.NewInternalError("failed to marshal export manifest", err)
	}
	if _, err := store.Put(ctx, path.Join(prefix, ManifestName), data); err != nil {
		return nil, err
	}

	log.Printf("export: wrote %d table script(s) under %q (export %s)", len(manifest.Tables), prefix, manifest.ExportID)
	return manifest, nil
}

// ReadManifest loads the manifest of an export.
func ReadManifest(ctx context.Context, store storage.ObjectStorage, prefix string) (*Manifest, error) {
	data, err := store.Get(ctx, path.Join(prefix, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, tferrors.NewStorageError(tferrors.CodeDownloadFailed, "corrupt export manifest under "+prefix, err)
	}
	return &m, nil
}

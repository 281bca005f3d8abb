// Package store persists snapshots of extracted functions, call edges and
// type relationships, and serves them to the analyzers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer/typesafety"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// ErrSnapshotNotFound is returned when a snapshot ID is unknown or the
// store holds no snapshots.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotReader reads the call graph of one snapshot.
type SnapshotReader interface {
	GetFunctions(ctx context.Context, snapshotID string) ([]models.FunctionInfo, error)
	GetCallEdges(ctx context.Context, snapshotID string) ([]models.CallEdge, error)
	LatestSnapshot(ctx context.Context) (models.Snapshot, error)
}

// Store is a snapshot store.
type Store interface {
	SnapshotReader

	// SaveSnapshot stores a complete snapshot, assigning an ID and creation
	// time when they are unset.
	SaveSnapshot(ctx context.Context, data *SnapshotData) error
	ListSnapshots(ctx context.Context) ([]models.Snapshot, error)
	GetSnapshot(ctx context.Context, snapshotID string) (models.Snapshot, error)
	// TypeStore answers type-relationship queries within one snapshot.
	TypeStore(snapshotID string) typesafety.Storage
	Close() error
}

// SnapshotData is the interchange form of a snapshot.
type SnapshotData struct {
	Snapshot        models.Snapshot         `json:"snapshot"`
	Functions       []models.FunctionInfo   `json:"functions"`
	CallEdges       []models.CallEdge       `json:"call_edges"`
	TypeDefinitions []models.TypeDefinition `json:"type_definitions,omitempty"`
	TypeMembers     []models.TypeMember     `json:"type_members,omitempty"`
	MethodOverrides []models.MethodOverride `json:"method_overrides,omitempty"`
}

// LoadSnapshotFile reads a JSON snapshot export.
func LoadSnapshotFile(path string) (*SnapshotData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	var data SnapshotData
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot file %s: %w", path, err)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot file %s: %w", path, err)
	}
	return &data, nil
}

// Validate checks that function IDs are present and unique, call types and
// override kinds are known, and every type member belongs to a defined type.
// Edges may still name callees outside the snapshot; the graph builders drop
// those.
func (d *SnapshotData) Validate() error {
	seen := make(map[string]struct{}, len(d.Functions))
	for i, fn := range d.Functions {
		if fn.ID == "" {
			return fmt.Errorf("function %d (%s) has no id", i, fn.Name)
		}
		if _, dup := seen[fn.ID]; dup {
			return fmt.Errorf("function %d has duplicate id %q", i, fn.ID)
		}
		seen[fn.ID] = struct{}{}
	}
	for i, e := range d.CallEdges {
		if e.CallerFunctionID == "" {
			return fmt.Errorf("call edge %d has no caller", i)
		}
		if !e.CallType.Valid() {
			return fmt.Errorf("call edge %d has unknown call type %q", i, e.CallType)
		}
	}
	types := make(map[string]struct{}, len(d.TypeDefinitions))
	for _, td := range d.TypeDefinitions {
		types[td.ID] = struct{}{}
	}
	for _, m := range d.TypeMembers {
		if _, ok := types[m.TypeID]; !ok {
			return fmt.Errorf("type member %s references unknown type %q", m.ID, m.TypeID)
		}
	}
	for _, o := range d.MethodOverrides {
		if !o.OverrideKind.Valid() {
			return fmt.Errorf("method override %s has unknown kind %q", o.ID, o.OverrideKind)
		}
	}
	return nil
}

// prepare fills the snapshot ID and creation time and stamps type
// definitions with the snapshot ID.
func (d *SnapshotData) prepare() {
	if d.Snapshot.ID == "" {
		d.Snapshot.ID = uuid.NewString()
	}
	if d.Snapshot.CreatedAt.IsZero() {
		d.Snapshot.CreatedAt = time.Now().UTC()
	}
	for i := range d.TypeDefinitions {
		d.TypeDefinitions[i].SnapshotID = d.Snapshot.ID
	}
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer/typesafety"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]*SnapshotData
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]*SnapshotData)}
}

func (m *Memory) SaveSnapshot(_ context.Context, data *SnapshotData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	data.prepare()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.snapshots[data.Snapshot.ID]; exists {
		return fmt.Errorf("snapshot %s already exists", data.Snapshot.ID)
	}
	m.snapshots[data.Snapshot.ID] = data
	return nil
}

func (m *Memory) get(snapshotID string) (*SnapshotData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.snapshots[snapshotID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	return d, nil
}

func (m *Memory) GetSnapshot(_ context.Context, snapshotID string) (models.Snapshot, error) {
	d, err := m.get(snapshotID)
	if err != nil {
		return models.Snapshot{}, err
	}
	return d.Snapshot, nil
}

func (m *Memory) GetFunctions(_ context.Context, snapshotID string) ([]models.FunctionInfo, error) {
	d, err := m.get(snapshotID)
	if err != nil {
		return nil, err
	}
	return append([]models.FunctionInfo{}, d.Functions...), nil
}

func (m *Memory) GetCallEdges(_ context.Context, snapshotID string) ([]models.CallEdge, error) {
	d, err := m.get(snapshotID)
	if err != nil {
		return nil, err
	}
	return append([]models.CallEdge{}, d.CallEdges...), nil
}

func (m *Memory) ListSnapshots(_ context.Context) ([]models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]models.Snapshot, 0, len(m.snapshots))
	for _, d := range m.snapshots {
		list = append(list, d.Snapshot)
	}
	sortSnapshots(list)
	return list, nil
}

func (m *Memory) LatestSnapshot(ctx context.Context) (models.Snapshot, error) {
	list, _ := m.ListSnapshots(ctx)
	if len(list) == 0 {
		return models.Snapshot{}, ErrSnapshotNotFound
	}
	return list[0], nil
}

func (m *Memory) TypeStore(snapshotID string) typesafety.Storage {
	return &memoryTypes{m: m, snapshotID: snapshotID}
}

func (m *Memory) Close() error { return nil }

// sortSnapshots orders newest first.
func sortSnapshots(list []models.Snapshot) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

type memoryTypes struct {
	m          *Memory
	snapshotID string
}

func (t *memoryTypes) GetTypeMembers(_ context.Context, typeID string) ([]models.TypeMember, error) {
	d, err := t.m.get(t.snapshotID)
	if err != nil {
		return nil, err
	}
	var out []models.TypeMember
	for _, mem := range d.TypeMembers {
		if mem.TypeID == typeID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (t *memoryTypes) GetMethodOverridesByFunction(_ context.Context, functionID string) ([]models.MethodOverride, error) {
	d, err := t.m.get(t.snapshotID)
	if err != nil {
		return nil, err
	}
	members := make(map[string]bool)
	for _, mem := range d.TypeMembers {
		if mem.FunctionID == functionID {
			members[mem.ID] = true
		}
	}
	var out []models.MethodOverride
	for _, o := range d.MethodOverrides {
		if members[o.MethodMemberID] {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTypes) GetImplementingClasses(_ context.Context, interfaceID string) ([]models.TypeDefinition, error) {
	d, err := t.m.get(t.snapshotID)
	if err != nil {
		return nil, err
	}
	implementors := make(map[string]bool)
	for _, o := range d.MethodOverrides {
		if o.TargetTypeID == interfaceID && o.OverrideKind == models.OverrideKindImplement {
			implementors[o.SourceTypeID] = true
		}
	}
	var out []models.TypeDefinition
	for _, def := range d.TypeDefinitions {
		if implementors[def.ID] && def.Kind == models.TypeKindClass {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

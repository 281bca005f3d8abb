package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer/typesafety"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

func sampleSnapshot(id string, created time.Time) *SnapshotData {
	return &SnapshotData{
		Snapshot: models.Snapshot{ID: id, Label: "test", CreatedAt: created},
		Functions: []models.FunctionInfo{
			{ID: "main", Name: "main", FilePath: "src/main.ts", StartLine: 1, EndLine: 5},
			{ID: "save", Name: "save", FilePath: "src/repo.ts", StartLine: 10, EndLine: 20, IsMethod: true, ClassName: "SqlRepo", IsExported: true},
		},
		CallEdges: []models.CallEdge{
			{CallerFunctionID: "main", CalleeFunctionID: "save", CalleeName: "save", CallType: models.CallVirtual, Confidence: models.Confidence(0.6)},
			{CallerFunctionID: "main", CalleeName: "console.log", CallType: models.CallExternal},
		},
		TypeDefinitions: []models.TypeDefinition{
			{ID: "t-repo", Name: "Repo", Kind: models.TypeKindInterface},
			{ID: "t-sql", Name: "SqlRepo", Kind: models.TypeKindClass},
			{ID: "t-mem", Name: "MemRepo", Kind: models.TypeKindClass},
		},
		TypeMembers: []models.TypeMember{
			{ID: "m-iface", TypeID: "t-repo", Name: "save", MemberKind: models.MemberMethod, IsAbstract: true},
			{ID: "m-sql", TypeID: "t-sql", Name: "save", MemberKind: models.MemberMethod, FunctionID: "save"},
			{ID: "m-mem", TypeID: "t-mem", Name: "save", MemberKind: models.MemberMethod},
		},
		MethodOverrides: []models.MethodOverride{
			{ID: "o1", MethodMemberID: "m-sql", SourceTypeID: "t-sql", TargetMemberID: "m-iface", TargetTypeID: "t-repo",
				TargetTypeName: "Repo", OverrideKind: models.OverrideKindImplement, IsCompatible: true, ConfidenceScore: 1},
			{ID: "o2", MethodMemberID: "m-mem", SourceTypeID: "t-mem", TargetMemberID: "m-iface", TargetTypeID: "t-repo",
				TargetTypeName: "Repo", OverrideKind: models.OverrideKindImplement, IsCompatible: true, ConfidenceScore: 1},
		},
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "funcqc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": db,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
			require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot("old", base)))
			require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot("new", base.Add(time.Hour))))

			latest, err := s.LatestSnapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, "new", latest.ID)
			assert.True(t, latest.CreatedAt.Equal(base.Add(time.Hour)))

			list, err := s.ListSnapshots(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "old", list[1].ID)

			fns, err := s.GetFunctions(ctx, "old")
			require.NoError(t, err)
			require.Len(t, fns, 2)
			assert.Equal(t, "SqlRepo.save", fns[1].DisplayName())
			assert.True(t, fns[1].IsExported)

			edges, err := s.GetCallEdges(ctx, "old")
			require.NoError(t, err)
			require.Len(t, edges, 2)
			assert.Equal(t, models.CallVirtual, edges[0].CallType)
			require.NotNil(t, edges[0].Confidence)
			assert.InDelta(t, 0.6, *edges[0].Confidence, 1e-9)
			assert.False(t, edges[1].IsInternal())
			assert.Nil(t, edges[1].Confidence, "unset confidence stays unset")

			_, err = s.GetFunctions(ctx, "missing")
			assert.ErrorIs(t, err, ErrSnapshotNotFound)
		})
	}
}

func TestStore_TypeQueries(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot("snap", time.Now())))
			types := s.TypeStore("snap")

			overrides, err := types.GetMethodOverridesByFunction(ctx, "save")
			require.NoError(t, err)
			require.Len(t, overrides, 1)
			assert.Equal(t, models.OverrideKindImplement, overrides[0].OverrideKind)
			assert.True(t, overrides[0].IsCompatible)

			classes, err := types.GetImplementingClasses(ctx, "t-repo")
			require.NoError(t, err)
			require.Len(t, classes, 2)
			assert.Equal(t, "MemRepo", classes[0].Name)
			assert.Equal(t, "snap", classes[0].SnapshotID)

			members, err := types.GetTypeMembers(ctx, "t-repo")
			require.NoError(t, err)
			require.Len(t, members, 1)
			assert.True(t, members[0].IsAbstract)
		})
	}
}

func TestStore_FeedsTypeSafety(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			data := sampleSnapshot("snap", time.Now())
			require.NoError(t, s.SaveSnapshot(ctx, data))

			a := typesafety.New(s.TypeStore("snap"))
			r := a.AnalyzeDeletionSafety(ctx, data.Functions[1], "snap")
			assert.True(t, r.IsInterfaceImplementation)
			assert.InDelta(t, 0.85, r.ConfidenceScore, 1e-9)
			assert.Equal(t, []string{"MemRepo", "SqlRepo"}, r.ImplementingClasses)
		})
	}
}

func TestStore_AssignsSnapshotID(t *testing.T) {
	s := NewMemory()
	data := sampleSnapshot("", time.Time{})
	require.NoError(t, s.SaveSnapshot(context.Background(), data))
	assert.NotEmpty(t, data.Snapshot.ID)
	assert.False(t, data.Snapshot.CreatedAt.IsZero())

	_, err := NewMemory().LatestSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestLoadSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{
		"snapshot": {"id": "s1"},
		"functions": [{"id": "f1", "name": "main", "file_path": "main.ts", "start_line": 1, "end_line": 3}],
		"call_edges": [],
		"method_overrides": []
	}`), 0o644))
	data, err := LoadSnapshotFile(good)
	require.NoError(t, err)
	assert.Equal(t, "s1", data.Snapshot.ID)
	require.Len(t, data.Functions, 1)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{
		"functions": [],
		"method_overrides": [{"id": "o1", "override_kind": "extends"}]
	}`), 0o644))
	_, err = LoadSnapshotFile(bad)
	assert.ErrorContains(t, err, "unknown kind")
}

func TestValidate_RejectsMalformedSnapshots(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SnapshotData)
		want   string
	}{
		{
			name:   "unknown call type",
			mutate: func(d *SnapshotData) { d.CallEdges[0].CallType = "indirect" },
			want:   `call edge 0 has unknown call type "indirect"`,
		},
		{
			name:   "missing call type",
			mutate: func(d *SnapshotData) { d.CallEdges[1].CallType = "" },
			want:   "call edge 1 has unknown call type",
		},
		{
			name:   "duplicate function id",
			mutate: func(d *SnapshotData) { d.Functions[1].ID = "main" },
			want:   `duplicate id "main"`,
		},
		{
			name:   "member of undefined type",
			mutate: func(d *SnapshotData) { d.TypeMembers[2].TypeID = "t-gone" },
			want:   `type member m-mem references unknown type "t-gone"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := sampleSnapshot("snap", time.Now())
			require.NoError(t, data.Validate())
			tt.mutate(data)
			assert.ErrorContains(t, data.Validate(), tt.want)
			assert.Error(t, NewMemory().SaveSnapshot(context.Background(), data))
		})
	}
}

func TestLoadSnapshotFile_RejectsUnknownCallType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"functions": [{"id": "a", "name": "a"}, {"id": "b", "name": "b"}],
		"call_edges": [{"caller_function_id": "a", "callee_function_id": "b", "callee_name": "b", "call_type": "dynamic"}]
	}`), 0o644))
	_, err := LoadSnapshotFile(path)
	assert.ErrorContains(t, err, "unknown call type")
}

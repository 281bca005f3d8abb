package typesafety

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) GetTypeMembers(ctx context.Context, typeID string) ([]models.TypeMember, error) {
	args := m.Called(ctx, typeID)
	members, _ := args.Get(0).([]models.TypeMember)
	return members, args.Error(1)
}

func (m *mockStorage) GetMethodOverridesByFunction(ctx context.Context, functionID string) ([]models.MethodOverride, error) {
	args := m.Called(ctx, functionID)
	overrides, _ := args.Get(0).([]models.MethodOverride)
	return overrides, args.Error(1)
}

func (m *mockStorage) GetImplementingClasses(ctx context.Context, interfaceID string) ([]models.TypeDefinition, error) {
	args := m.Called(ctx, interfaceID)
	defs, _ := args.Get(0).([]models.TypeDefinition)
	return defs, args.Error(1)
}

var testFn = models.FunctionInfo{ID: "f1", Name: "save", FilePath: "src/store/repo.ts", IsMethod: true, ClassName: "SqlRepo"}

func ov(kind models.OverrideKind, typeID, typeName string, compatible bool) models.MethodOverride {
	return models.MethodOverride{
		MethodMemberID: "m1",
		SourceTypeID:   "SqlRepo",
		TargetTypeID:   typeID,
		TargetTypeName: typeName,
		OverrideKind:   kind,
		IsCompatible:   compatible,
	}
}

func TestNoEvidenceScoresZero(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return(nil, nil)

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")
	assert.Equal(t, 0.0, r.ConfidenceScore)
	assert.Nil(t, r.ProtectionReason)
	assert.Empty(t, r.ImplementedInterfaces)
	assert.Nil(t, r.SignatureCompatibility)
	assert.NoError(t, r.Err)
}

func TestAbstractImplementation(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{
		ov(models.OverrideKindAbstractImplement, "Base", "BaseRepo", true),
	}, nil)

	a := New(st)
	ctx := context.Background()
	r := a.AnalyzeDeletionSafety(ctx, testFn, "snap")

	assert.GreaterOrEqual(t, r.ConfidenceScore, 0.80)
	assert.True(t, r.IsMethodOverride)
	assert.Equal(t, 1, r.EvidenceStrength.AbstractImplementationCount)
	require.NotNil(t, r.ProtectionReason)
	assert.Contains(t, *r.ProtectionReason, "BaseRepo")

	assert.True(t, a.ShouldProtectFromDeletion(ctx, testFn, "snap", 0.70))
	assert.False(t, a.ShouldProtectFromDeletion(ctx, testFn, "snap", 0.85))
}

func TestInterfaceImplementationWithClasses(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{
		ov(models.OverrideKindImplement, "IRepo", "Repo", true),
		ov(models.OverrideKindImplement, "IStore", "Store", true),
	}, nil)
	st.On("GetImplementingClasses", mock.Anything, "IRepo").Return([]models.TypeDefinition{
		{ID: "c1", Name: "SqlRepo"}, {ID: "c2", Name: "MemRepo"},
	}, nil)
	st.On("GetImplementingClasses", mock.Anything, "IStore").Return([]models.TypeDefinition{
		{ID: "c1", Name: "SqlRepo"}, {ID: "c3", Name: "FileStore"},
	}, nil)

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")

	assert.True(t, r.IsInterfaceImplementation)
	assert.Equal(t, []string{"Repo", "Store"}, r.ImplementedInterfaces)
	assert.Equal(t, []string{"FileStore", "MemRepo", "SqlRepo"}, r.ImplementingClasses)
	assert.Equal(t, 2, r.EvidenceStrength.InterfaceCount)
	assert.Equal(t, 3, r.EvidenceStrength.ClassCount)
	// 0.80 + 0.05 (second interface) + 0.10 (two extra classes)
	assert.InDelta(t, 0.95, r.ConfidenceScore, 1e-9)
	require.NotNil(t, r.ProtectionReason)
	assert.Equal(t, "Implements 2 interface(s) (Repo, Store) shared by 3 class(es)", *r.ProtectionReason)
}

func TestScoreCapped(t *testing.T) {
	var overrides []models.MethodOverride
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		overrides = append(overrides, ov(models.OverrideKindAbstractImplement, id, id, true))
	}
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return(overrides, nil)

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")
	assert.InDelta(t, 0.98, r.ConfidenceScore, 1e-9)
}

func TestIncompatibleEvidenceNeverRaisesScore(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{
		ov(models.OverrideKindAbstractImplement, "Base", "Base", false),
		ov(models.OverrideKindOverride, "Parent", "Parent", true),
	}, nil)

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")
	assert.InDelta(t, 0.70, r.ConfidenceScore, 1e-9)
	assert.Equal(t, 1, r.EvidenceStrength.AbstractImplementationCount, "incompatible evidence is kept")
	require.NotNil(t, r.SignatureCompatibility)
	assert.Equal(t, 1, r.SignatureCompatibility.Incompatible)
	assert.False(t, r.SignatureCompatibility.AllMatch)
}

func TestOnlyIncompatibleScoresZero(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{
		ov(models.OverrideKindImplement, "IRepo", "Repo", false),
	}, nil)
	st.On("GetImplementingClasses", mock.Anything, "IRepo").Return(nil, nil)

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")
	assert.Equal(t, 0.0, r.ConfidenceScore)
	assert.Nil(t, r.ProtectionReason)
	assert.True(t, r.IsInterfaceImplementation)
}

func TestStorageFailureFailOpen(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return(nil, errors.New("db locked"))

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")
	assert.Equal(t, 0.0, r.ConfidenceScore)
	assert.Nil(t, r.ProtectionReason)
	require.Error(t, r.Err)
	assert.ErrorIs(t, r.Err, analyzer.ErrStorageQuery)
}

func TestStorageFailureFailClosed(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{
		ov(models.OverrideKindImplement, "IRepo", "Repo", true),
	}, nil)
	st.On("GetImplementingClasses", mock.Anything, "IRepo").Return(nil, errors.New("timeout"))

	r := New(st, WithFailClosed(true)).AnalyzeDeletionSafety(context.Background(), testFn, "snap")
	assert.Equal(t, 1.0, r.ConfidenceScore)
	require.NotNil(t, r.ProtectionReason)
	assert.Equal(t, FailClosedReason, *r.ProtectionReason)
	assert.True(t, analyzer.IsStorageQueryError(r.Err))
}

func TestShouldProtectConsistentWithScore(t *testing.T) {
	cases := [][]models.MethodOverride{
		nil,
		{ov(models.OverrideKindOverride, "P", "P", true)},
		{ov(models.OverrideKindAbstractImplement, "A", "A", true), ov(models.OverrideKindAbstractImplement, "B", "B", true)},
		{ov(models.OverrideKindSignatureImplement, "S", "S", true)},
	}
	thresholds := []float64{0, 0.1, 0.5, 0.69, 0.7, 0.75, 0.8, 0.85, 0.9, 0.98, 1}

	for _, overrides := range cases {
		st := &mockStorage{}
		st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return(overrides, nil)
		a := New(st)
		ctx := context.Background()
		score := a.AnalyzeDeletionSafety(ctx, testFn, "snap").ConfidenceScore
		for _, th := range thresholds {
			assert.Equal(t, score >= th, a.ShouldProtectFromDeletion(ctx, testFn, "snap", th), "threshold %v", th)
		}
	}
}

func TestResultsMemoizedPerRun(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{
		ov(models.OverrideKindOverride, "P", "P", true),
	}, nil)

	rc := analyzer.NewRunContext("snap", nil)
	ctx := analyzer.WithRunContext(context.Background(), rc)
	a := New(st)
	first := a.AnalyzeDeletionSafety(ctx, testFn, "snap")
	second := a.AnalyzeDeletionSafety(ctx, testFn, "snap")

	assert.Equal(t, first, second)
	st.AssertNumberOfCalls(t, "GetMethodOverridesByFunction", 1)

	// A new run starts with empty tables.
	ctx2 := analyzer.WithRunContext(context.Background(), analyzer.NewRunContext("snap", nil))
	a.AnalyzeDeletionSafety(ctx2, testFn, "snap")
	st.AssertNumberOfCalls(t, "GetMethodOverridesByFunction", 2)
}

func TestAnalyzeMany(t *testing.T) {
	st := &mockStorage{}
	fns := make([]models.FunctionInfo, 20)
	for i := range fns {
		fns[i] = models.FunctionInfo{ID: string(rune('a' + i)), Name: "m"}
		var overrides []models.MethodOverride
		if i%2 == 0 {
			overrides = []models.MethodOverride{ov(models.OverrideKindOverride, "P", "P", true)}
		}
		st.On("GetMethodOverridesByFunction", mock.Anything, fns[i].ID).Return(overrides, nil)
	}

	results := New(st, WithConcurrency(4)).AnalyzeMany(context.Background(), fns, "snap")
	require.Len(t, results, len(fns))
	for i, r := range results {
		assert.Equal(t, fns[i].ID, r.FunctionID)
		if i%2 == 0 {
			assert.InDelta(t, 0.70, r.ConfidenceScore, 1e-9)
		} else {
			assert.Equal(t, 0.0, r.ConfidenceScore)
		}
	}
}

func TestAbstractImplementationOutranksInterfaces(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{
		ov(models.OverrideKindAbstractImplement, "Base", "Base", true),
		ov(models.OverrideKindImplement, "I1", "I1", true),
		ov(models.OverrideKindImplement, "I2", "I2", true),
		ov(models.OverrideKindImplement, "I3", "I3", true),
	}, nil)
	for _, id := range []string{"I1", "I2", "I3"} {
		st.On("GetImplementingClasses", mock.Anything, id).Return(nil, nil)
	}

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")

	assert.InDelta(t, 0.80, r.ConfidenceScore, 1e-9)
	require.NotNil(t, r.ProtectionReason)
	assert.Equal(t, "Implements abstract method(s) of 1 abstract class(es) (Base)", *r.ProtectionReason)
	assert.Equal(t, 3, r.EvidenceStrength.InterfaceCount)
	assert.True(t, r.IsInterfaceImplementation)
}

func TestIncompatibleAbstractFallsThroughToInterfaces(t *testing.T) {
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{
		ov(models.OverrideKindAbstractImplement, "Base", "Base", false),
		ov(models.OverrideKindImplement, "I1", "I1", true),
	}, nil)
	st.On("GetImplementingClasses", mock.Anything, "I1").Return(nil, nil)

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")
	assert.InDelta(t, 0.80, r.ConfidenceScore, 1e-9)
	require.NotNil(t, r.ProtectionReason)
	assert.Contains(t, *r.ProtectionReason, "Implements 1 interface(s) (I1)")
}

func TestOverrideOfAbstractMember(t *testing.T) {
	abstractOverride := ov(models.OverrideKindOverride, "Base", "Base", true)
	abstractOverride.TargetMemberID = "base-run"
	concreteOverride := ov(models.OverrideKindOverride, "Parent", "Parent", true)
	concreteOverride.TargetMemberID = "parent-run"

	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{abstractOverride}, nil)
	st.On("GetMethodOverridesByFunction", mock.Anything, "f2").Return([]models.MethodOverride{concreteOverride}, nil)
	st.On("GetTypeMembers", mock.Anything, "Base").Return([]models.TypeMember{
		{ID: "base-run", TypeID: "Base", Name: "run", MemberKind: models.MemberMethod, IsAbstract: true},
	}, nil)
	st.On("GetTypeMembers", mock.Anything, "Parent").Return([]models.TypeMember{
		{ID: "parent-run", TypeID: "Parent", Name: "run", MemberKind: models.MemberMethod},
	}, nil)

	a := New(st)
	ctx := context.Background()

	r := a.AnalyzeDeletionSafety(ctx, testFn, "snap")
	assert.InDelta(t, 0.80, r.ConfidenceScore, 1e-9)
	assert.Equal(t, 1, r.EvidenceStrength.AbstractImplementationCount)
	assert.Zero(t, r.EvidenceStrength.OverrideCount)

	r = a.AnalyzeDeletionSafety(ctx, models.FunctionInfo{ID: "f2", Name: "run"}, "snap")
	assert.InDelta(t, 0.70, r.ConfidenceScore, 1e-9)
	assert.Equal(t, 1, r.EvidenceStrength.OverrideCount)
}

func TestTypeMemberLookupFailure(t *testing.T) {
	o := ov(models.OverrideKindOverride, "Base", "Base", true)
	o.TargetMemberID = "base-run"
	st := &mockStorage{}
	st.On("GetMethodOverridesByFunction", mock.Anything, "f1").Return([]models.MethodOverride{o}, nil)
	st.On("GetTypeMembers", mock.Anything, "Base").Return(nil, errors.New("db locked"))

	r := New(st).AnalyzeDeletionSafety(context.Background(), testFn, "snap")
	assert.Equal(t, 0.0, r.ConfidenceScore)
	assert.ErrorIs(t, r.Err, analyzer.ErrStorageQuery)
}

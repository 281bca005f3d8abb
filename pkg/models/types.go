package models

// TypeKind classifies a type definition.
type TypeKind string

const (
	TypeKindClass     TypeKind = "class"
	TypeKindInterface TypeKind = "interface"
	TypeKindAlias     TypeKind = "type_alias"
	TypeKindEnum      TypeKind = "enum"
	TypeKindNamespace TypeKind = "namespace"
)

// TypeDefinition is a class, interface or other named type in a snapshot.
type TypeDefinition struct {
	ID         string   `json:"id" toon:"id"`
	SnapshotID string   `json:"snapshot_id" toon:"snapshot_id"`
	Name       string   `json:"name" toon:"name"`
	Kind       TypeKind `json:"kind" toon:"kind"`
	FilePath   string   `json:"file_path" toon:"file_path"`
	StartLine  int      `json:"start_line" toon:"start_line"`
	IsAbstract bool     `json:"is_abstract,omitempty" toon:"is_abstract,omitempty"`
	IsExported bool     `json:"is_exported,omitempty" toon:"is_exported,omitempty"`
}

// MemberKind classifies a type member.
type MemberKind string

const (
	MemberMethod      MemberKind = "method"
	MemberProperty    MemberKind = "property"
	MemberGetter      MemberKind = "getter"
	MemberSetter      MemberKind = "setter"
	MemberConstructor MemberKind = "constructor"
	MemberField       MemberKind = "field"
)

// TypeMember is a member of a TypeDefinition. FunctionID links method-like
// members to the FunctionInfo that implements them.
type TypeMember struct {
	ID         string     `json:"id" toon:"id"`
	TypeID     string     `json:"type_id" toon:"type_id"`
	Name       string     `json:"name" toon:"name"`
	MemberKind MemberKind `json:"member_kind" toon:"member_kind"`
	FunctionID string     `json:"function_id,omitempty" toon:"function_id,omitempty"`
	IsAbstract bool       `json:"is_abstract,omitempty" toon:"is_abstract,omitempty"`
	IsStatic   bool       `json:"is_static,omitempty" toon:"is_static,omitempty"`
}

// OverrideKind is the closed set of method relationships produced by the
// upstream class-hierarchy pass.
type OverrideKind string

const (
	OverrideKindOverride           OverrideKind = "override"
	OverrideKindImplement          OverrideKind = "implement"
	OverrideKindAbstractImplement  OverrideKind = "abstract_implement"
	OverrideKindSignatureImplement OverrideKind = "signature_implement"
)

// String returns the string representation.
func (k OverrideKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known variants.
func (k OverrideKind) Valid() bool {
	switch k {
	case OverrideKindOverride, OverrideKindImplement, OverrideKindAbstractImplement, OverrideKindSignatureImplement:
		return true
	}
	return false
}

// ParseOverrideKind converts a stored string into an OverrideKind.
func ParseOverrideKind(s string) (OverrideKind, bool) {
	k := OverrideKind(s)
	return k, k.Valid()
}

// MethodOverride records that a method member overrides or implements a
// member of another type.
type MethodOverride struct {
	ID              string       `json:"id" toon:"id"`
	MethodMemberID  string       `json:"method_member_id" toon:"method_member_id"`
	SourceTypeID    string       `json:"source_type_id" toon:"source_type_id"`
	TargetMemberID  string       `json:"target_member_id,omitempty" toon:"target_member_id,omitempty"`
	TargetTypeID    string       `json:"target_type_id,omitempty" toon:"target_type_id,omitempty"`
	TargetTypeName  string       `json:"target_type_name,omitempty" toon:"target_type_name,omitempty"`
	OverrideKind    OverrideKind `json:"override_kind" toon:"override_kind"`
	IsCompatible    bool         `json:"is_compatible" toon:"is_compatible"`
	ConfidenceScore float64      `json:"confidence_score" toon:"confidence_score"`
}

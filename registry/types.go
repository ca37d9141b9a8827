// Package registry is the type-metadata registry (§4.1): a concurrent,
// insert-once cache that turns an entity declaration into a canonical,
// immutable TypeDesc consumed by the dialect translator, query builder,
// connection runtime and schema engine.
//
// Per §9's design note, field discovery is declarative rather than
// reflection-scanned at call time: an application declares its entity once,
// as a hand-written table of (name, role, host type, attributes), and
// registers it with Register. The registry's job is to validate, freeze and
// cache that declaration — not to infer it from struct tags.
package registry

// Kind distinguishes a table-backed entity from a read-only view.
type Kind int

const (
	Table Kind = iota
	View
)

func (k Kind) String() string {
	if k == View {
		return "view"
	}
	return "table"
}

// HostType enumerates the host-language value representations a field may
// hold (§3).
type HostType int

const (
	HostInt8 HostType = iota
	HostInt16
	HostInt32
	HostInt64
	HostFloat32
	HostFloat64
	HostDecimal
	HostBool
	HostString
	HostBytes
	HostImage
	HostGUID
	HostDateTime
	HostTypeName
	HostEnum
	HostObject
)

// Role marks a field as playing a distinguished part in an entity; each
// non-None role may appear at most once per TypeDesc.
type Role int

const (
	RoleNone Role = iota
	RolePrimaryKey
	RoleTimestampCreated
	RoleTimestampChanged
	RoleArchiveFlag
)

// ConstraintAction is the referential action a foreign key takes on
// update/delete of the referenced row.
type ConstraintAction int

const (
	NoAction ConstraintAction = iota
	Cascade
	SetDefault
	SetNull
)

// FieldDesc is the immutable description of one entity field (§3).
type FieldDesc struct {
	Name    string
	HostType HostType
	Role    Role

	MaxLength     int // default 100; -1 = unbounded ("memo")
	BlobBlockSize int // default 512

	Compress       bool
	Indexed        bool
	IndexDefinition string
	Unique         bool
	Delayed        bool
	Searchable     bool
	UseSoundex     bool
	LogChanges     bool

	// SourceField maps a view column back to the field name on the
	// underlying table/query; view-only.
	SourceField string

	// ConstraintType names the entity type this field references via a
	// foreign key, empty when the field has no constraint.
	ConstraintType     string
	ConstraintOnUpdate ConstraintAction
	ConstraintOnDelete ConstraintAction
}

// Field constructs a FieldDesc applying the documented defaults
// (MaxLength=100, BlobBlockSize=512) before the supplied options run.
func Field(name string, hostType HostType, role Role, opts ...FieldOption) FieldDesc {
	f := FieldDesc{
		Name:          name,
		HostType:      hostType,
		Role:          role,
		MaxLength:     100,
		BlobBlockSize: 512,
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// FieldOption mutates a FieldDesc under construction.
type FieldOption func(*FieldDesc)

func MaxLength(n int) FieldOption        { return func(f *FieldDesc) { f.MaxLength = n } }
func BlobBlockSize(n int) FieldOption    { return func(f *FieldDesc) { f.BlobBlockSize = n } }
func Compress() FieldOption              { return func(f *FieldDesc) { f.Compress = true } }
func Indexed() FieldOption               { return func(f *FieldDesc) { f.Indexed = true } }
func IndexDefinition(s string) FieldOption {
	return func(f *FieldDesc) { f.Indexed = true; f.IndexDefinition = s }
}
func Unique() FieldOption     { return func(f *FieldDesc) { f.Unique = true } }
func Delayed() FieldOption    { return func(f *FieldDesc) { f.Delayed = true } }
func Searchable() FieldOption { return func(f *FieldDesc) { f.Searchable = true } }
func UseSoundex() FieldOption { return func(f *FieldDesc) { f.UseSoundex = true } }
func LogChanges() FieldOption { return func(f *FieldDesc) { f.LogChanges = true } }
func SourceField(s string) FieldOption { return func(f *FieldDesc) { f.SourceField = s } }
func Constraint(targetType string, onUpdate, onDelete ConstraintAction) FieldOption {
	return func(f *FieldDesc) {
		f.ConstraintType = targetType
		f.ConstraintOnUpdate = onUpdate
		f.ConstraintOnDelete = onDelete
	}
}

// TypeDesc is the immutable, process-cached description of one entity
// (§3). Register builds it from a Declaration and caches the result.
type TypeDesc struct {
	Kind    Kind
	Name    string
	ID      int
	Version int

	UseCache   bool
	LogChanges bool // tables only

	MasterType    string // views only: underlying/source entity type name
	QueryTemplate string // views only: may contain the literal token #FIELDS#

	fieldOrder []string
	fields     map[string]*FieldDesc

	keyField      *FieldDesc
	createdField  *FieldDesc
	changedField  *FieldDesc
	archivedField *FieldDesc
}

// Fields returns the field descriptions in declaration order.
func (t *TypeDesc) Fields() []*FieldDesc {
	out := make([]*FieldDesc, 0, len(t.fieldOrder))
	for _, n := range t.fieldOrder {
		out = append(out, t.fields[n])
	}
	return out
}

// Field looks up a field by name (case-sensitive; the declared name).
func (t *TypeDesc) Field(name string) (*FieldDesc, bool) {
	f, ok := t.fields[name]
	return f, ok
}

func (t *TypeDesc) KeyField() *FieldDesc      { return t.keyField }
func (t *TypeDesc) CreatedField() *FieldDesc  { return t.createdField }
func (t *TypeDesc) ChangedField() *FieldDesc  { return t.changedField }
func (t *TypeDesc) ArchivedField() *FieldDesc { return t.archivedField }

// Declaration is the hand-written description an application builds once
// per entity type and passes to Register.
type Declaration struct {
	Kind          Kind
	Name          string
	ID            int
	Version       int
	UseCache      bool
	LogChanges    bool
	MasterType    string
	QueryTemplate string
	Fields        []FieldDesc
}

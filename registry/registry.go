package registry

import (
	"reflect"
	"strings"
	"sync"

	"github.com/entitymapper/entitymapper/errs"
)

// AfterRegisterHook lets an entity type attach extensions to its own
// TypeDesc right after it is built, before the result is cached and handed
// back to callers (§4.1). Implement it on the entity (or a pointer to it)
// and Register will call it once.
type AfterRegisterHook interface {
	AfterRegisterTypeDescription(*TypeDesc)
}

type cacheEntry struct {
	desc *TypeDesc
	err  error
}

// registry is the process-wide insert-once cache. Lookups after warm-up are
// lock-free (sync.Map); insertion of a given type happens exactly once,
// serialized by a per-type sync.Once.
type registry struct {
	entries sync.Map // reflect.Type -> *cacheEntry
	once    sync.Map // reflect.Type -> *sync.Once

	mu        sync.Mutex // guards the global id/name uniqueness indexes below
	byID      map[int]reflect.Type
	byNameLow map[string]reflect.Type
}

var global = &registry{
	byID:      make(map[int]reflect.Type),
	byNameLow: make(map[string]reflect.Type),
}

// Reset clears every cached registration. It exists for tests; production
// code never calls it; per §5 the registry is append-only for the life of
// the process.
func Reset() {
	global = &registry{
		byID:      make(map[int]reflect.Type),
		byNameLow: make(map[string]reflect.Type),
	}
}

// Register builds (on first call for entityType) or returns (on every
// subsequent call) the TypeDesc for entityType, validating the invariants
// of §3. A sample instance is accepted so the AfterRegisterHook, if any,
// can be invoked against the concrete type.
func Register(entityType reflect.Type, decl Declaration, sample any) (*TypeDesc, error) {
	onceAny, _ := global.once.LoadOrStore(entityType, &sync.Once{})
	once := onceAny.(*sync.Once)

	once.Do(func() {
		desc, err := build(decl)
		if err == nil {
			err = global.claim(entityType, desc)
		}
		if err == nil {
			if hook, ok := sample.(AfterRegisterHook); ok {
				hook.AfterRegisterTypeDescription(desc)
			}
		}
		global.entries.Store(entityType, &cacheEntry{desc: desc, err: err})
	})

	v, _ := global.entries.Load(entityType)
	entry := v.(*cacheEntry)
	return entry.desc, entry.err
}

// Get returns the already-registered TypeDesc for entityType, or false if it
// has never been registered.
func Get(entityType reflect.Type) (*TypeDesc, bool) {
	v, ok := global.entries.Load(entityType)
	if !ok {
		return nil, false
	}
	entry := v.(*cacheEntry)
	if entry.err != nil {
		return nil, false
	}
	return entry.desc, true
}

// All returns every successfully registered TypeDesc, in no particular
// order. A host application registers its entity types once (typically via
// package-level init or an explicit bootstrap call) before an operational
// tool like cmd/entitymapctl enumerates them for schema convergence.
func All() []*TypeDesc {
	var out []*TypeDesc
	global.entries.Range(func(_, v any) bool {
		entry := v.(*cacheEntry)
		if entry.err == nil {
			out = append(out, entry.desc)
		}
		return true
	})
	return out
}

func (r *registry) claim(entityType reflect.Type, desc *TypeDesc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nameLow := strings.ToLower(desc.Name)

	if existing, ok := r.byID[desc.ID]; ok && existing != entityType {
		return errs.Structuralf("registry.Register", "entity id %d already registered by %s", desc.ID, existing)
	}
	if existing, ok := r.byNameLow[nameLow]; ok && existing != entityType {
		return errs.Structuralf("registry.Register", "entity name %q already registered by %s", desc.Name, existing)
	}

	r.byID[desc.ID] = entityType
	r.byNameLow[nameLow] = entityType
	return nil
}

// build validates decl and assembles the immutable TypeDesc. No partial
// entry is ever returned on error.
func build(decl Declaration) (*TypeDesc, error) {
	const op = "registry.build"

	if decl.Name == "" {
		return nil, errs.Structuralf(op, "entity declaration is missing a name")
	}
	if decl.ID < 1 {
		return nil, errs.Structuralf(op, "entity %q: id must be >= 1, got %d", decl.Name, decl.ID)
	}
	if decl.Version < 1 {
		return nil, errs.Structuralf(op, "entity %q: version must be >= 1, got %d", decl.Name, decl.Version)
	}

	switch decl.Kind {
	case Table:
		if decl.QueryTemplate != "" || decl.MasterType != "" {
			return nil, errs.Structuralf(op, "entity %q: declared as table but carries view-only metadata", decl.Name)
		}
	case View:
		if decl.QueryTemplate == "" {
			return nil, errs.Structuralf(op, "entity %q: view requires a query template", decl.Name)
		}
	default:
		return nil, errs.Structuralf(op, "entity %q: kind must be Table or View", decl.Name)
	}

	desc := &TypeDesc{
		Kind:          decl.Kind,
		Name:          decl.Name,
		ID:            decl.ID,
		Version:       decl.Version,
		UseCache:      decl.UseCache,
		LogChanges:    decl.LogChanges,
		MasterType:    decl.MasterType,
		QueryTemplate: decl.QueryTemplate,
		fields:        make(map[string]*FieldDesc, len(decl.Fields)),
	}

	seenRole := make(map[Role]string)
	for i := range decl.Fields {
		f := decl.Fields[i]
		if f.Name == "" {
			return nil, errs.Structuralf(op, "entity %q: field %d has no name", decl.Name, i)
		}
		if _, dup := desc.fields[f.Name]; dup {
			return nil, errs.Structuralf(op, "entity %q: duplicate field %q", decl.Name, f.Name)
		}
		if f.Role != RoleNone {
			if prior, dup := seenRole[f.Role]; dup {
				return nil, errs.Structuralf(op, "entity %q: role %v already assigned to field %q, cannot also assign to %q", decl.Name, f.Role, prior, f.Name)
			}
			seenRole[f.Role] = f.Name
		}

		fd := f
		desc.fields[fd.Name] = &fd
		desc.fieldOrder = append(desc.fieldOrder, fd.Name)

		switch fd.Role {
		case RolePrimaryKey:
			desc.keyField = &fd
		case RoleTimestampCreated:
			desc.createdField = &fd
		case RoleTimestampChanged:
			desc.changedField = &fd
		case RoleArchiveFlag:
			desc.archivedField = &fd
		}
	}

	if decl.Kind == Table {
		if desc.keyField == nil {
			return nil, errs.Structuralf(op, "table %q: missing primary-key field", decl.Name)
		}
		if desc.createdField == nil {
			return nil, errs.Structuralf(op, "table %q: missing created-timestamp field", decl.Name)
		}
		if desc.changedField == nil {
			return nil, errs.Structuralf(op, "table %q: missing changed-timestamp field", decl.Name)
		}
	}

	return desc, nil
}

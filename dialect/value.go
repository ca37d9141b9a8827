package dialect

import (
	"fmt"
	"image"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/entitymapper/entitymapper/codec"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/registry"
	"github.com/google/uuid"
)

// toDB implements the pure to_db conversion shared by every dialect (§4.2).
// Dialects differ only in DSN/driver wiring, not in this marshalling logic.
func toDB(v any, ft registry.HostType, compressIfBlob bool) (any, error) {
	const op = "dialect.toDB"

	switch ft {
	case registry.HostGUID:
		id, ok := v.(uuid.UUID)
		if !ok {
			return nil, errConversion(op, "expected uuid.UUID for HostGUID, got %T", v)
		}
		if id == uuid.Nil {
			return nil, nil // empty GUID -> database null
		}
		return id.String(), nil

	case registry.HostTypeName:
		switch t := v.(type) {
		case reflect.Type:
			if t.PkgPath() == "" {
				return t.Name(), nil
			}
			return t.PkgPath() + "." + t.Name(), nil
		case string:
			return t, nil
		default:
			return nil, errConversion(op, "expected reflect.Type or string for HostTypeName, got %T", v)
		}

	case registry.HostImage:
		img, ok := v.(image.Image)
		if !ok {
			return nil, errConversion(op, "expected image.Image for HostImage, got %T", v)
		}
		return codec.EncodeImage(img)

	case registry.HostObject:
		b, err := codec.EncodeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if compressIfBlob {
			return codec.Gzip(b)
		}
		return b, nil

	case registry.HostBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, errConversion(op, "expected []byte for HostBytes, got %T", v)
		}
		return b, nil

	case registry.HostEnum:
		i32, err := toInt32(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return i32, nil

	default:
		return v, nil
	}
}

func toInt32(v any) (int32, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int32(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int32(rv.Uint()), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to enum int32", v)
	}
}

// fromDB implements the pure from_db conversion shared by every dialect,
// including the database-null-to-type-default coercions of §4.2.
func fromDB(v any, ft registry.HostType) (any, error) {
	const op = "dialect.fromDB"

	if v == nil {
		return zeroValue(ft), nil
	}

	switch ft {
	case registry.HostGUID:
		switch t := v.(type) {
		case uuid.UUID:
			return t, nil
		case string:
			if t == "" {
				return uuid.Nil, nil
			}
			id, err := uuid.Parse(t)
			if err != nil {
				return nil, errConversion(op, "parse guid %q: %v", t, err)
			}
			return id, nil
		case []byte:
			if len(t) == 0 {
				return uuid.Nil, nil
			}
			return codec.GUIDFromBytes(t)
		default:
			return nil, errConversion(op, "unsupported guid source type %T", v)
		}

	case registry.HostBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			return isTruthyToken(t), nil
		case int64:
			return t != 0, nil
		default:
			return nil, errConversion(op, "unsupported bool source type %T", v)
		}

	case registry.HostImage:
		b, ok := v.([]byte)
		if !ok {
			return nil, errConversion(op, "expected []byte for HostImage, got %T", v)
		}
		return codec.DecodeImage(b)

	case registry.HostObject:
		b, ok := v.([]byte)
		if !ok {
			return nil, errConversion(op, "expected []byte for HostObject, got %T", v)
		}
		var out any
		if err := codec.DecodeJSON(b, &out); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return out, nil

	case registry.HostInt64:
		switch t := v.(type) {
		case int64:
			return t, nil
		case *big.Int:
			if !t.IsInt64() {
				return nil, errConversion(op, "big integer %s overflows int64", t.String())
			}
			return t.Int64(), nil
		default:
			return coerceNumeric(v)
		}

	case registry.HostDateTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, errConversion(op, "expected time.Time, got %T", v)
		}
		return t, nil

	default:
		return v, nil
	}
}

// isTruthyToken implements §4.2's "string 'JjYy1' membership test" rule: a
// string whose first byte is one of J, j, Y, y, 1 is boolean true.
func isTruthyToken(s string) bool {
	if s == "" {
		return false
	}
	return strings.ContainsRune("JjYy1", rune(s[0]))
}

func coerceNumeric(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", u)
		}
		return int64(u), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to int64", v)
	}
}

// zeroValue returns the documented type-default substituted for a database
// null (§4.2).
func zeroValue(ft registry.HostType) any {
	switch ft {
	case registry.HostGUID:
		return uuid.Nil
	case registry.HostDateTime:
		return time.Time{} // Go's zero time stands in for "min date-time"
	case registry.HostString, registry.HostTypeName:
		return ""
	case registry.HostBytes, registry.HostImage, registry.HostObject:
		return []byte{}
	case registry.HostBool:
		return false
	case registry.HostFloat32:
		return float32(0)
	case registry.HostFloat64:
		return float64(0)
	default:
		return int64(0)
	}
}

func errConversion(op, format string, args ...any) error {
	return errs.Conversionf(op, format, args...)
}

// Package codec implements the bidirectional mapping between host Go
// values and SQLite's four storage classes (spec §4.3, component C3):
// integer, real, text, blob (plus NULL). Binding turns a Go value into
// something database/sql can pass to the driver; reading turns a
// database/sql scan target back into the host's declared Go type.
package codec

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strata-db/strata/record"
	"github.com/strata-db/strata/sterr"
)

// ticksPerSecond fixes the tick unit at 100ns, matching spec's
// integer-ticks temporal encoding. Ticks are counted from the Unix epoch
// rather than .NET's year-1 epoch: the host runtime has no year-1 epoch
// convention of its own, and an epoch choice is invisible to anything
// that only round-trips through this codec.
const ticksPerSecond = 10_000_000

// dateTimeTextLayout is the invariant-locale text form spec §4.3 uses
// when ticks encoding is off: "yyyy-MM-ddTHH:mm:ss.fff".
const dateTimeTextLayout = "2006-01-02T15:04:05.000"

// Decimal lets a host type opt into real-number storage without binding
// through float64 directly (spec §4.3 "decimal→real").
type Decimal interface {
	Rat() *big.Rat
}

// TextEnum lets a named integer type control its own text encoding when
// its column is "store as text" (spec §4.3 "enum... text (name) when
// store-as-text").
type TextEnum interface {
	EnumName() string
}

// EnumValuer describes an enum type that can list its name→value pairs.
// The codec does not call it: reading a store-as-text enum column back
// resolves names only through a resolver installed with
// RegisterEnumResolver.
type EnumValuer interface {
	EnumValues() map[string]int64
}

var enumResolvers = map[reflect.Type]func(name string) (int64, bool){}

// RegisterEnumResolver installs the name→int64 lookup for an enum type T,
// used when reading a store-as-text enum column back into T. Call once at
// init time for each TextEnum type a program maps.
func RegisterEnumResolver[T ~int | ~int8 | ~int16 | ~int32 | ~int64](resolve func(name string) (T, bool)) {
	var zero T
	t := reflect.TypeOf(zero)
	enumResolvers[t] = func(name string) (int64, bool) {
		v, ok := resolve(name)
		return int64(v), ok
	}
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	uuidType     = reflect.TypeOf(uuid.UUID{})
	decimalType  = reflect.TypeOf((*Decimal)(nil)).Elem()
	textEnumType = reflect.TypeOf((*TextEnum)(nil)).Elem()
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

// Bind converts a host value (as read from a record.Column) into a value
// database/sql can pass through to the driver as a bound parameter.
// storeDateTimeAsTicks selects spec §4.3's date-time binding rule
// (normally Config.StoreDateTimeAsTicks, threaded in by command.Command).
func Bind(col *record.Column, v reflect.Value, storeDateTimeAsTicks bool) (any, error) {
	if col.IsNullable {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return nil, nil
			}
			v = v.Elem()
		}
	}

	switch {
	case v.Type() == timeType:
		return encodeTime(v.Interface().(time.Time), storeDateTimeAsTicks), nil
	case v.Type() == durationType:
		return int64(v.Interface().(time.Duration)) / (int64(time.Second) / ticksPerSecond), nil
	case v.Type() == uuidType:
		return v.Interface().(uuid.UUID).String(), nil
	}

	if v.CanInterface() {
		if dec, ok := v.Interface().(Decimal); ok {
			f, _ := dec.Rat().Float64()
			return f, nil
		}
		if col.StoreAsText {
			if te, ok := v.Interface().(TextEnum); ok {
				return te.EnumName(), nil
			}
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return int64(1), nil
		}
		return int64(0), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes(), nil
		}
	}

	if v.CanInterface() && v.Type().Implements(stringerType) {
		return v.Interface().(fmt.Stringer).String(), nil
	}

	return nil, sterr.New(sterr.KindUnsupportedBinding,
		fmt.Sprintf("codec: cannot bind host type %s for column %q", v.Type(), col.Name))
}

// EncodeTime applies spec §4.3's date-time binding rule directly,
// honoring the caller's storeDateTimeAsTicks flag (normally
// Config.StoreDateTimeAsTicks) rather than the column's own flags.
func EncodeTime(t time.Time, storeDateTimeAsTicks bool) any {
	return encodeTime(t, storeDateTimeAsTicks)
}

func encodeTime(t time.Time, storeDateTimeAsTicks bool) any {
	if storeDateTimeAsTicks {
		u := t.UTC()
		return u.Unix()*ticksPerSecond + int64(u.Nanosecond())/100
	}
	return t.UTC().Format(dateTimeTextLayout)
}

// DecodeTime is the symmetric inverse of EncodeTime. An out-of-range
// ticks value (one whose whole seconds reach ±2^62 ticks) resolves to the
// zero time rather than erroring; a column's declared default is not
// consulted.
func DecodeTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case int64:
		return ticksToTime(v), nil
	case float64:
		return ticksToTime(int64(v)), nil
	case string:
		t, err := time.Parse(dateTimeTextLayout, v)
		if err != nil {
			if t2, err2 := time.Parse(time.RFC3339Nano, v); err2 == nil {
				return t2.UTC(), nil
			}
			return time.Time{}, sterr.Wrap(sterr.KindUnsupportedBinding, "", err)
		}
		return t.UTC(), nil
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, sterr.New(sterr.KindUnsupportedBinding, fmt.Sprintf("codec: cannot decode %T as time.Time", raw))
	}
}

const (
	maxRepresentableSeconds = int64(1) << 62 / ticksPerSecond
	minRepresentableSeconds = -maxRepresentableSeconds
)

func ticksToTime(ticks int64) time.Time {
	secs := ticks / ticksPerSecond
	if secs >= maxRepresentableSeconds || secs <= minRepresentableSeconds {
		return time.Time{}
	}
	nsec := (ticks % ticksPerSecond) * 100
	return time.Unix(secs, nsec).UTC()
}

// Scan converts a database/sql row value back into a reflect.Value
// suitable for record.Column.Set, using col's declared host type.
func Scan(col *record.Column, raw any) (reflect.Value, error) {
	target := col.UnderlyingType

	if raw == nil {
		return reflect.Zero(col.HostType), nil
	}

	var result reflect.Value
	var err error

	switch {
	case target == timeType:
		var t time.Time
		t, err = DecodeTime(raw)
		result = reflect.ValueOf(t)
	case target == durationType:
		var ticks int64
		ticks, err = asInt64(raw)
		result = reflect.ValueOf(time.Duration(ticks * (int64(time.Second) / ticksPerSecond)))
	case target == uuidType:
		var s string
		s, err = asString(raw)
		if err == nil {
			var u uuid.UUID
			u, err = uuid.Parse(s)
			result = reflect.ValueOf(u)
		}
	case target.Implements(textEnumType) || target.Kind() == reflect.Int || target.Kind() == reflect.Int8 ||
		target.Kind() == reflect.Int16 || target.Kind() == reflect.Int32 || target.Kind() == reflect.Int64:
		result, err = scanEnumOrInt(target, raw, col.StoreAsText)
	default:
		result, err = scanByKind(target, raw)
	}

	if err != nil {
		return reflect.Value{}, err
	}

	if !result.IsValid() {
		return reflect.Value{}, sterr.New(sterr.KindUnsupportedBinding, fmt.Sprintf("codec: cannot decode column %q", col.Name))
	}

	if col.IsNullable && col.HostType.Kind() == reflect.Ptr {
		ptr := reflect.New(target)
		ptr.Elem().Set(result.Convert(target))
		return ptr, nil
	}
	return result.Convert(col.HostType), nil
}

func scanEnumOrInt(target reflect.Type, raw any, storeAsText bool) (reflect.Value, error) {
	if storeAsText {
		s, err := asString(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if resolve, ok := enumResolvers[target]; ok {
			if n, ok := resolve(s); ok {
				return reflect.ValueOf(n).Convert(target), nil
			}
		}
		return reflect.Value{}, sterr.New(sterr.KindUnsupportedBinding, fmt.Sprintf("codec: unresolvable enum text %q for %s", s, target))
	}
	n, err := asInt64(raw)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(n).Convert(target), nil
}

func scanByKind(target reflect.Type, raw any) (reflect.Value, error) {
	switch target.Kind() {
	case reflect.Bool:
		n, err := asInt64(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n != 0), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := asInt64(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n), nil
	case reflect.Float32, reflect.Float64:
		f, err := asFloat64(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f), nil
	case reflect.String:
		s, err := asString(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil
	case reflect.Slice:
		if target.Elem().Kind() == reflect.Uint8 {
			b, ok := raw.([]byte)
			if !ok {
				return reflect.Value{}, sterr.New(sterr.KindUnsupportedBinding, fmt.Sprintf("codec: expected []byte, got %T", raw))
			}
			return reflect.ValueOf(b), nil
		}
	}
	if target.Implements(stringerType) {
		s, err := asString(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil
	}
	return reflect.Value{}, sterr.New(sterr.KindUnsupportedBinding, fmt.Sprintf("codec: cannot decode into %s", target))
}

func asInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, sterr.Wrap(sterr.KindUnsupportedBinding, "", err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, sterr.Wrap(sterr.KindUnsupportedBinding, "", err)
		}
		return n, nil
	default:
		return 0, sterr.New(sterr.KindUnsupportedBinding, fmt.Sprintf("codec: cannot convert %T to integer", raw))
	}
}

func asFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return 0, sterr.New(sterr.KindUnsupportedBinding, fmt.Sprintf("codec: cannot convert %T to real", raw))
	}
}

func asString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", sterr.New(sterr.KindUnsupportedBinding, fmt.Sprintf("codec: cannot convert %T to text", raw))
	}
}

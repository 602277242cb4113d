package query

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cast"
)

// FormatError reports a parameter value that cannot be converted to its
// declared type. The message is shown to the client as is.
type FormatError struct {
	Value    string
	TypeName string
}

func (e *FormatError) Error() string {
	return "Cannot convert '" + e.Value + "' to " + e.TypeName
}

// --------------------------------------------------------------------------
// Ticks
// --------------------------------------------------------------------------

// ticks between 0001-01-01 and the unix epoch, one tick is 100ns
const unixEpochTicks int64 = 621355968000000000

const ticksPerSecond int64 = 10_000_000

// Accepted DateTime tick range: 1601-01-01 (earliest FILETIME) up to
// 9999-12-31T23:59:59.9999999. Smaller numbers are not clock values.
const (
	MinDateTimeTicks int64 = 504911232000000000
	MaxDateTimeTicks int64 = 3155378975999999999
)

// TicksToTime converts a tick count to a UTC time
func TicksToTime(ticks int64) time.Time {
	d := ticks - unixEpochTicks
	secs := d / ticksPerSecond
	rem := d % ticksPerSecond
	if rem < 0 {
		secs--
		rem += ticksPerSecond
	}
	return time.Unix(secs, rem*100).UTC()
}

// TimeToTicks converts a time to a tick count, the zero time maps to 0
func TimeToTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	secs := t.Unix()
	return secs*ticksPerSecond + int64(t.Nanosecond())/100 + unixEpochTicks
}

// --------------------------------------------------------------------------
// Coercion
// --------------------------------------------------------------------------

// Coerce converts the wire representation of a value to the Go value of tag.
// DateTime values must be tick counts.
func Coerce(value string, tag TypeTag) (any, error) {
	fail := &FormatError{Value: value, TypeName: tag.Name()}

	switch tag {
	case TypeString:
		return value, nil
	case TypeChar:
		r, size := utf8.DecodeRuneInString(value)
		if r == utf8.RuneError || size != len(value) {
			return nil, fail
		}
		return r, nil
	case TypeBoolean:
		b, err := cast.ToBoolE(strings.TrimSpace(value))
		if err != nil {
			return nil, fail
		}
		return b, nil
	case TypeByte, TypeUInt16, TypeUInt32, TypeUInt64:
		n, err := cast.ToUint64E(normalizeInt(value))
		if err != nil || n > unsignedMax[tag] {
			return nil, fail
		}
		switch tag {
		case TypeByte:
			return uint8(n), nil
		case TypeUInt16:
			return uint16(n), nil
		case TypeUInt32:
			return uint32(n), nil
		}
		return n, nil
	case TypeSByte, TypeInt16, TypeInt32, TypeInt64:
		n, err := cast.ToInt64E(normalizeInt(value))
		if err != nil || n < signedRange[tag][0] || n > signedRange[tag][1] {
			return nil, fail
		}
		switch tag {
		case TypeSByte:
			return int8(n), nil
		case TypeInt16:
			return int16(n), nil
		case TypeInt32:
			return int32(n), nil
		}
		return n, nil
	case TypeSingle:
		f, err := cast.ToFloat32E(strings.TrimSpace(value))
		if err != nil {
			return nil, fail
		}
		return f, nil
	case TypeDouble, TypeDecimal:
		f, err := cast.ToFloat64E(strings.TrimSpace(value))
		if err != nil {
			return nil, fail
		}
		return f, nil
	case TypeDateTime:
		ticks, err := cast.ToInt64E(normalizeInt(value))
		if err != nil || ticks < MinDateTimeTicks || ticks > MaxDateTimeTicks {
			return nil, fail
		}
		return TicksToTime(ticks), nil
	default:
		return nil, fail
	}
}

// CoerceNamed resolves typeName and converts value
func CoerceNamed(value, typeName string) (any, error) {
	tag, ok := TagOf(typeName)
	if !ok {
		return nil, &FormatError{Value: value, TypeName: typeName}
	}
	return Coerce(value, tag)
}

var unsignedMax = map[TypeTag]uint64{
	TypeByte:   math.MaxUint8,
	TypeUInt16: math.MaxUint16,
	TypeUInt32: math.MaxUint32,
	TypeUInt64: math.MaxUint64,
}

var signedRange = map[TypeTag][2]int64{
	TypeSByte: {math.MinInt8, math.MaxInt8},
	TypeInt16: {math.MinInt16, math.MaxInt16},
	TypeInt32: {math.MinInt32, math.MaxInt32},
	TypeInt64: {math.MinInt64, math.MaxInt64},
}

// normalizeInt strips the sign and leading zeros of a decimal integer, so that
// cast does not read "010" as an octal literal
func normalizeInt(s string) string {
	s = strings.TrimSpace(s)
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}
	if s == "" {
		return sign
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			// not a plain decimal, invalidate
			return "x"
		}
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return sign + trimmed
}

package query

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func strp(s string) *string { return &s }

func TestTagOf(t *testing.T) {
	for _, name := range []string{"System.Int32", "system.int32", "SYSTEM.INT32", " System.Int32 "} {
		if tag, ok := TagOf(name); !ok || tag != TypeInt32 {
			t.Errorf("%q: expected Int32, got %v %v", name, tag, ok)
		}
	}
	if _, ok := TagOf("System.Guid"); ok {
		t.Error("System.Guid must not resolve")
	}
}

func TestCoerce(t *testing.T) {
	tests := map[string]struct {
		value string
		tag   TypeTag
		want  any
	}{
		"String":      {"abc", TypeString, "abc"},
		"Char":        {"x", TypeChar, 'x'},
		"Boolean":     {"true", TypeBoolean, true},
		"Byte":        {"255", TypeByte, uint8(255)},
		"SByte":       {"-128", TypeSByte, int8(-128)},
		"Int16":       {"-300", TypeInt16, int16(-300)},
		"UInt16":      {"65535", TypeUInt16, uint16(65535)},
		"Int32":       {"123", TypeInt32, int32(123)},
		"Int32Zeros":  {"010", TypeInt32, int32(10)},
		"UInt32":      {"4000000000", TypeUInt32, uint32(4000000000)},
		"Int64":       {"-9000000000", TypeInt64, int64(-9000000000)},
		"Single":      {"1.5", TypeSingle, float32(1.5)},
		"Double":      {"2.25", TypeDouble, 2.25},
		"Decimal":     {"10.5", TypeDecimal, 10.5},
		"DateTimeUTC": {"621355968000000000", TypeDateTime, time.Unix(0, 0).UTC()},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := Coerce(tc.value, tc.tag)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("expected %#v, got %#v", tc.want, got)
			}
		})
	}
}

func TestCoerceFailures(t *testing.T) {
	tests := map[string]struct {
		value string
		tag   TypeTag
		msg   string
	}{
		"DateTimeText": {"2024-01-01", TypeDateTime, "Cannot convert '2024-01-01' to System.DateTime"},
		"DateTimeNeg":  {"-1", TypeDateTime, "Cannot convert '-1' to System.DateTime"},
		"ByteOverflow": {"256", TypeByte, "Cannot convert '256' to System.Byte"},
		"Int32Text":    {"abc", TypeInt32, "Cannot convert 'abc' to System.Int32"},
		"Int16Range":   {"40000", TypeInt16, "Cannot convert '40000' to System.Int16"},
		"CharTooLong":  {"ab", TypeChar, "Cannot convert 'ab' to System.Char"},
		"Bool":         {"maybe", TypeBoolean, "Cannot convert 'maybe' to System.Boolean"},
		"Hex":          {"0x10", TypeInt32, "Cannot convert '0x10' to System.Int32"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Coerce(tc.value, tc.tag)
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if fe.Error() != tc.msg {
				t.Errorf("expected %q, got %q", tc.msg, fe.Error())
			}
		})
	}
}

// "123" is not a tick count and "636000000000000000" is
func TestDateTimeTicks(t *testing.T) {
	got, err := CoerceNamed("636000000000000000", "System.DateTime")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := got.(time.Time)
	if TimeToTicks(ts) != 636000000000000000 {
		t.Errorf("ticks did not round trip: %d", TimeToTicks(ts))
	}
	if ts.Year() != 2016 {
		t.Errorf("expected 2016, got %d", ts.Year())
	}

	for _, raw := range []string{"123", "12:30"} {
		_, err = CoerceNamed(raw, "System.DateTime")
		var fe *FormatError
		if !errors.As(err, &fe) || fe.Value != raw || fe.TypeName != "System.DateTime" {
			t.Errorf("%s: expected FormatError naming value and type, got %v", raw, err)
		}
	}
}

func TestTicks(t *testing.T) {
	ts := time.Date(2016, 1, 1, 0, 0, 0, 500, time.UTC)
	if got := TicksToTime(TimeToTicks(ts)); !got.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, got)
	}
	if TimeToTicks(time.Time{}) != 0 {
		t.Error("zero time must map to zero ticks")
	}
	before := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := TicksToTime(TimeToTicks(before)); !got.Equal(before) {
		t.Errorf("expected %v, got %v", before, got)
	}
}

func TestBuildParams(t *testing.T) {
	t.Run("Accumulate", func(t *testing.T) {
		params := []Param{
			{Name: "a", Values: []TypedValue{{Type: "System.Int32", Value: strp("1")}}},
			{Name: "b", Values: []TypedValue{{Type: "System.String", Value: strp("x")}}},
			{Name: "a", Values: []TypedValue{{Type: "System.Int32", Value: strp("2")}, {Type: "System.Int32", Value: strp("3")}}},
			{Name: "n", Values: []TypedValue{{Type: "System.String"}}},
		}
		got, err := BuildParams(params, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := map[string]any{
			"a": []any{int32(1), int32(2), int32(3)},
			"b": "x",
			"n": nil,
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Resolver", func(t *testing.T) {
		resolve := func(name string) string {
			if name == "int" {
				return "System.Int32"
			}
			return name
		}
		got, err := BuildParams([]Param{{Name: "a", Values: []TypedValue{{Type: "int", Value: strp("5")}}}}, resolve)
		if err != nil || got["a"] != int32(5) {
			t.Errorf("expected int32(5), got %v (%v)", got["a"], err)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := BuildParams([]Param{{Name: "a", Values: []TypedValue{{Type: "Foo.Bar", Value: strp("5")}}}}, nil)
		var fe *FormatError
		if !errors.As(err, &fe) || fe.TypeName != "Foo.Bar" {
			t.Errorf("expected FormatError, got %v", err)
		}
	})
}

func TestSubstituteText(t *testing.T) {
	tests := map[string]struct {
		in, want string
	}{
		"Mixed":     {"SELECT $Text$ WHERE this = ?", "SELECT System.String WHERE this = ?"},
		"Upper":     {"SELECT $TEXT$", "SELECT System.String"},
		"Lower":     {"SELECT $text$", "SELECT System.String"},
		"FirstWins": {"$TEXT$ $Text$ $Text$", "$TEXT$ System.String System.String"},
		"None":      {"SELECT Product", "SELECT Product"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := SubstituteText(tc.in, "System.String"); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

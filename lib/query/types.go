package query

import (
	"fmt"
	"strings"
)

// TypeTag is the closed set of parameter types a client may declare
type TypeTag uint8

const (
	TypeUnknown TypeTag = iota
	TypeString
	TypeChar
	TypeBoolean
	TypeByte
	TypeSByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeSingle
	TypeDouble
	TypeDecimal
	TypeDateTime
)

var typeNames = map[TypeTag]string{
	TypeString:   "System.String",
	TypeChar:     "System.Char",
	TypeBoolean:  "System.Boolean",
	TypeByte:     "System.Byte",
	TypeSByte:    "System.SByte",
	TypeInt16:    "System.Int16",
	TypeUInt16:   "System.UInt16",
	TypeInt32:    "System.Int32",
	TypeUInt32:   "System.UInt32",
	TypeInt64:    "System.Int64",
	TypeUInt64:   "System.UInt64",
	TypeSingle:   "System.Single",
	TypeDouble:   "System.Double",
	TypeDecimal:  "System.Decimal",
	TypeDateTime: "System.DateTime",
}

// lower case type name -> tag
var tagsByName = func() map[string]TypeTag {
	m := make(map[string]TypeTag, len(typeNames))
	for tag, name := range typeNames {
		m[strings.ToLower(name)] = tag
	}
	return m
}()

// TagOf resolves a fully qualified type name, ignoring case
func TagOf(name string) (TypeTag, bool) {
	tag, ok := tagsByName[strings.ToLower(strings.TrimSpace(name))]
	return tag, ok
}

// Name returns the fully qualified type name
func (t TypeTag) Name() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

func (t TypeTag) String() string {
	return t.Name()
}

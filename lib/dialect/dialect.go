// Package dialect describes how the client platforms (.NET and Java) encode
// type names and named tags on the wire.
//
// A dialect is resolved once per connection at Init and consulted by the
// commands that decode typed values. Adding a platform means adding a Dialect,
// the commands stay untouched.
package dialect

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ValentinKolb/dCache/lib/query"
)

// Dialect is the type system of one client platform
type Dialect interface {
	// Name returns the platform name
	Name() string
	// StringTypeName is the fully qualified string type of the platform
	StringTypeName() string
	// ResolveTypeName maps a platform type name to the canonical (CLR) name
	ResolveTypeName(typeName string) string
	// ExpandQuery substitutes the $Text$ placeholder
	ExpandQuery(q string) string
	// DecodeNamedTags converts the wire form of named tags into typed values
	DecodeNamedTags(tags NamedTags) (map[string]any, error)
}

// NamedTags is the wire form of a named tag dictionary. .NET clients send the
// three arrays in parallel. Java clients leave Types empty and send every value
// as "value|javaType".
type NamedTags struct {
	Names  []string
	Types  []string
	Values []string
}

// Len returns the number of tags
func (n NamedTags) Len() int { return len(n.Names) }

// JavaValueDelimiter separates value and type in Java named tags
const JavaValueDelimiter = "|"

const (
	NameDotNet = "dotnet"
	NameJava   = "java"
)

// ForClient returns the dialect for the isDotNetClient flag of Init
func ForClient(isDotNet bool) Dialect {
	if isDotNet {
		return DotNet
	}
	return Java
}

// ByName resolves a dialect from configuration
func ByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case NameDotNet, ".net", "net", "":
		return DotNet, nil
	case NameJava:
		return Java, nil
	default:
		return nil, fmt.Errorf("unknown client dialect %q", name)
	}
}

// --------------------------------------------------------------------------
// .NET
// --------------------------------------------------------------------------

type dotNet struct{}

// DotNet is the dialect of .NET clients, which already speak CLR type names
var DotNet Dialect = dotNet{}

func (dotNet) Name() string { return NameDotNet }

func (dotNet) StringTypeName() string { return "System.String" }

func (dotNet) ResolveTypeName(typeName string) string { return typeName }

func (d dotNet) ExpandQuery(q string) string {
	return query.SubstituteText(q, d.StringTypeName())
}

func (d dotNet) DecodeNamedTags(tags NamedTags) (map[string]any, error) {
	if len(tags.Types) != len(tags.Names) || len(tags.Values) != len(tags.Names) {
		return nil, &query.FormatError{
			Value:    fmt.Sprintf("%d names, %d types, %d values", len(tags.Names), len(tags.Types), len(tags.Values)),
			TypeName: "NamedTagsDictionary",
		}
	}
	out := make(map[string]any, len(tags.Names))
	for i, name := range tags.Names {
		v, err := query.CoerceNamed(tags.Values[i], d.ResolveTypeName(tags.Types[i]))
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Java
// --------------------------------------------------------------------------

// javaToClr maps Java type names to CLR names. Names not listed pass through.
var javaToClr = map[string]string{
	"boolean":              "System.Boolean",
	"java.lang.Boolean":    "System.Boolean",
	"char":                 "System.Char",
	"java.lang.Character":  "System.Char",
	"java.lang.String":     "System.String",
	"float":                "System.Single",
	"java.lang.Float":      "System.Single",
	"double":               "System.Double",
	"java.lang.Double":     "System.Double",
	"int":                  "System.Int32",
	"java.lang.Integer":    "System.Int32",
	"long":                 "System.Int64",
	"java.lang.Long":       "System.Int64",
	"byte":                 "System.Byte",
	"java.lang.Byte":       "System.Byte",
	"short":                "System.Int16",
	"java.lang.Short":      "System.Int16",
	"java.util.Date":       "System.DateTime",
	"java.math.BigDecimal": "System.Decimal",
}

type java struct{}

// Java is the dialect of Java clients
var Java Dialect = java{}

func (java) Name() string { return NameJava }

func (java) StringTypeName() string { return "java.lang.String" }

func (java) ResolveTypeName(typeName string) string {
	if clr, ok := javaToClr[strings.TrimSpace(typeName)]; ok {
		return clr
	}
	return typeName
}

func (j java) ExpandQuery(q string) string {
	return query.SubstituteText(q, j.StringTypeName())
}

func (j java) DecodeNamedTags(tags NamedTags) (map[string]any, error) {
	if len(tags.Values) != len(tags.Names) {
		return nil, &query.FormatError{
			Value:    fmt.Sprintf("%d names, %d values", len(tags.Names), len(tags.Values)),
			TypeName: "NamedTagsDictionary",
		}
	}
	out := make(map[string]any, len(tags.Names))
	for i, name := range tags.Names {
		raw := tags.Values[i]
		idx := strings.LastIndex(raw, JavaValueDelimiter)
		if idx < 0 {
			return nil, &query.FormatError{Value: raw, TypeName: "value|type"}
		}
		v, err := query.CoerceNamed(raw[:idx], j.ResolveTypeName(raw[idx+1:]))
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// PrepareQuery expands the $Text$ placeholder of q and resolves the type the
// query selects from to its canonical name, so that queries match the items
// the same client stored.
func PrepareQuery(d Dialect, q string) string {
	q = d.ExpandQuery(q)

	kw, end := nextWord(q, 0)
	if !strings.EqualFold(kw, "SELECT") && !strings.EqualFold(kw, "DELETE") {
		return q
	}
	typ, end := nextWord(q, end)
	if strings.EqualFold(typ, "FROM") {
		typ, end = nextWord(q, end)
	}
	if typ == "" {
		return q
	}
	resolved := d.ResolveTypeName(typ)
	if resolved == typ {
		return q
	}
	start := end - len(typ)
	return q[:start] + resolved + q[end:]
}

// nextWord returns the whitespace delimited word starting at or after i and
// the index behind it
func nextWord(s string, i int) (string, int) {
	for i < len(s) && unicode.IsSpace(rune(s[i])) {
		i++
	}
	start := i
	for i < len(s) && !unicode.IsSpace(rune(s[i])) {
		i++
	}
	return s[start:i], i
}

package query

import "strings"

// TypedValue is a query parameter value as declared by the client.
// A nil Value is a null parameter.
type TypedValue struct {
	Type  string
	Value *string
}

// Param is one named parameter with all of its values
type Param struct {
	Name   string
	Values []TypedValue
}

// TypeResolver maps a client type name to a fully qualified type name
type TypeResolver func(typeName string) string

// BuildParams converts the wire parameters into the value map handed to the
// engine. A name that occurs more than once accumulates its values into a
// []any in arrival order.
func BuildParams(params []Param, resolve TypeResolver) (map[string]any, error) {
	values := make(map[string]any, len(params))
	for _, p := range params {
		for _, tv := range p.Values {
			typeName := tv.Type
			if resolve != nil {
				typeName = resolve(typeName)
			}
			tag, ok := TagOf(typeName)
			if !ok {
				raw := ""
				if tv.Value != nil {
					raw = *tv.Value
				}
				return nil, &FormatError{Value: raw, TypeName: typeName}
			}

			var value any
			if tv.Value != nil {
				v, err := Coerce(*tv.Value, tag)
				if err != nil {
					return nil, err
				}
				value = v
			}
			accumulate(values, p.Name, value)
		}
	}
	return values, nil
}

func accumulate(values map[string]any, name string, value any) {
	existing, ok := values[name]
	if !ok {
		values[name] = value
		return
	}
	if list, isList := existing.([]any); isList {
		values[name] = append(list, value)
		return
	}
	values[name] = []any{existing, value}
}

// textPlaceholders are tried in order, only the first one found is replaced
var textPlaceholders = []string{"$Text$", "$TEXT$", "$text$"}

// SubstituteText replaces the string type placeholder of a query with
// stringType. Only the first placeholder spelling that occurs is replaced,
// all of its occurrences are.
func SubstituteText(q, stringType string) string {
	for _, ph := range textPlaceholders {
		if strings.Contains(q, ph) {
			return strings.ReplaceAll(q, ph, stringType)
		}
	}
	return q
}

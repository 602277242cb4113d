package opctx

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Field names
// --------------------------------------------------------------------------

// FieldName identifies one entry of an OperationContext. The set is closed,
// engine operations document which fields they read.
type FieldName uint8

const (
	FieldOperationType FieldName = iota
	FieldClientID
	FieldClientLastViewID
	FieldClientIPAddress
	FieldReadThru
	FieldWriteThru
	FieldWriteBehind
	FieldReadThruProviderName
	FieldWriteThruProviderName
	FieldRaiseCQNotification
	FieldIntendedRecipient
	FieldItemVersion
	FieldMethodOverload
	FieldIsRetryOperation
	FieldClientThreadID
	FieldClientOperationTimeout
	FieldCancellationToken

	fieldCount
)

var fieldNames = [fieldCount]string{
	"OperationType",
	"ClientId",
	"ClientLastViewId",
	"ClientIpAddress",
	"ReadThru",
	"WriteThru",
	"WriteBehind",
	"ReadThruProviderName",
	"WriteThruProviderName",
	"RaiseCQNotification",
	"IntendedRecipient",
	"ItemVersion",
	"MethodOverload",
	"IsRetryOperation",
	"ClientThreadId",
	"ClientOperationTimeout",
	"CancellationToken",
}

func (f FieldName) String() string {
	if f < fieldCount {
		return fieldNames[f]
	}
	return fmt.Sprintf("Unknown(%d)", f)
}

// OperationType tells the engine on whose behalf an operation runs
type OperationType uint8

const (
	CacheOperation OperationType = iota
	CacheOperationWithoutNotification
	InternalOperation
)

func (t OperationType) String() string {
	switch t {
	case CacheOperation:
		return "CacheOperation"
	case CacheOperationWithoutNotification:
		return "CacheOperationWithoutNotification"
	case InternalOperation:
		return "InternalOperation"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// --------------------------------------------------------------------------
// OperationContext
// --------------------------------------------------------------------------

// OperationContext is an insertion ordered bag of cross-cutting values passed
// into every engine call. A field that is absent means "use the default".
//
// The engine treats the context as read only, except for ItemVersion which it
// may assign when the caller left it at zero. Callers read it back after the
// call.
//
// An OperationContext is owned by one executing command and is not safe for
// concurrent use.
type OperationContext struct {
	values [fieldCount]any
	set    uint32
	order  []FieldName
}

// New creates a context with the given operation type
func New(opType OperationType) *OperationContext {
	oc := &OperationContext{}
	oc.Add(FieldOperationType, opType)
	return oc
}

// ResetLeasable clears all fields (implements pool.Leasable)
func (oc *OperationContext) ResetLeasable() {
	oc.values = [fieldCount]any{}
	oc.set = 0
	oc.order = oc.order[:0]
}

// Add sets a field. Setting a field twice keeps its original position.
func (oc *OperationContext) Add(name FieldName, value any) {
	if name >= fieldCount {
		panic(fmt.Sprintf("opctx: unknown field %d", name))
	}
	if !oc.Contains(name) {
		oc.set |= 1 << name
		oc.order = append(oc.order, name)
	}
	oc.values[name] = value
}

// Remove unsets a field
func (oc *OperationContext) Remove(name FieldName) {
	if !oc.Contains(name) {
		return
	}
	oc.set &^= 1 << name
	oc.values[name] = nil
	for i, n := range oc.order {
		if n == name {
			oc.order = append(oc.order[:i], oc.order[i+1:]...)
			break
		}
	}
}

// Contains reports whether a field is present. A nil context has no fields.
func (oc *OperationContext) Contains(name FieldName) bool {
	return oc != nil && name < fieldCount && oc.set&(1<<name) != 0
}

// Get returns the raw value of a field
func (oc *OperationContext) Get(name FieldName) (any, bool) {
	if !oc.Contains(name) {
		return nil, false
	}
	return oc.values[name], true
}

// Fields returns the present fields in insertion order
func (oc *OperationContext) Fields() []FieldName {
	if oc == nil {
		return nil
	}
	out := make([]FieldName, len(oc.order))
	copy(out, oc.order)
	return out
}

// Len returns the number of present fields
func (oc *OperationContext) Len() int {
	if oc == nil {
		return 0
	}
	return len(oc.order)
}

// --------------------------------------------------------------------------
// Typed accessors
// --------------------------------------------------------------------------

// OperationType returns the operation type, CacheOperation if absent
func (oc *OperationContext) OperationType() OperationType {
	if v, ok := oc.Get(FieldOperationType); ok {
		if t, ok := v.(OperationType); ok {
			return t
		}
	}
	return CacheOperation
}

// ClientID returns the id of the client the operation runs for
func (oc *OperationContext) ClientID() string {
	return oc.String(FieldClientID)
}

// ClientLastViewID returns the cluster view id the operation is bound to
func (oc *OperationContext) ClientLastViewID() (int64, bool) {
	v, ok := oc.Get(FieldClientLastViewID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// ItemVersion returns the item version, 0 if absent
func (oc *OperationContext) ItemVersion() uint64 {
	if v, ok := oc.Get(FieldItemVersion); ok {
		if version, ok := v.(uint64); ok {
			return version
		}
	}
	return 0
}

// SetItemVersion stores the item version. Engines use this to hand a
// generated version back to the caller.
func (oc *OperationContext) SetItemVersion(version uint64) {
	if oc == nil {
		return
	}
	oc.Add(FieldItemVersion, version)
}

// Bool returns a flag field, false if absent
func (oc *OperationContext) Bool(name FieldName) bool {
	if v, ok := oc.Get(name); ok {
		b, _ := v.(bool)
		return b
	}
	return false
}

// String returns a string field, "" if absent
func (oc *OperationContext) String(name FieldName) string {
	if v, ok := oc.Get(name); ok {
		s, _ := v.(string)
		return s
	}
	return ""
}

// Timeout returns the client operation timeout, 0 if absent
func (oc *OperationContext) Timeout() time.Duration {
	if v, ok := oc.Get(FieldClientOperationTimeout); ok {
		d, _ := v.(time.Duration)
		return d
	}
	return 0
}

// Context returns the cancellation token, context.Background() if absent
func (oc *OperationContext) Context() context.Context {
	if v, ok := oc.Get(FieldCancellationToken); ok {
		if ctx, ok := v.(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// Err reports whether the operation was cancelled
func (oc *OperationContext) Err() error {
	return oc.Context().Err()
}

// Describe renders the present fields for logs
func (oc *OperationContext) Describe() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, name := range oc.order {
		if i > 0 {
			sb.WriteString(", ")
		}
		if name == FieldCancellationToken {
			sb.WriteString(name.String() + "=<ctx>")
			continue
		}
		sb.WriteString(fmt.Sprintf("%s=%v", name, oc.values[name]))
	}
	sb.WriteString("}")
	return sb.String()
}

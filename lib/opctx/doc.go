// Package opctx provides the OperationContext passed into every cache engine
// call.
//
// An OperationContext carries values that concern the call as a whole rather
// than one engine method: the client it runs for, the cluster view the client
// last saw, read/write-through switches, the intended recipient, the item
// version and the cancellation token. The set of fields is closed (FieldName),
// values keep their insertion order and an absent field means "use the
// default".
//
// Contexts are pooled by the command layer, ResetLeasable clears them.
package opctx

// Package cache defines the contract between the command dispatch layer and a
// cache engine.
//
// The dispatch layer never looks inside an engine. Every engine operation
// receives an *opctx.OperationContext carrying the cross-cutting values of the
// call (client id, view id, read/write-through flags, cancellation token) and
// reports failures as errors. Bulk operations return a BulkResult with one
// outcome per key instead of failing as a whole.
//
// Key Components:
//
//   - ICache: the engine interface, composed of small role interfaces
//     (ItemStore, BulkStore, QueryStore, TagStore, NotificationStore,
//     TopicStore, ProcessingStore). Commands depend on the role they need.
//
//   - Pooled values: BitSet, CacheEntry, ExpirationHint and UserBinaryObject
//     implement pool.Leasable. They are leased by a command for the duration of
//     one engine call. An engine must copy everything it keeps, because the
//     objects are reset and reused as soon as the call returns.
//
//   - Notifications: the callback wrapper attached to an entry. It only
//     exists when the client asked for at least one callback.
//
//   - Sentinel errors (ErrKeyNotFound, ErrItemLocked, ...): engines wrap them
//     with github.com/cockroachdb/errors, the dispatch layer classifies them
//     with errors.Is.
//
// The reference implementation lives in the lcache subpackage.
package cache

package cache

import (
	"time"

	"github.com/ValentinKolb/dCache/lib/opctx"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ItemStore holds the single key operations.
//
// Write operations read FieldItemVersion from the operation context and may
// write the version they assigned back into it.
type ItemStore interface {
	// Add stores entry under key. It fails with ErrKeyExists if the key is present.
	Add(key string, entry *CacheEntry, oc *opctx.OperationContext) error
	// AddAsync is the fire-and-forget variant of Add. Failures are not
	// reported to the caller.
	AddAsync(key string, entry *CacheEntry, oc *opctx.OperationContext)
	// Insert adds or replaces the value of key, honouring the lock handle
	// according to access. With LockCompareVersion the item version in oc is
	// the expected current version, the new version is written back into oc.
	Insert(key string, entry *CacheEntry, lock *LockHandle, access LockAccessType, oc *opctx.OperationContext) error
	// InsertAsync is the fire-and-forget variant of Insert
	InsertAsync(key string, entry *CacheEntry, oc *opctx.OperationContext)
	// Get returns the item or nil if the key does not exist. With LockAcquire
	// the item is locked for lockTimeout and lock receives the new handle. If
	// another lock is held the item is nil and lock receives the held handle.
	// With LockCompareVersion only an item newer than version is returned, with
	// LockMatchVersion only the item of exactly that version.
	Get(key string, version uint64, lock *LockHandle, access LockAccessType, lockTimeout time.Duration, oc *opctx.OperationContext) (*Item, error)
	// GetCacheEntry is Get including item metadata (tags, expiration, priority)
	GetCacheEntry(key string, version uint64, lock *LockHandle, access LockAccessType, lockTimeout time.Duration, oc *opctx.OperationContext) (*Item, error)
	// Remove removes the key and returns the removed item, nil if it was missing
	Remove(key string, lock *LockHandle, access LockAccessType, version uint64, oc *opctx.OperationContext) (*Item, error)
	// RemoveAsync is the fire-and-forget variant of Remove
	RemoveAsync(key string, oc *opctx.OperationContext)
	// Delete is Remove without returning the removed value
	Delete(key string, lock *LockHandle, access LockAccessType, version uint64, oc *opctx.OperationContext) error
	// Lock locks key for timeout. ok is false if another lock is held, lock then
	// describes the held lock.
	Lock(key string, timeout time.Duration, oc *opctx.OperationContext) (lock *LockHandle, ok bool, err error)
	// Unlock releases the lock of key. force releases any lock.
	Unlock(key string, lockID string, force bool, oc *opctx.OperationContext) error
	// IsLocked reports the lock currently held on key
	IsLocked(key string, oc *opctx.OperationContext) (lock *LockHandle, locked bool, err error)
	// Contains reports whether key exists
	Contains(key string, oc *opctx.OperationContext) (bool, error)
	// ContainsBulk reports for every key whether it exists
	ContainsBulk(keys []string, oc *opctx.OperationContext) (map[string]bool, error)
	// Touch resets the sliding expiration of the keys
	Touch(keys []string, oc *opctx.OperationContext) error
	// Count returns the number of items
	Count(oc *opctx.OperationContext) (int64, error)
	// Clear removes all items
	Clear(flags *BitSet, oc *opctx.OperationContext) error
}

// BulkStore holds the multi key operations. A failing key is reported in the
// BulkResult, the returned error is reserved for failures of the whole call.
type BulkStore interface {
	AddBulk(keys []string, entries []*CacheEntry, oc *opctx.OperationContext) (BulkResult, error)
	InsertBulk(keys []string, entries []*CacheEntry, oc *opctx.OperationContext) (BulkResult, error)
	GetBulk(keys []string, flags *BitSet, oc *opctx.OperationContext) (BulkResult, error)
	RemoveBulk(keys []string, flags *BitSet, oc *opctx.OperationContext) (BulkResult, error)
	DeleteBulk(keys []string, flags *BitSet, oc *opctx.OperationContext) (BulkResult, error)
}

// QueryStore evaluates queries over the type and named tag indexes
type QueryStore interface {
	Search(query string, params map[string]any, oc *opctx.OperationContext) (*QueryResult, error)
	SearchEntries(query string, params map[string]any, oc *opctx.OperationContext) (*QueryResult, error)
	// SearchCQ runs the query and registers it as a continuous query
	SearchCQ(query string, params map[string]any, entries bool, cq *ContinuousQuery, oc *opctx.OperationContext) (*QueryResult, error)
	UnregisterCQ(cqID string, clientUniqueID string, oc *opctx.OperationContext) error
	// ExecuteReader opens a reader and returns its first chunk
	ExecuteReader(query string, params map[string]any, getData bool, chunkSize int, oc *opctx.OperationContext) (*ReaderResultSet, error)
	ExecuteReaderCQ(query string, params map[string]any, getData bool, chunkSize int, cq *ContinuousQuery, oc *opctx.OperationContext) (*ReaderResultSet, error)
	GetReaderChunk(readerID string, nextIndex int, oc *opctx.OperationContext) (*ReaderResultSet, error)
	DisposeReader(readerID string, oc *opctx.OperationContext) error
	// DeleteQuery removes every item matched by query and returns the count
	DeleteQuery(query string, params map[string]any, oc *opctx.OperationContext) (int, error)
}

// TagStore resolves items by tag
type TagStore interface {
	GetByTag(tags []string, cmp TagComparison, oc *opctx.OperationContext) (map[string]*Item, error)
	GetKeysByTag(tags []string, cmp TagComparison, oc *opctx.OperationContext) ([]string, error)
	RemoveByTag(tags []string, cmp TagComparison, oc *opctx.OperationContext) (int, error)
}

// NotificationStore registers item level callbacks
type NotificationStore interface {
	RegisterKeyNotification(keys []string, update, remove *CallbackInfo, oc *opctx.OperationContext) error
	UnregisterKeyNotification(keys []string, update, remove *CallbackInfo, oc *opctx.OperationContext) error
	// RegisterPolling turns on event queuing for a polling client
	RegisterPolling(clientID string, oc *opctx.OperationContext) error
	// Poll drains the queued events of a client
	Poll(clientID string, oc *opctx.OperationContext) (*PollResult, error)
}

// TopicStore is the messaging side of the engine
type TopicStore interface {
	TopicOperation(op *TopicOperation, oc *opctx.OperationContext) (bool, error)
	PublishMessage(msg *TopicMessage, oc *opctx.OperationContext) error
	// GetAssignedMessages returns the messages assigned to a subscription, by topic
	GetAssignedMessages(sub *SubscriptionInfo, oc *opctx.OperationContext) (map[string][]*TopicMessage, error)
	// AcknowledgeMessageReceipt takes message ids by topic
	AcknowledgeMessageReceipt(clientID string, acks map[string][]string, oc *opctx.OperationContext) error
	GetTopicMessageCount(topic string, oc *opctx.OperationContext) (int64, error)
}

// ProcessingStore holds enumeration and server side processing
type ProcessingStore interface {
	GetNextChunk(pointer *EnumerationPointer, chunkSize int, oc *opctx.OperationContext) (*EnumerationChunk, error)
	SubmitMapReduceTask(task *MapReduceTask, oc *opctx.OperationContext) error
	InvokeEntryProcessor(keys []string, processor []byte, oc *opctx.OperationContext) (BulkResult, error)
}

// ICache is the full engine contract
type ICache interface {
	ItemStore
	BulkStore
	QueryStore
	TagStore
	NotificationStore
	TopicStore
	ProcessingStore

	// Name returns the name of the cache
	Name() string
	// RegisterOperationModeListener registers fn to be called on mode changes
	RegisterOperationModeListener(fn func(OperationMode))
	// OnClientConnected and OnClientDisconnected track client sessions
	OnClientConnected(clientID string)
	OnClientDisconnected(clientID string)
	// Close releases all resources of the engine
	Close() error
}

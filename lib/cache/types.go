package cache

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// Flag bits carried in a BitSet
const (
	FlagCompressed uint8 = 1 << iota
	FlagBinaryData
	FlagJSONData
	FlagReadThru
	FlagWriteThru
	FlagWriteBehind
	FlagOptionalDSOperation
	FlagResyncExpiredItems
)

// BitSet holds the per item flags sent by the client
type BitSet struct {
	data uint8
}

// NewBitSet creates a bit set from the raw wire value
func NewBitSet(data uint8) *BitSet {
	return &BitSet{data: data}
}

func (b *BitSet) Data() uint8 { return b.data }

func (b *BitSet) SetData(data uint8) { b.data = data }

func (b *BitSet) IsSet(flag uint8) bool { return b.data&flag == flag }

func (b *BitSet) Set(flag uint8) { b.data |= flag }

func (b *BitSet) Unset(flag uint8) { b.data &^= flag }

// ResetLeasable implements pool.Leasable
func (b *BitSet) ResetLeasable() { b.data = 0 }

func (b *BitSet) String() string { return fmt.Sprintf("%08b", b.data) }

// --------------------------------------------------------------------------
// Expiration and eviction
// --------------------------------------------------------------------------

// ExpirationKind discriminates ExpirationHint
type ExpirationKind uint8

const (
	ExpireNone ExpirationKind = iota
	ExpireFixed
	ExpireIdle
	ExpireKeyDependency
	ExpireAggregate
)

func (k ExpirationKind) String() string {
	switch k {
	case ExpireNone:
		return "None"
	case ExpireFixed:
		return "Fixed"
	case ExpireIdle:
		return "Idle"
	case ExpireKeyDependency:
		return "KeyDependency"
	case ExpireAggregate:
		return "Aggregate"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// ExpirationHint describes when an entry expires.
//
//   - Fixed: at Absolute
//   - Idle: Sliding after the last access
//   - KeyDependency: when any of Keys is removed or updated
//   - Aggregate: when any of Hints fires
type ExpirationHint struct {
	Kind     ExpirationKind
	Absolute time.Time
	Sliding  time.Duration
	Keys     []string
	Hints    []*ExpirationHint
	// Resync asks the engine to reload the item through read-through on expiry
	Resync bool
}

// ResetLeasable implements pool.Leasable. Nested hints are dropped, they are
// owned by the scope that leased them.
func (h *ExpirationHint) ResetLeasable() {
	h.Kind = ExpireNone
	h.Absolute = time.Time{}
	h.Sliding = 0
	h.Keys = h.Keys[:0]
	h.Hints = h.Hints[:0]
	h.Resync = false
}

// IsNone reports whether the hint never expires
func (h *ExpirationHint) IsNone() bool {
	return h == nil || h.Kind == ExpireNone
}

// CopyTo deep copies the hint into dst
func (h *ExpirationHint) CopyTo(dst *ExpirationHint) {
	dst.Kind = h.Kind
	dst.Absolute = h.Absolute
	dst.Sliding = h.Sliding
	dst.Resync = h.Resync
	dst.Keys = append(dst.Keys[:0], h.Keys...)
	dst.Hints = dst.Hints[:0]
	for _, child := range h.Hints {
		c := &ExpirationHint{}
		child.CopyTo(c)
		dst.Hints = append(dst.Hints, c)
	}
}

func (h *ExpirationHint) String() string {
	if h == nil {
		return "None"
	}
	switch h.Kind {
	case ExpireFixed:
		return "Fixed(" + h.Absolute.UTC().Format(time.RFC3339) + ")"
	case ExpireIdle:
		return "Idle(" + h.Sliding.String() + ")"
	case ExpireKeyDependency:
		return fmt.Sprintf("KeyDependency(%v)", h.Keys)
	case ExpireAggregate:
		return fmt.Sprintf("Aggregate(%v)", h.Hints)
	default:
		return h.Kind.String()
	}
}

// EvictionPriority is the eviction hint of an entry
type EvictionPriority uint8

const (
	PriorityLow EvictionPriority = iota + 1
	PriorityBelowNormal
	PriorityNormal
	PriorityAboveNormal
	PriorityHigh
	PriorityNotRemovable
	PriorityDefault
)

// --------------------------------------------------------------------------
// Values
// --------------------------------------------------------------------------

// UserBinaryObjectChunkSize is the size of one chunk of a UserBinaryObject
const UserBinaryObjectChunkSize = 80 * 1024

// UserBinaryObject is an opaque client value split into chunks so that large
// values never need one contiguous buffer on the wire.
type UserBinaryObject struct {
	chunks [][]byte
	size   int
}

// SetChunks takes over already chunked data
func (u *UserBinaryObject) SetChunks(chunks [][]byte) {
	u.chunks = append(u.chunks[:0], chunks...)
	u.size = 0
	for _, c := range chunks {
		u.size += len(c)
	}
}

// SetData splits data into chunks
func (u *UserBinaryObject) SetData(data []byte) {
	u.chunks = u.chunks[:0]
	u.size = len(data)
	for len(data) > UserBinaryObjectChunkSize {
		u.chunks = append(u.chunks, data[:UserBinaryObjectChunkSize])
		data = data[UserBinaryObjectChunkSize:]
	}
	if len(data) > 0 {
		u.chunks = append(u.chunks, data)
	}
}

// Chunks returns the chunks, callers must not modify them
func (u *UserBinaryObject) Chunks() [][]byte { return u.chunks }

// Size returns the total length
func (u *UserBinaryObject) Size() int { return u.size }

// Bytes returns a contiguous copy of the value
func (u *UserBinaryObject) Bytes() []byte {
	out := make([]byte, 0, u.size)
	for _, c := range u.chunks {
		out = append(out, c...)
	}
	return out
}

// ResetLeasable implements pool.Leasable
func (u *UserBinaryObject) ResetLeasable() {
	for i := range u.chunks {
		u.chunks[i] = nil
	}
	u.chunks = u.chunks[:0]
	u.size = 0
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

// DataFilter selects how much of an item travels with an event
type DataFilter uint8

const (
	DataFilterNone DataFilter = iota
	DataFilterMetadata
	DataFilterDataWithMetadata
)

// DataFilterFromWire maps the wire value to a filter, -1 means None
func DataFilterFromWire(v int16) DataFilter {
	if v < 0 || v > int16(DataFilterDataWithMetadata) {
		return DataFilterNone
	}
	return DataFilter(v)
}

func (f DataFilter) String() string {
	switch f {
	case DataFilterNone:
		return "None"
	case DataFilterMetadata:
		return "Metadata"
	case DataFilterDataWithMetadata:
		return "DataWithMetadata"
	default:
		return fmt.Sprintf("Unknown(%d)", f)
	}
}

// NoCallback is the wire value of an unset callback id
const NoCallback int16 = -1

// Notifications binds the callbacks a client registered for an item
type Notifications struct {
	ClientID                          string
	RequestID                         int64
	RemoveCallbackID                  int16
	UpdateCallbackID                  int16
	AsyncOperationCompletedCallbackID int16
	DsItemAddedCallbackID             int16
	UpdateDataFilter                  DataFilter
	RemoveDataFilter                  DataFilter
}

// Clone returns a copy of n (nil safe)
func (n *Notifications) Clone() *Notifications {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// CallbackInfo identifies one registered callback of a client
type CallbackInfo struct {
	ClientID   string
	CallbackID int16
	DataFilter DataFilter
}

// --------------------------------------------------------------------------
// Entries
// --------------------------------------------------------------------------

// CacheEntry is the value handed to write operations. It is pooled, engines
// must copy what they keep.
type CacheEntry struct {
	Value         *UserBinaryObject
	Flags         *BitSet
	Expiration    *ExpirationHint
	Priority      EvictionPriority
	Group         string
	Type          string
	Tags          []string
	NamedTags     map[string]any
	Notifications *Notifications
	// ProviderName and ResyncProviderName select the read/write-through providers
	ProviderName       string
	ResyncProviderName string
}

// ResetLeasable implements pool.Leasable
func (e *CacheEntry) ResetLeasable() {
	e.Value = nil
	e.Flags = nil
	e.Expiration = nil
	e.Priority = 0
	e.Group = ""
	e.Type = ""
	e.Tags = e.Tags[:0]
	for k := range e.NamedTags {
		delete(e.NamedTags, k)
	}
	e.Notifications = nil
	e.ProviderName = ""
	e.ResyncProviderName = ""
}

// Item is a read result. Unlike CacheEntry it is owned by the caller.
type Item struct {
	Key          string
	Value        []byte
	Flags        uint8
	Version      uint64
	Type         string
	Group        string
	Tags         []string
	NamedTags    map[string]any
	Priority     EvictionPriority
	AbsExpiry    time.Time
	Sliding      time.Duration
	CreationTime time.Time
	LastModified time.Time
	Lock         *LockHandle
}

// --------------------------------------------------------------------------
// Locking
// --------------------------------------------------------------------------

// LockAccessType tells a read or write how to treat item locks
type LockAccessType uint8

const (
	LockDefault LockAccessType = iota + 1
	LockAcquire
	LockDontAcquire
	LockRelease
	LockDontRelease
	LockIgnore
	LockCompareVersion
	LockGetVersion
	LockMatchVersion
	LockPreserveVersion
)

func (t LockAccessType) String() string {
	switch t {
	case LockDefault:
		return "Default"
	case LockAcquire:
		return "Acquire"
	case LockDontAcquire:
		return "DontAcquire"
	case LockRelease:
		return "Release"
	case LockDontRelease:
		return "DontRelease"
	case LockIgnore:
		return "IgnoreLock"
	case LockCompareVersion:
		return "CompareVersion"
	case LockGetVersion:
		return "GetVersion"
	case LockMatchVersion:
		return "MatchVersion"
	case LockPreserveVersion:
		return "PreserveVersion"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// LockHandle identifies a held lock
type LockHandle struct {
	LockID   string
	LockDate time.Time
}

// --------------------------------------------------------------------------
// Bulk results
// --------------------------------------------------------------------------

// KeyResult is the outcome of a bulk operation for one key
type KeyResult struct {
	Version uint64
	Item    *Item
	Found   bool
	Err     error
}

// BulkResult maps every key of a bulk request to its outcome
type BulkResult map[string]KeyResult

// Failed returns the number of keys that failed
func (r BulkResult) Failed() int {
	n := 0
	for _, kr := range r {
		if kr.Err != nil {
			n++
		}
	}
	return n
}

// --------------------------------------------------------------------------
// Queries, tags and enumeration
// --------------------------------------------------------------------------

// TagComparison selects how tags of a request match item tags
type TagComparison uint8

const (
	TagAll TagComparison = iota
	TagAny
	TagByTag
)

// ContinuousQuery describes the registration of a continuous query
type ContinuousQuery struct {
	ClientID         string
	ClientUniqueID   string
	NotifyAdd        bool
	NotifyUpdate     bool
	NotifyRemove     bool
	AddDataFilter    DataFilter
	UpdateDataFilter DataFilter
	RemoveDataFilter DataFilter
}

// QueryResult is the outcome of Search, SearchEntries and their CQ variants
type QueryResult struct {
	Keys    []string
	Entries []*Item
	// CQID is the server unique id of a registered continuous query
	CQID string
}

// ReaderResultSet is one chunk of an open reader
type ReaderResultSet struct {
	ReaderID  string
	NodeAddr  string
	NextIndex int
	Rows      []*Item
	IsLast    bool
	CQID      string
}

// EnumerationPointer identifies the position of a cursor over the cache keys
type EnumerationPointer struct {
	ID       string
	ChunkID  int
	Disposed bool
}

// EnumerationChunk is one chunk of keys produced by GetNextChunk
type EnumerationChunk struct {
	Pointer EnumerationPointer
	Keys    []string
	IsLast  bool
}

// PollResult holds the events queued for a polling client
type PollResult struct {
	AddedKeys   []string
	UpdatedKeys []string
	RemovedKeys []string
}

// Len returns the number of events
func (p *PollResult) Len() int {
	return len(p.AddedKeys) + len(p.UpdatedKeys) + len(p.RemovedKeys)
}

// --------------------------------------------------------------------------
// Messaging
// --------------------------------------------------------------------------

// TopicOperationType selects the topic operation
type TopicOperationType uint8

const (
	TopicCreate TopicOperationType = iota
	TopicGet
	TopicRemove
	TopicSubscribe
	TopicUnsubscribe
)

func (t TopicOperationType) String() string {
	switch t {
	case TopicCreate:
		return "Create"
	case TopicGet:
		return "Get"
	case TopicRemove:
		return "Remove"
	case TopicSubscribe:
		return "Subscribe"
	case TopicUnsubscribe:
		return "Unsubscribe"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// SubscriptionPolicy tells how messages are shared among subscribers
type SubscriptionPolicy uint8

const (
	SubscriptionShared SubscriptionPolicy = iota
	SubscriptionExclusive
)

// SubscriptionInfo identifies a topic subscription of a client
type SubscriptionInfo struct {
	SubscriptionID string
	ClientID       string
	Policy         SubscriptionPolicy
}

// TopicOperation is the argument of ICache.TopicOperation
type TopicOperation struct {
	Type         TopicOperationType
	Topic        string
	Subscription *SubscriptionInfo
}

// DeliveryOption of a published message
type DeliveryOption uint8

const (
	DeliverAny DeliveryOption = iota
	DeliverAll
)

// TopicMessage is a message published to a topic
type TopicMessage struct {
	ID             string
	Topic          string
	Payload        []byte
	Flags          uint8
	Delivery       DeliveryOption
	CreationTime   time.Time
	ExpirationTime time.Time
}

// --------------------------------------------------------------------------
// Processing
// --------------------------------------------------------------------------

// MapReduceTask is a submitted map reduce task
type MapReduceTask struct {
	TaskID   string
	Mapper   []byte
	Combiner []byte
	Reducer  []byte
	Query    string
	Params   map[string]any
}

// OperationMode is the availability of an engine
type OperationMode uint8

const (
	ModeOnline OperationMode = iota
	ModeOffline
)

func (m OperationMode) String() string {
	if m == ModeOffline {
		return "OFFLINE"
	}
	return "ONLINE"
}

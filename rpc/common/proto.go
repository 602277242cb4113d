package common

import (
	"github.com/ValentinKolb/dCache/lib/dialect"
	"github.com/ValentinKolb/dCache/lib/query"
)

// --------------------------------------------------------------------------
// Command Envelope
// --------------------------------------------------------------------------

// Command is the request envelope every client call is sent in. The typed
// request of the command travels serialized in Payload, which of the request
// structs below it holds depends on Type.
type Command struct {
	Type      CommandType `json:"type"`
	RequestID int64       `json:"requestId"`
	CommandID int32       `json:"commandId,omitempty"`

	// CommandVersion below 1 binds the operation to the server view
	CommandVersion    int32  `json:"commandVersion,omitempty"`
	MethodOverload    int32  `json:"methodOverload,omitempty"`
	ClientLastViewID  int64  `json:"clientLastViewId,omitempty"`
	IntendedRecipient string `json:"intendedRecipient,omitempty"`
	IsRetryCommand    bool   `json:"isRetryCommand,omitempty"`
	// AcknowledgementID is the ledger id of the request, 0 if unacknowledged
	AcknowledgementID int64 `json:"acknowledgementId,omitempty"`

	Payload []byte `json:"payload,omitempty"`
}

// NoRequestID is the request id of a call that expects no response
const NoRequestID int64 = -1

// --------------------------------------------------------------------------
// Session requests
// --------------------------------------------------------------------------

// InitRequest opens a session. Used for: Init
type InitRequest struct {
	ClientID      string `json:"clientId"`
	ClientVersion int32  `json:"clientVersion"`
	IsDotNet      bool   `json:"isDotNet"`
	// OperationTimeoutMs of -1 selects the server default
	OperationTimeoutMs int64  `json:"operationTimeoutMs"`
	CacheName          string `json:"cacheName"`
	ClientIP           string `json:"clientIp,omitempty"`
}

// DefaultOperationTimeout is the OperationTimeoutMs that selects the server default
const DefaultOperationTimeout int64 = -1

// InquiryRequest asks the ledger about an earlier request. Used for: InquiryRequest
type InquiryRequest struct {
	RequestID int64 `json:"requestId"`
}

// --------------------------------------------------------------------------
// Item requests
// --------------------------------------------------------------------------

// Wire values of the expiration fields besides a tick count
const (
	ExpirationNone          int64 = 0
	ExpirationDefault       int64 = 1
	ExpirationDefaultLonger int64 = 2
)

// ExpirationSpec is the wire form of an expiration hint. Absolute is in
// ticks, Sliding in 100ns units, both may also hold one of the Expiration
// sentinels.
type ExpirationSpec struct {
	Absolute       int64    `json:"absolute,omitempty"`
	Sliding        int64    `json:"sliding,omitempty"`
	DependencyKeys []string `json:"dependencyKeys,omitempty"`
	Resync         bool     `json:"resync,omitempty"`
}

// ItemRequest carries one item. Used for: Add, Insert (and every item of BulkAdd, BulkInsert)
type ItemRequest struct {
	Key        string            `json:"key"`
	Value      [][]byte          `json:"value,omitempty"`
	Flags      uint8             `json:"flags,omitempty"`
	Expiration ExpirationSpec    `json:"expiration"`
	Priority   int32             `json:"priority,omitempty"`
	Group      string            `json:"group,omitempty"`
	Type       string            `json:"type,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	NamedTags  dialect.NamedTags `json:"namedTags"`

	// Callback ids are -1 when unset, data filters -1 means None
	UpdateCallbackID      int16 `json:"updateCallbackId"`
	RemoveCallbackID      int16 `json:"removeCallbackId"`
	DsItemAddedCallbackID int16 `json:"dsItemAddedCallbackId"`
	UpdateDataFilter      int16 `json:"updateDataFilter"`
	RemoveDataFilter      int16 `json:"removeDataFilter"`

	IsAsync        bool   `json:"isAsync,omitempty"`
	LockID         string `json:"lockId,omitempty"`
	LockAccessType uint8  `json:"lockAccessType,omitempty"`
	ItemVersion    uint64 `json:"itemVersion,omitempty"`

	ProviderName       string `json:"providerName,omitempty"`
	ResyncProviderName string `json:"resyncProviderName,omitempty"`
	ClientID           string `json:"clientId,omitempty"`
}

// NewItemRequest creates an item request without callbacks
func NewItemRequest(key string, value []byte) *ItemRequest {
	return &ItemRequest{
		Key:                   key,
		Value:                 [][]byte{value},
		UpdateCallbackID:      -1,
		RemoveCallbackID:      -1,
		DsItemAddedCallbackID: -1,
		UpdateDataFilter:      -1,
		RemoveDataFilter:      -1,
	}
}

// KeyRequest addresses one key. Used for: Get, GetCacheItem, Remove, Delete,
// Lock, Unlock, IsLocked, Contains
type KeyRequest struct {
	Key            string `json:"key"`
	Flags          uint8  `json:"flags,omitempty"`
	LockID         string `json:"lockId,omitempty"`
	LockAccessType uint8  `json:"lockAccessType,omitempty"`
	LockTimeoutMs  int64  `json:"lockTimeoutMs,omitempty"`
	Version        uint64 `json:"version,omitempty"`
	IsAsync        bool   `json:"isAsync,omitempty"`
	ThreadID       int32  `json:"threadId,omitempty"`
	ProviderName   string `json:"providerName,omitempty"`
	// IsPreemptive releases a lock regardless of its owner (Unlock)
	IsPreemptive bool `json:"isPreemptive,omitempty"`
}

// KeysRequest addresses several keys. Used for: BulkGet, BulkGetCacheItem,
// BulkRemove, BulkDelete, ContainsBulk, Touch, Clear
type KeysRequest struct {
	Keys         []string `json:"keys,omitempty"`
	Flags        uint8    `json:"flags,omitempty"`
	ProviderName string   `json:"providerName,omitempty"`
}

// BulkItemRequest carries several items. Used for: BulkAdd, BulkInsert
type BulkItemRequest struct {
	Items []ItemRequest `json:"items"`
}

// --------------------------------------------------------------------------
// Query requests
// --------------------------------------------------------------------------

// CQSpec describes the continuous query to register with a search
type CQSpec struct {
	ClientUniqueID   string `json:"clientUniqueId"`
	NotifyAdd        bool   `json:"notifyAdd,omitempty"`
	NotifyUpdate     bool   `json:"notifyUpdate,omitempty"`
	NotifyRemove     bool   `json:"notifyRemove,omitempty"`
	AddDataFilter    int16  `json:"addDataFilter"`
	UpdateDataFilter int16  `json:"updateDataFilter"`
	RemoveDataFilter int16  `json:"removeDataFilter"`
}

// QueryRequest runs a query. Used for: Search, SearchEntries, SearchCQ,
// SearchEntriesCQ, ExecuteReader, ExecuteReaderCQ, DeleteQuery
type QueryRequest struct {
	Query     string        `json:"query"`
	Params    []query.Param `json:"params,omitempty"`
	GetData   bool          `json:"getData,omitempty"`
	ChunkSize int32         `json:"chunkSize,omitempty"`
	CQ        *CQSpec       `json:"cq,omitempty"`
}

// ReaderRequest addresses an open reader. Used for: GetReaderChunk, DisposeReader
type ReaderRequest struct {
	ReaderID  string `json:"readerId"`
	NextIndex int32  `json:"nextIndex,omitempty"`
}

// CQRequest addresses a registered continuous query. Used for: UnregisterCQ
type CQRequest struct {
	CQID           string `json:"cqId"`
	ClientUniqueID string `json:"clientUniqueId"`
}

// TagRequest selects items by tag. Used for: GetByTag, GetKeysByTag, RemoveByTag
type TagRequest struct {
	Tags       []string `json:"tags"`
	Comparison uint8    `json:"comparison"`
}

// --------------------------------------------------------------------------
// Notification requests
// --------------------------------------------------------------------------

// NotificationRequest (un)registers key callbacks. Used for:
// RegisterKeyNotification, UnregisterKeyNotification,
// RegisterBulkKeyNotification, UnregisterBulkKeyNotification
type NotificationRequest struct {
	Keys             []string `json:"keys"`
	UpdateCallbackID int16    `json:"updateCallbackId"`
	RemoveCallbackID int16    `json:"removeCallbackId"`
	DataFilter       int16    `json:"dataFilter"`
}

// --------------------------------------------------------------------------
// Messaging requests
// --------------------------------------------------------------------------

// TopicRequest addresses a topic. Used for: GetTopic, RemoveTopic,
// SubscribeTopic, UnsubscribeTopic, MessageCount
type TopicRequest struct {
	Topic          string `json:"topic"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Policy         uint8  `json:"policy,omitempty"`
	// Create makes GetTopic create a missing topic
	Create bool `json:"create,omitempty"`
}

// PublishRequest publishes a message. Used for: MessagePublish
type PublishRequest struct {
	Topic        string `json:"topic"`
	MessageID    string `json:"messageId,omitempty"`
	Payload      []byte `json:"payload,omitempty"`
	Flags        uint8  `json:"flags,omitempty"`
	Delivery     uint8  `json:"delivery,omitempty"`
	ExpirationMs int64  `json:"expirationMs,omitempty"`
}

// GetMessageRequest fetches the messages assigned to a subscription. Used for: GetMessage
type GetMessageRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// AckRequest acknowledges messages by topic. Used for: MessageAcknowledgment
type AckRequest struct {
	Acks map[string][]string `json:"acks"`
}

// --------------------------------------------------------------------------
// Processing requests
// --------------------------------------------------------------------------

// EnumRequest moves an enumeration pointer. Used for: GetNextChunk
type EnumRequest struct {
	PointerID string `json:"pointerId,omitempty"`
	ChunkID   int32  `json:"chunkId"`
	Disposed  bool   `json:"disposed,omitempty"`
	ChunkSize int32  `json:"chunkSize,omitempty"`
}

// MapReduceRequest submits a task. Used for: SubmitMapReduceTask
type MapReduceRequest struct {
	TaskID   string        `json:"taskId"`
	Mapper   []byte        `json:"mapper,omitempty"`
	Combiner []byte        `json:"combiner,omitempty"`
	Reducer  []byte        `json:"reducer,omitempty"`
	Query    string        `json:"query,omitempty"`
	Params   []query.Param `json:"params,omitempty"`
}

// EntryProcessorRequest runs a processor over keys. Used for: InvokeEntryProcessor
type EntryProcessorRequest struct {
	Keys      []string `json:"keys"`
	Processor []byte   `json:"processor"`
}

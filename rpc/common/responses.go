package common

// --------------------------------------------------------------------------
// Response Header
// --------------------------------------------------------------------------

// ResponseHeader is carried by every response. Standalone packets carry it
// on the body, wrapped packets on the Response envelope.
type ResponseHeader struct {
	RequestID         int64  `json:"requestId"`
	CommandID         int32  `json:"commandId,omitempty"`
	IntendedRecipient string `json:"intendedRecipient,omitempty"`
	// SequenceID and NumberOfChunks number the packets of a chunked response
	SequenceID     int32 `json:"sequenceId,omitempty"`
	NumberOfChunks int32 `json:"numberOfChunks,omitempty"`
}

// Head returns the header (implements Headed)
func (h *ResponseHeader) Head() *ResponseHeader { return h }

// Headed is implemented by every response body
type Headed interface {
	Head() *ResponseHeader
}

// --------------------------------------------------------------------------
// Item data
// --------------------------------------------------------------------------

// ItemData is the wire form of a cache item. Times are in ticks, Sliding in
// 100ns units.
type ItemData struct {
	Key          string            `json:"key"`
	Value        [][]byte          `json:"value,omitempty"`
	Flags        uint8             `json:"flags,omitempty"`
	Version      uint64            `json:"version,omitempty"`
	Type         string            `json:"type,omitempty"`
	Group        string            `json:"group,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	NamedTags    map[string]string `json:"namedTags,omitempty"`
	Priority     int32             `json:"priority,omitempty"`
	Absolute     int64             `json:"absolute,omitempty"`
	Sliding      int64             `json:"sliding,omitempty"`
	CreationTime int64             `json:"creationTime,omitempty"`
	LastModified int64             `json:"lastModified,omitempty"`
}

// Bytes returns the value as one slice
func (d *ItemData) Bytes() []byte {
	if len(d.Value) == 1 {
		return d.Value[0]
	}
	var out []byte
	for _, c := range d.Value {
		out = append(out, c...)
	}
	return out
}

// MessageData is the wire form of a topic message
type MessageData struct {
	ID             string `json:"id"`
	Payload        []byte `json:"payload,omitempty"`
	Flags          uint8  `json:"flags,omitempty"`
	Delivery       uint8  `json:"delivery,omitempty"`
	CreationTime   int64  `json:"creationTime,omitempty"`
	ExpirationTime int64  `json:"expirationTime,omitempty"`
}

// KeyOutcome is the result of a bulk operation for one key
type KeyOutcome struct {
	Key     string               `json:"key"`
	Version uint64               `json:"version,omitempty"`
	Found   bool                 `json:"found,omitempty"`
	Item    *ItemData            `json:"item,omitempty"`
	Error   *ExceptionDescriptor `json:"error,omitempty"`
}

// --------------------------------------------------------------------------
// Response bodies
// --------------------------------------------------------------------------

// InitResponse answers Init
type InitResponse struct {
	ResponseHeader
	CacheName              string `json:"cacheName"`
	CacheID                uint64 `json:"cacheId"`
	ServerVersion          string `json:"serverVersion"`
	RequestTimeoutMs       int64  `json:"requestTimeoutMs"`
	SupportAcknowledgement bool   `json:"supportAcknowledgement"`
	IsDotNet               bool   `json:"isDotNet"`
}

// ProductVersionResponse answers GetProductVersion
type ProductVersionResponse struct {
	ResponseHeader
	Version string `json:"version"`
}

// OptimalServerResponse answers GetOptimalServer
type OptimalServerResponse struct {
	ResponseHeader
	Address string `json:"address"`
}

// InquiryResponse answers InquiryRequest. Packets replays the stored response
// of an executed request.
type InquiryResponse struct {
	ResponseHeader
	Status  RequestStatus `json:"status"`
	Packets [][]byte      `json:"packets,omitempty"`
}

// BoolResponse answers every command whose only result is a flag. Used for:
// Ping, Dispose, Delete, Unlock, Contains, Touch, Clear, DisposeReader,
// UnregisterCQ, all notification registrations, all topic operations,
// MessagePublish, MessageAcknowledgment, SubmitMapReduceTask
type BoolResponse struct {
	ResponseHeader
	Value bool `json:"value"`
}

// CountResponse answers Count, DeleteQuery, RemoveByTag and MessageCount
type CountResponse struct {
	ResponseHeader
	Count int64 `json:"count"`
}

// VersionResponse answers Add and Insert
type VersionResponse struct {
	ResponseHeader
	Version uint64 `json:"version"`
}

// ItemResponse answers Get, GetCacheItem and Remove. For a lock conflict Found
// is false and the lock fields describe the held lock.
type ItemResponse struct {
	ResponseHeader
	Found    bool      `json:"found"`
	Item     *ItemData `json:"item,omitempty"`
	LockID   string    `json:"lockId,omitempty"`
	LockTime int64     `json:"lockTime,omitempty"`
	Version  uint64    `json:"version,omitempty"`
}

// LockResponse answers Lock and IsLocked
type LockResponse struct {
	ResponseHeader
	Locked   bool   `json:"locked"`
	LockID   string `json:"lockId,omitempty"`
	LockTime int64  `json:"lockTime,omitempty"`
}

// ExpirationResponse answers GetExpiration with the server defaults in ms
type ExpirationResponse struct {
	ResponseHeader
	AbsoluteMs       int64 `json:"absoluteMs"`
	AbsoluteLongerMs int64 `json:"absoluteLongerMs"`
	SlidingMs        int64 `json:"slidingMs"`
	SlidingLongerMs  int64 `json:"slidingLongerMs"`
}

// BulkResponse answers the bulk item commands and InvokeEntryProcessor.
// BulkGet responses may be chunked.
type BulkResponse struct {
	ResponseHeader
	Results []KeyOutcome `json:"results"`
}

// ContainsBulkResponse answers ContainsBulk
type ContainsBulkResponse struct {
	ResponseHeader
	Exists map[string]bool `json:"exists"`
}

// KeysResponse answers GetKeysByTag
type KeysResponse struct {
	ResponseHeader
	Keys []string `json:"keys"`
}

// QueryResponse answers the search commands and GetByTag
type QueryResponse struct {
	ResponseHeader
	Keys  []string   `json:"keys,omitempty"`
	Items []ItemData `json:"items,omitempty"`
	CQID  string     `json:"cqId,omitempty"`
}

// ReaderResponse answers ExecuteReader, ExecuteReaderCQ and GetReaderChunk.
// The rows of one reader chunk may be split over several packets.
type ReaderResponse struct {
	ResponseHeader
	ReaderID  string     `json:"readerId"`
	NodeAddr  string     `json:"nodeAddr,omitempty"`
	NextIndex int32      `json:"nextIndex"`
	Rows      []ItemData `json:"rows,omitempty"`
	IsLast    bool       `json:"isLast"`
	CQID      string     `json:"cqId,omitempty"`
}

// PollResponse answers Poll
type PollResponse struct {
	ResponseHeader
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// MessagesResponse answers GetMessage, messages are grouped by topic
type MessagesResponse struct {
	ResponseHeader
	Messages map[string][]MessageData `json:"messages,omitempty"`
}

// EnumResponse answers GetNextChunk
type EnumResponse struct {
	ResponseHeader
	PointerID string   `json:"pointerId"`
	ChunkID   int32    `json:"chunkId"`
	Disposed  bool     `json:"disposed,omitempty"`
	Keys      []string `json:"keys,omitempty"`
	IsLast    bool     `json:"isLast"`
}

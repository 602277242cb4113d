package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Command Type Definition
// --------------------------------------------------------------------------

// CommandType identifies the operation a Command asks for
type CommandType uint16

const (
	CmdUnknown CommandType = iota

	// Session

	CmdInit
	CmdGetProductVersion
	CmdPing
	CmdDispose
	CmdGetOptimalServer
	CmdInquiryRequest

	// Single key

	CmdAdd
	CmdInsert
	CmdGet
	CmdGetCacheItem
	CmdRemove
	CmdDelete
	CmdLock
	CmdUnlock
	CmdIsLocked
	CmdContains
	CmdTouch
	CmdGetExpiration

	// Bulk

	CmdBulkAdd
	CmdBulkInsert
	CmdBulkGet
	CmdBulkGetCacheItem
	CmdBulkRemove
	CmdBulkDelete
	CmdContainsBulk

	// Whole cache

	CmdCount
	CmdClear

	// Query

	CmdSearch
	CmdSearchEntries
	CmdSearchCQ
	CmdSearchEntriesCQ
	CmdUnregisterCQ
	CmdExecuteReader
	CmdExecuteReaderCQ
	CmdGetReaderChunk
	CmdDisposeReader
	CmdDeleteQuery

	// Tags

	CmdGetByTag
	CmdGetKeysByTag
	CmdRemoveByTag

	// Notifications

	CmdRegisterKeyNotification
	CmdUnregisterKeyNotification
	CmdRegisterBulkKeyNotification
	CmdUnregisterBulkKeyNotification
	CmdRegisterPollingNotification
	CmdPoll

	// Messaging

	CmdGetTopic
	CmdRemoveTopic
	CmdSubscribeTopic
	CmdUnsubscribeTopic
	CmdMessagePublish
	CmdGetMessage
	CmdMessageAcknowledgment
	CmdMessageCount

	// Processing

	CmdGetNextChunk
	CmdSubmitMapReduceTask
	CmdInvokeEntryProcessor

	commandTypeCount
)

var commandTypeNames = [commandTypeCount]string{
	"unknown",
	"init", "getProductVersion", "ping", "dispose", "getOptimalServer", "inquiryRequest",
	"add", "insert", "get", "getCacheItem", "remove", "delete", "lock", "unlock", "isLocked",
	"contains", "touch", "getExpiration",
	"bulkAdd", "bulkInsert", "bulkGet", "bulkGetCacheItem", "bulkRemove", "bulkDelete", "containsBulk",
	"count", "clear",
	"search", "searchEntries", "searchCQ", "searchEntriesCQ", "unregisterCQ", "executeReader",
	"executeReaderCQ", "getReaderChunk", "disposeReader", "deleteQuery",
	"getByTag", "getKeysByTag", "removeByTag",
	"registerKeyNotification", "unregisterKeyNotification", "registerBulkKeyNotification",
	"unregisterBulkKeyNotification", "registerPollingNotification", "poll",
	"getTopic", "removeTopic", "subscribeTopic", "unsubscribeTopic", "messagePublish", "getMessage",
	"messageAcknowledgment", "messageCount",
	"getNextChunk", "submitMapReduceTask", "invokeEntryProcessor",
}

var commandTypesByName = func() map[string]CommandType {
	m := make(map[string]CommandType, commandTypeCount)
	for i, name := range commandTypeNames {
		m[name] = CommandType(i)
	}
	return m
}()

// String returns the string representation of a CommandType.
func (t CommandType) String() string {
	if t < commandTypeCount {
		return commandTypeNames[t]
	}
	return "unknown"
}

// Valid reports whether t is a known command type
func (t CommandType) Valid() bool {
	return t > CmdUnknown && t < commandTypeCount
}

// ResponseType returns the response type answering t
func (t CommandType) ResponseType() ResponseType {
	if !t.Valid() {
		return RespUnknown
	}
	return ResponseType(t) + respOffset
}

// ParseCommandType resolves the string form of a command type
func ParseCommandType(s string) (CommandType, error) {
	if t, ok := commandTypesByName[s]; ok {
		return t, nil
	}
	return CmdUnknown, fmt.Errorf("unknown command type: %s", s)
}

// CommandTypes returns every valid command type in declaration order
func CommandTypes() []CommandType {
	out := make([]CommandType, 0, commandTypeCount-1)
	for t := CmdUnknown + 1; t < commandTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

// MarshalJSON implements the json.Marshaller interface for CommandType.
// This allows CommandType to be serialized as a string in JSON.
func (t CommandType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for CommandType.
func (t *CommandType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCommandType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// --------------------------------------------------------------------------
// Response Type Definition
// --------------------------------------------------------------------------

// ResponseType is the discriminant of a response body. Every command type has
// exactly one response type, RespException answers any failed command.
type ResponseType uint16

const (
	RespUnknown ResponseType = iota
	RespException

	// respOffset maps CommandType values onto the response types following
	// RespException
	respOffset = RespException
)

// CommandType returns the command type a response type answers
func (t ResponseType) CommandType() CommandType {
	if t <= RespException {
		return CmdUnknown
	}
	ct := CommandType(t - respOffset)
	if !ct.Valid() {
		return CmdUnknown
	}
	return ct
}

// String returns the string representation of a ResponseType.
func (t ResponseType) String() string {
	switch t {
	case RespUnknown:
		return "unknown"
	case RespException:
		return "exception"
	}
	if ct := t.CommandType(); ct != CmdUnknown {
		return ct.String()
	}
	return "unknown"
}

// ParseResponseType resolves the string form of a response type
func ParseResponseType(s string) (ResponseType, error) {
	switch s {
	case "exception":
		return RespException, nil
	case "unknown":
		return RespUnknown, nil
	}
	ct, err := ParseCommandType(s)
	if err != nil {
		return RespUnknown, fmt.Errorf("unknown response type: %s", s)
	}
	return ct.ResponseType(), nil
}

// MarshalJSON implements the json.Marshaller interface for ResponseType.
func (t ResponseType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for ResponseType.
func (t *ResponseType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseResponseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// --------------------------------------------------------------------------
// Request status (acknowledgement ledger)
// --------------------------------------------------------------------------

// RequestStatus is the ledger state of an acknowledged request
type RequestStatus uint8

const (
	RequestNotReceived RequestStatus = iota
	RequestReceivedAndUnderProcessing
	RequestReceivedAndExecuted
	RequestReceivedWithError
)

func (s RequestStatus) String() string {
	switch s {
	case RequestNotReceived:
		return "NotReceived"
	case RequestReceivedAndUnderProcessing:
		return "ReceivedAndUnderProcessing"
	case RequestReceivedAndExecuted:
		return "ReceivedAndExecuted"
	case RequestReceivedWithError:
		return "ReceivedWithError"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

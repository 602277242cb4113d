package command

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/lib/pool"
	"github.com/ValentinKolb/dCache/lib/query"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
)

// ForcedViewID is the view id of operations that must run on the server view
const ForcedViewID int64 = -5

// versionEpoch is the origin of the time based item version fallback
var versionEpoch = time.Date(2016, time.January, 1, 0, 0, 0, 0, time.UTC)

// FallbackItemVersion returns the version assigned to writes that do not
// carry one: milliseconds since 2016-01-01 UTC
func FallbackItemVersion(now time.Time) uint64 {
	return uint64(now.Sub(versionEpoch) / time.Millisecond)
}

// Call is the state of one command execution handed to the parse and execute
// functions of a Descriptor
type Call struct {
	Inst    *Instance
	Session *Session
	Cmd     *common.Command
	// Scope releases every lease taken during the call
	Scope pool.Scope

	ctx     context.Context
	typ     common.CommandType
	packets [][]byte
}

// Context returns the context the command runs under
func (c *Call) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Cache returns the cache bound to the session
func (c *Call) Cache() cache.ICache {
	return c.Session.Cache
}

// Decode deserializes the payload of the command into v
func (c *Call) Decode(v any) error {
	if len(c.Cmd.Payload) == 0 {
		return errors.Newf("%s request without payload", c.typ)
	}
	if err := c.Inst.Codec.Deserialize(c.Cmd.Payload, v); err != nil {
		return errors.Wrapf(err, "decode %s request", c.typ)
	}
	return nil
}

// --------------------------------------------------------------------------
// Responses
// --------------------------------------------------------------------------

// Respond stamps the header of body and queues it in the form the client
// version understands
func (c *Call) Respond(body common.Headed) error {
	return c.respond(c.typ.ResponseType(), body)
}

func (c *Call) respond(typ common.ResponseType, body common.Headed) error {
	head := body.Head()
	head.RequestID = c.Cmd.RequestID
	head.CommandID = c.Cmd.CommandID
	head.IntendedRecipient = c.Cmd.IntendedRecipient

	var version int32
	if c.Session != nil {
		version = c.Session.ClientVersion
	}
	packet, err := common.EncodeResponse(c.Inst.Codec, version, typ, body)
	if err != nil {
		return err
	}
	c.packets = append(c.packets, packet)
	return nil
}

// RespondChunks queues one packet per chunk. chunk fills the body of the
// chunk with index i, the header is numbered by RespondChunks. At least one
// packet is sent, n = 0 yields a single empty chunk.
func RespondChunks[B common.Headed](c *Call, n int, chunk func(i int) B) error {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		body := chunk(i)
		head := body.Head()
		head.SequenceID = int32(i + 1)
		head.NumberOfChunks = int32(n)
		if err := c.Respond(body); err != nil {
			return err
		}
	}
	return nil
}

// ChunkCount returns the number of chunks of size needed for total rows
func ChunkCount(total, size int) int {
	if size <= 0 || total <= size {
		return 1
	}
	return (total + size - 1) / size
}

// RespondError queues the exception packet describing err
func (c *Call) RespondError(err error) {
	sendTrace := c.Inst != nil && c.Inst.Config != nil && c.Inst.Config.SendStackTraces
	resp := &common.ExceptionResponse{Exception: *DescribeError(err, sendTrace)}
	if perr := c.respond(common.RespException, resp); perr != nil {
		Logger.Errorf("failed to encode exception response: %v", perr)
	}
}

// ErrorPackets answers cmd with an exception without running a command, for
// requests the server rejects before a command is rented
func ErrorPackets(inst *Instance, s *Session, cmd *common.Command, err error) [][]byte {
	c := &Call{Inst: inst, Session: s, Cmd: cmd, typ: cmd.Type}
	c.RespondError(err)
	return c.packets
}

// DescribeError maps err onto the exception descriptor sent to clients
func DescribeError(err error, stackTrace bool) *common.ExceptionDescriptor {
	d := &common.ExceptionDescriptor{
		Type:      common.ExceptionOperationFailed,
		Message:   errors.UnwrapAll(err).Error(),
		Exception: err.Error(),
	}
	if stackTrace {
		d.StackTrace = fmt.Sprintf("%+v", err)
	}

	var (
		pe *ParseError
		fe *query.FormatError
	)
	switch {
	case errors.As(err, &fe):
		d.ErrorCode = common.ErrorCodeFormat
		d.Message = fe.Error()
	case errors.As(err, &pe):
		d.ErrorCode = common.ErrorCodeParse
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrSessionDisposed):
		d.ErrorCode = common.ErrorCodeNoSession
	case errors.Is(err, cache.ErrKeyNotFound):
		d.ErrorCode = common.ErrorCodeKeyNotFound
	case errors.Is(err, cache.ErrKeyExists):
		d.ErrorCode = common.ErrorCodeKeyExists
	case errors.Is(err, cache.ErrItemLocked):
		d.ErrorCode = common.ErrorCodeItemLocked
	case errors.Is(err, cache.ErrLockNotHeld):
		d.ErrorCode = common.ErrorCodeLockNotHeld
	case errors.Is(err, cache.ErrVersionMismatch):
		d.ErrorCode = common.ErrorCodeVersionMismatch
	case errors.Is(err, cache.ErrTopicNotFound):
		d.ErrorCode = common.ErrorCodeTopicNotFound
	case errors.Is(err, cache.ErrTopicExists):
		d.ErrorCode = common.ErrorCodeTopicExists
	case errors.Is(err, cache.ErrInvalidQuery):
		d.ErrorCode = common.ErrorCodeInvalidQuery
	case errors.Is(err, cache.ErrEnumeration):
		d.ErrorCode = common.ErrorCodeInvalidEnumeration
	case errors.Is(err, cache.ErrOffline):
		d.ErrorCode = common.ErrorCodeCacheOffline
	case errors.Is(err, cache.ErrClosed):
		d.ErrorCode = common.ErrorCodeCacheClosed
	case errors.Is(err, cache.ErrNotSupported):
		d.Type = common.ExceptionNotSupported
	case errors.Is(err, cache.ErrReaderNotFound):
		d.Type = common.ExceptionInvalidReader
	default:
		d.Type = common.ExceptionGeneralFailure
	}
	return d
}

// --------------------------------------------------------------------------
// Leases
// --------------------------------------------------------------------------

// OperationContext leases a context pre-filled with the session and envelope
// fields every engine call needs
func (c *Call) OperationContext(opType opctx.OperationType) *opctx.OperationContext {
	oc := pool.Acquire(&c.Scope, c.Inst.Pools.Contexts)
	oc.Add(opctx.FieldOperationType, opType)
	oc.Add(opctx.FieldClientID, c.Session.ClientID)
	if c.Cmd.CommandVersion < 1 {
		oc.Add(opctx.FieldClientLastViewID, ForcedViewID)
	} else {
		oc.Add(opctx.FieldClientLastViewID, c.Cmd.ClientLastViewID)
	}
	if c.Session.RemoteAddr != "" {
		oc.Add(opctx.FieldClientIPAddress, c.Session.RemoteAddr)
	}
	if c.Cmd.IntendedRecipient != "" {
		oc.Add(opctx.FieldIntendedRecipient, c.Cmd.IntendedRecipient)
	}
	oc.Add(opctx.FieldMethodOverload, c.Cmd.MethodOverload)
	if c.Session.RequestTimeout > 0 {
		oc.Add(opctx.FieldClientOperationTimeout, c.Session.RequestTimeout)
	}
	oc.Add(opctx.FieldCancellationToken, c.Context())
	return oc
}

// Flags leases a bit set holding the wire flags
func (c *Call) Flags(data uint8) *cache.BitSet {
	b := pool.Acquire(&c.Scope, c.Inst.Pools.BitSets)
	b.SetData(data)
	return b
}

// ApplyFlags copies the read-through and write-through flags into oc
func ApplyFlags(oc *opctx.OperationContext, flags *cache.BitSet, provider string) {
	if flags == nil {
		return
	}
	if flags.IsSet(cache.FlagReadThru) {
		oc.Add(opctx.FieldReadThru, true)
		if provider != "" {
			oc.Add(opctx.FieldReadThruProviderName, provider)
		}
	}
	writeThru := flags.IsSet(cache.FlagWriteThru)
	writeBehind := flags.IsSet(cache.FlagWriteBehind)
	if writeThru {
		oc.Add(opctx.FieldWriteThru, true)
	}
	if writeBehind {
		oc.Add(opctx.FieldWriteBehind, true)
	}
	if (writeThru || writeBehind) && provider != "" {
		oc.Add(opctx.FieldWriteThruProviderName, provider)
	}
}

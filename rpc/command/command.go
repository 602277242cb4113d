package command

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/pool"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("command")

// ImmatureID is the request id (as text) of requests that must not be
// answered when they fail to parse
const ImmatureID = "-2"

// OperationResult is the outcome of one command execution, used for statistics
type OperationResult uint8

const (
	Success OperationResult = iota
	Failure
)

func (r OperationResult) String() string {
	if r == Failure {
		return "Failure"
	}
	return "Success"
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// CommandBase is the contract between the command manager and a command.
//
// A command is rented from its pool, executed once and returned with
// ReturnLeasableToPool after its packets were sent. ExecuteCommand never
// returns an error, every failure becomes an exception packet (or no packet
// at all, see ImmatureID and IsCancelled).
type CommandBase interface {
	pool.Leasable

	// Type returns the command type the command handles
	Type() common.CommandType
	// ExecuteCommand parses cmd and, if that succeeds, executes it. The
	// response packets are collected in the command.
	ExecuteCommand(ctx context.Context, s *Session, cmd *common.Command)
	// OperationResult is Failure if parsing or executing failed
	OperationResult() OperationResult
	// CanHaveLargeData reports whether requests or responses may carry large values
	CanHaveLargeData() bool
	// IsBulkOperation reports whether the command works on many keys
	IsBulkOperation() bool
	// ItemCount returns the number of keys of a parsed bulk command
	ItemCount() int
	// GetCommandParameters renders the parsed parameters for diagnostics
	GetCommandParameters() string
	// ReturnLeasableToPool gives the command back to its pool
	ReturnLeasableToPool()
	// SerializedResponsePackets returns the packets produced by ExecuteCommand
	SerializedResponsePackets() [][]byte
	// IsCancelled reports whether the execution was cancelled. Cancelled
	// commands have no packets.
	IsCancelled() bool
}

// --------------------------------------------------------------------------
// Descriptor
// --------------------------------------------------------------------------

// Descriptor describes one command type. I is the parsed form of the
// request, it is fully populated by Parse or Parse fails.
type Descriptor[I any] struct {
	Type common.CommandType
	// Parse reads the payload of c.Cmd. It must not change shared state,
	// leases it takes through c.Scope are released after the execution.
	Parse func(c *Call) (I, error)
	// Execute runs the command against the engine and queues the response
	// packets with c.Respond
	Execute func(c *Call, info *I) error
	// Describe renders the parsed request for diagnostics (optional). It
	// runs after the call, so it must not read leased objects.
	Describe func(info *I) string
	// Items returns the number of keys of a bulk request (optional)
	Items func(info *I) int

	LargeData bool
	Bulk      bool
	// Anonymous commands may run before the session is initialized
	Anonymous bool
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ParseError is returned for requests that cannot be parsed
type ParseError struct {
	Command common.CommandType
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s command: %v", e.Command, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ErrNoSession is returned for commands that arrive before Init
var ErrNoSession = errors.New("session is not initialized")

// ErrSessionDisposed is returned for commands on a session that was disposed
// or replaced by a newer connection of the same client
var ErrSessionDisposed = errors.New("session is disposed")

// ErrPanic is reported to the client when a command panics
var ErrPanic = errors.New("internal error while executing command")

// --------------------------------------------------------------------------
// Generic command (implements CommandBase)
// --------------------------------------------------------------------------

// command drives a Descriptor through parse, execute and respond
type command[I any] struct {
	desc *Descriptor[I]
	inst *Instance
	pool *pool.Pool[*command[I]]

	call      Call
	info      I
	parsed    bool
	result    OperationResult
	cancelled bool
}

func (c *command[I]) Type() common.CommandType { return c.desc.Type }

func (c *command[I]) OperationResult() OperationResult { return c.result }

func (c *command[I]) CanHaveLargeData() bool { return c.desc.LargeData }

func (c *command[I]) IsBulkOperation() bool { return c.desc.Bulk }

func (c *command[I]) IsCancelled() bool { return c.cancelled }

func (c *command[I]) SerializedResponsePackets() [][]byte { return c.call.packets }

func (c *command[I]) ItemCount() int {
	if !c.parsed || c.desc.Items == nil {
		return 0
	}
	return c.desc.Items(&c.info)
}

func (c *command[I]) GetCommandParameters() string {
	if !c.parsed {
		return c.desc.Type.String() + " (not parsed)"
	}
	if c.desc.Describe == nil {
		return c.desc.Type.String()
	}
	return c.desc.Type.String() + ": " + c.desc.Describe(&c.info)
}

// ResetLeasable clears all per execution state (implements pool.Leasable)
func (c *command[I]) ResetLeasable() {
	c.call.Scope.Close()
	c.call = Call{}
	var zero I
	c.info = zero
	c.parsed = false
	c.result = Success
	c.cancelled = false
}

func (c *command[I]) ReturnLeasableToPool() {
	c.pool.Return(c)
}

func (c *command[I]) ExecuteCommand(ctx context.Context, s *Session, cmd *common.Command) {
	c.call = Call{
		Inst:    c.inst,
		Session: s,
		Cmd:     cmd,
		ctx:     ctx,
		typ:     c.desc.Type,
	}
	start := time.Now()

	defer c.recoverPanic()
	defer c.call.Scope.Close()

	if err := c.checkSession(s); err != nil {
		c.result = Failure
		c.call.RespondError(err)
		return
	}

	info, err := c.desc.Parse(&c.call)
	if err != nil {
		c.result = Failure
		var pe *ParseError
		if !errors.As(err, &pe) {
			err = &ParseError{Command: c.desc.Type, Err: err}
		}
		Logger.Errorf("%s from %s: %v", c.desc.Type, s.RemoteAddr, err)
		if strconv.FormatInt(cmd.RequestID, 10) != ImmatureID {
			c.call.RespondError(err)
		}
		return
	}
	c.info = info
	c.parsed = true

	if err := c.desc.Execute(&c.call, &c.info); err != nil {
		c.result = Failure
		if cache.IsCanceled(err) {
			c.cancelled = true
			c.call.packets = nil
			Logger.Debugf("%s (request %d) cancelled after %s", c.desc.Type, cmd.RequestID, time.Since(start))
			return
		}
		Logger.Debugf("%s (request %d) failed: %v", c.desc.Type, cmd.RequestID, err)
		c.call.RespondError(err)
	}
	Logger.Debugf("%s (request %d) took %s", c.desc.Type, cmd.RequestID, time.Since(start))
}

// checkSession fails for commands that need an initialized session
func (c *command[I]) checkSession(s *Session) error {
	if c.desc.Anonymous {
		return nil
	}
	if s.Disposed() {
		return ErrSessionDisposed
	}
	if !s.Initialized() {
		return errors.Wrapf(ErrNoSession, "%s before init", c.desc.Type)
	}
	return nil
}

// recoverPanic turns a panic of a handler into an exception packet. The
// leases are released by then, the deferred Scope.Close runs first.
func (c *command[I]) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	Logger.Errorf("%s (request %d) panicked: %v", c.desc.Type, c.call.Cmd.RequestID, r)
	c.result = Failure
	c.call.packets = nil
	c.call.RespondError(errors.Wrapf(ErrPanic, "%v", r))
}

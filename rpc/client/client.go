package client

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/dialect"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// Defaults used for unset session fields of the client config
const (
	DefaultClientVersion  int32 = common.ClientVersionStandalone
	DefaultCommandVersion int32 = 2
)

// Client is a typed client for one cache. Every connection of the transport
// is bound to the cache by an Init handshake.
type Client struct {
	cacheID    uint64
	cacheName  string
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer

	requestID atomic.Int64
	handshake atomic.Int64

	mu      sync.Mutex
	session common.InitResponse
}

// NewClient creates a client for the cache with the given id and name and
// connects the transport. The name may be empty, the server then binds the
// cache of cacheID.
func NewClient(
	cacheID uint64,
	cacheName string,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Client, error) {
	if config.ClientID == "" {
		config.ClientID = uuid.NewString()
	}
	if config.ClientVersion == 0 {
		config.ClientVersion = DefaultClientVersion
	}
	if config.CommandVersion == 0 {
		config.CommandVersion = DefaultCommandVersion
	}
	if _, err := dialect.ByName(config.Dialect); err != nil {
		return nil, err
	}

	c := &Client{
		cacheID:    cacheID,
		cacheName:  cacheName,
		config:     config,
		transport:  transport,
		serializer: serializer,
	}
	transport.SetHandshake(c.init)

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return c, nil
}

// init binds a new connection to the cache. Every connection after the first
// one gets its own client id, a second connection with the same id would
// replace the first one on the server.
func (c *Client) init(send transport.SendFunc) error {
	clientID := c.config.ClientID
	if n := c.handshake.Add(1); n > 1 {
		clientID = fmt.Sprintf("%s#%d", clientID, n)
	}
	d, _ := dialect.ByName(c.config.Dialect)
	req := &common.InitRequest{
		ClientID:           clientID,
		ClientVersion:      c.config.ClientVersion,
		IsDotNet:           d.Name() == dialect.NameDotNet,
		OperationTimeoutMs: int64(c.config.TimeoutSecond) * 1000,
		CacheName:          c.cacheName,
	}
	if req.OperationTimeoutMs <= 0 {
		req.OperationTimeoutMs = common.DefaultOperationTimeout
	}

	var resp common.InitResponse
	if err := c.invokeWith(send, common.CmdInit, req, &resp); err != nil {
		return fmt.Errorf("init of cache %q failed: %w", c.cacheName, err)
	}
	c.mu.Lock()
	c.session = resp
	c.mu.Unlock()
	Logger.Debugf("connection bound to cache %s (%d) as %s", resp.CacheName, resp.CacheID, clientID)
	return nil
}

// Session returns the answer of the last Init handshake
func (c *Client) Session() common.InitResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close disposes the session and closes the transport
func (c *Client) Close() error {
	var resp common.BoolResponse
	if err := c.invoke(common.CmdDispose, nil, &resp); err != nil {
		Logger.Debugf("dispose failed: %v", err)
	}
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Invocation
// --------------------------------------------------------------------------

// command builds the envelope of a request
func (c *Client) command(typ common.CommandType, req any) (*common.Command, error) {
	cmd := &common.Command{
		Type:           typ,
		RequestID:      c.requestID.Add(1),
		CommandVersion: c.config.CommandVersion,
	}
	if req != nil {
		payload, err := c.serializer.Serialize(req)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s request: %w", typ, err)
		}
		cmd.Payload = payload
	}
	return cmd, nil
}

// roundTrip sends a request and decodes the framing of its packets. An
// exception packet is returned as error.
func (c *Client) roundTrip(send transport.SendFunc, typ common.CommandType, req any) ([]*common.Packet, error) {
	cmd, err := c.command(typ, req)
	if err != nil {
		return nil, err
	}
	data, err := c.serializer.Serialize(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s command: %w", typ, err)
	}
	raw, err := send(c.cacheID, data)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no response to %s (request %d)", typ, cmd.RequestID)
	}

	packets := make([]*common.Packet, 0, len(raw))
	for _, r := range raw {
		p, err := common.DecodePacket(c.serializer, r)
		if err != nil {
			return nil, err
		}
		if p.Type == common.RespException {
			exc, err := p.Exception(c.serializer)
			if err != nil {
				return nil, err
			}
			return nil, &exc.Exception
		}
		if p.Type != typ.ResponseType() {
			return nil, fmt.Errorf("unexpected %s response to %s", p.Type, typ)
		}
		packets = append(packets, p)
	}
	return packets, nil
}

func (c *Client) invokeWith(send transport.SendFunc, typ common.CommandType, req any, resp common.Headed) error {
	packets, err := c.roundTrip(send, typ, req)
	if err != nil {
		return err
	}
	return packets[0].Decode(c.serializer, resp)
}

// invoke sends a request with a single packet response
func (c *Client) invoke(typ common.CommandType, req any, resp common.Headed) error {
	return c.invokeWith(c.transport.Send, typ, req, resp)
}

// invokeChunked sends a request whose response may be split into chunks and
// hands every decoded chunk to each
func invokeChunked[R any, P interface {
	*R
	common.Headed
}](c *Client, typ common.CommandType, req any, each func(chunk P)) error {
	packets, err := c.roundTrip(c.transport.Send, typ, req)
	if err != nil {
		return err
	}
	for _, p := range packets {
		var chunk R
		if err := p.Decode(c.serializer, P(&chunk)); err != nil {
			return err
		}
		each(P(&chunk))
	}
	return nil
}

// IsException reports whether err is an exception of the server with the
// given error code
func IsException(err error, code int32) bool {
	exc, ok := err.(*common.ExceptionDescriptor)
	return ok && exc.ErrorCode == code
}

// normalizeTags trims tags and drops empty ones
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

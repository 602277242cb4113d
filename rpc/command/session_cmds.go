package command

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dCache/lib/dialect"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
)

// minAckCommandVersion is the first command version that can use the ledger
const minAckCommandVersion = 2

func registerSession(r *Registry, inst *Instance) {
	register(r, inst, &Descriptor[common.InitRequest]{
		Type:      common.CmdInit,
		Anonymous: true,
		Parse: func(c *Call) (req common.InitRequest, err error) {
			if err = c.Decode(&req); err != nil {
				return req, err
			}
			if req.ClientID == "" {
				return req, errors.New("init without client id")
			}
			return req, nil
		},
		Execute:  executeInit,
		Describe: func(req *common.InitRequest) string {
			return fmt.Sprintf("client=%s version=%d cache=%s dotnet=%t", req.ClientID, req.ClientVersion, req.CacheName, req.IsDotNet)
		},
	})

	register(r, inst, &Descriptor[struct{}]{
		Type:      common.CmdGetProductVersion,
		Anonymous: true,
		Parse:     noPayload,
		Execute: func(c *Call, _ *struct{}) error {
			return c.Respond(&common.ProductVersionResponse{Version: c.Inst.Version})
		},
	})

	register(r, inst, &Descriptor[struct{}]{
		Type:      common.CmdPing,
		Anonymous: true,
		Parse:     noPayload,
		Execute: func(c *Call, _ *struct{}) error {
			return c.Respond(&common.BoolResponse{Value: true})
		},
	})

	register(r, inst, &Descriptor[struct{}]{
		Type:    common.CmdDispose,
		Parse:   noPayload,
		Execute: func(c *Call, _ *struct{}) error {
			// the response is queued before the session becomes unusable
			if err := c.Respond(&common.BoolResponse{Value: true}); err != nil {
				return err
			}
			c.Session.Release(c.Inst)
			c.Session.Dispose()
			return nil
		},
	})

	register(r, inst, &Descriptor[struct{}]{
		Type:      common.CmdGetOptimalServer,
		Anonymous: true,
		Parse:     noPayload,
		Execute: func(c *Call, _ *struct{}) error {
			return c.Respond(&common.OptimalServerResponse{Address: c.Inst.Config.Endpoint})
		},
	})

	register(r, inst, &Descriptor[common.InquiryRequest]{
		Type:  common.CmdInquiryRequest,
		Parse: decodeAs[common.InquiryRequest],
		Execute: func(c *Call, req *common.InquiryRequest) error {
			resp := &common.InquiryResponse{Status: common.RequestNotReceived}
			if c.Inst.Ledger != nil {
				resp.Status, resp.Packets = c.Inst.Ledger.Status(c.Session.ClientID, req.RequestID)
			}
			return c.Respond(resp)
		},
		Describe: func(req *common.InquiryRequest) string {
			return fmt.Sprintf("request=%d", req.RequestID)
		},
	})
}

func executeInit(c *Call, req *common.InitRequest) error {
	s := c.Session
	if s.Initialized() {
		return errors.Newf("session of client %s is already initialized", s.ClientID)
	}

	var ok bool
	if req.CacheName != "" {
		s.Cache, s.CacheID, ok = c.Inst.Caches.CacheByName(req.CacheName)
	} else {
		s.Cache, ok = c.Inst.Caches.CacheByID(s.CacheID)
	}
	if !ok {
		return errors.Newf("cache %q (id %d) is not served by this instance", req.CacheName, s.CacheID)
	}
	s.CacheName = s.Cache.Name()

	s.ClientID = req.ClientID
	s.ClientVersion = req.ClientVersion
	s.IsDotNet = req.IsDotNet
	s.Dialect = dialect.ForClient(req.IsDotNet)
	s.SupportAcknowledgement = c.Cmd.CommandVersion >= minAckCommandVersion && c.Inst.Ledger != nil
	s.RequestTimeout = DefaultRequestTimeout
	if req.OperationTimeoutMs != common.DefaultOperationTimeout {
		s.RequestTimeout = time.Duration(req.OperationTimeoutMs) * time.Millisecond
	}
	if req.ClientIP != "" {
		s.RemoteAddr = req.ClientIP
	}

	s.Cache.OnClientConnected(s.ClientID)
	if c.Inst.Sessions != nil {
		c.Inst.Sessions.Bind(s)
	}
	s.initialized.Store(true)
	Logger.Infof("client %s (version %d, %s) connected to cache %s from %s",
		s.ClientID, s.ClientVersion, s.Dialect.Name(), s.CacheName, s.RemoteAddr)

	return c.Respond(&common.InitResponse{
		CacheName:              s.CacheName,
		CacheID:                s.CacheID,
		ServerVersion:          c.Inst.Version,
		RequestTimeoutMs:       s.RequestTimeout.Milliseconds(),
		SupportAcknowledgement: s.SupportAcknowledgement,
		IsDotNet:               s.IsDotNet,
	})
}

// noPayload parses commands that carry no request body
func noPayload(*Call) (struct{}, error) {
	return struct{}{}, nil
}

// decodeAs parses commands whose request is used as sent
func decodeAs[R any](c *Call) (R, error) {
	var req R
	err := c.Decode(&req)
	return req, err
}

package command

import (
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/pool"
	"github.com/ValentinKolb/dCache/lib/query"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"
)

// --------------------------------------------------------------------------
// Request -> engine
// --------------------------------------------------------------------------

// expirationHint builds the hint of spec. It returns nil for items that
// never expire. Several hints are combined into an aggregate hint.
func (c *Call) expirationHint(spec common.ExpirationSpec) (*cache.ExpirationHint, error) {
	defaults := c.Inst.Config.Expiration
	var hints []*cache.ExpirationHint

	switch spec.Absolute {
	case common.ExpirationNone:
	case common.ExpirationDefault, common.ExpirationDefaultLonger:
		d := defaults.Absolute
		if spec.Absolute == common.ExpirationDefaultLonger {
			d = defaults.AbsoluteLonger
		}
		h := pool.Acquire(&c.Scope, c.Inst.Pools.ExpirationHints)
		h.Kind = cache.ExpireFixed
		h.Absolute = time.Now().Add(d)
		hints = append(hints, h)
	default:
		if spec.Absolute < 0 {
			return nil, errors.Newf("invalid absolute expiration %d", spec.Absolute)
		}
		h := pool.Acquire(&c.Scope, c.Inst.Pools.ExpirationHints)
		h.Kind = cache.ExpireFixed
		h.Absolute = query.TicksToTime(spec.Absolute)
		hints = append(hints, h)
	}

	switch spec.Sliding {
	case common.ExpirationNone:
	case common.ExpirationDefault, common.ExpirationDefaultLonger:
		d := defaults.Sliding
		if spec.Sliding == common.ExpirationDefaultLonger {
			d = defaults.SlidingLonger
		}
		h := pool.Acquire(&c.Scope, c.Inst.Pools.ExpirationHints)
		h.Kind = cache.ExpireIdle
		h.Sliding = d
		hints = append(hints, h)
	default:
		if spec.Sliding < 0 {
			return nil, errors.Newf("invalid sliding expiration %d", spec.Sliding)
		}
		h := pool.Acquire(&c.Scope, c.Inst.Pools.ExpirationHints)
		h.Kind = cache.ExpireIdle
		h.Sliding = time.Duration(spec.Sliding) * 100 * time.Nanosecond
		hints = append(hints, h)
	}

	if len(spec.DependencyKeys) > 0 {
		h := pool.Acquire(&c.Scope, c.Inst.Pools.ExpirationHints)
		h.Kind = cache.ExpireKeyDependency
		h.Keys = append(h.Keys, spec.DependencyKeys...)
		hints = append(hints, h)
	}

	var hint *cache.ExpirationHint
	switch len(hints) {
	case 0:
		return nil, nil
	case 1:
		hint = hints[0]
	default:
		hint = pool.Acquire(&c.Scope, c.Inst.Pools.ExpirationHints)
		hint.Kind = cache.ExpireAggregate
		hint.Hints = append(hint.Hints, hints...)
	}
	hint.Resync = spec.Resync
	return hint, nil
}

// notifications returns the callback wrapper of req, nil if the request
// registers no callback and needs no async completion
func (c *Call) notifications(req *common.ItemRequest) *cache.Notifications {
	requestID := c.Cmd.RequestID
	if req.UpdateCallbackID == cache.NoCallback &&
		req.RemoveCallbackID == cache.NoCallback &&
		req.DsItemAddedCallbackID == cache.NoCallback &&
		!(requestID != common.NoRequestID && req.IsAsync) {
		return nil
	}

	n := &cache.Notifications{
		ClientID:              req.ClientID,
		RequestID:             requestID,
		UpdateCallbackID:      req.UpdateCallbackID,
		RemoveCallbackID:      req.RemoveCallbackID,
		DsItemAddedCallbackID: req.DsItemAddedCallbackID,
		UpdateDataFilter:      cache.DataFilterFromWire(req.UpdateDataFilter),
		RemoveDataFilter:      cache.DataFilterFromWire(req.RemoveDataFilter),
	}
	if n.ClientID == "" {
		n.ClientID = c.Session.ClientID
	}
	if requestID == common.NoRequestID {
		n.AsyncOperationCompletedCallbackID = cache.NoCallback
	}
	return n
}

// entry builds the leased cache entry of req
func (c *Call) entry(req *common.ItemRequest) (*cache.CacheEntry, error) {
	if req.Key == "" {
		return nil, errors.New("empty key")
	}
	hint, err := c.expirationHint(req.Expiration)
	if err != nil {
		return nil, errors.Wrapf(err, "key %q", req.Key)
	}
	named, err := c.Session.Dialect.DecodeNamedTags(req.NamedTags)
	if err != nil {
		return nil, err
	}

	value := pool.Acquire(&c.Scope, c.Inst.Pools.UserBinaryObjects)
	value.SetChunks(req.Value)

	e := pool.Acquire(&c.Scope, c.Inst.Pools.Entries)
	e.Value = value
	e.Flags = c.Flags(req.Flags)
	e.Expiration = hint
	e.Priority = cache.PriorityDefault
	if req.Priority > 0 {
		e.Priority = cache.EvictionPriority(req.Priority)
	}
	e.Group = req.Group
	e.Type = c.Session.Dialect.ResolveTypeName(req.Type)
	e.Tags = append(e.Tags, req.Tags...)
	for k, v := range named {
		e.NamedTags[k] = v
	}
	e.Notifications = c.notifications(req)
	e.ProviderName = req.ProviderName
	e.ResyncProviderName = req.ResyncProviderName
	return e, nil
}

// lockAccess maps the wire lock access type, 0 selects the default
func lockAccess(v uint8) (cache.LockAccessType, error) {
	if v == 0 {
		return cache.LockDefault, nil
	}
	t := cache.LockAccessType(v)
	if t < cache.LockDefault || t > cache.LockPreserveVersion {
		return 0, errors.Newf("invalid lock access type %d", v)
	}
	return t, nil
}

// lockHandle returns the handle of a lock id sent by the client
func lockHandle(id string) *cache.LockHandle {
	return &cache.LockHandle{LockID: id}
}

// callback returns the callback info of a registration, nil for NoCallback
func callback(clientID string, id int16, filter cache.DataFilter) *cache.CallbackInfo {
	if id == cache.NoCallback {
		return nil
	}
	return &cache.CallbackInfo{ClientID: clientID, CallbackID: id, DataFilter: filter}
}

// params converts query parameters using the type names of the client dialect
func (c *Call) params(ps []query.Param) (map[string]any, error) {
	return query.BuildParams(ps, c.Session.Dialect.ResolveTypeName)
}

// --------------------------------------------------------------------------
// Engine -> response
// --------------------------------------------------------------------------

// itemData converts an engine item to its wire form. The value is split into
// chunks, withValue false sends metadata only.
func (c *Call) itemData(it *cache.Item, withValue bool) common.ItemData {
	d := common.ItemData{
		Key:      it.Key,
		Flags:    it.Flags,
		Version:  it.Version,
		Type:     it.Type,
		Group:    it.Group,
		Tags:     it.Tags,
		Priority: int32(it.Priority),
		Sliding:  int64(it.Sliding / 100),
	}
	if withValue && it.Value != nil {
		ubo := pool.Acquire(&c.Scope, c.Inst.Pools.UserBinaryObjects)
		ubo.SetData(it.Value)
		d.Value = append([][]byte(nil), ubo.Chunks()...)
	}
	if len(it.NamedTags) > 0 {
		d.NamedTags = make(map[string]string, len(it.NamedTags))
		for k, v := range it.NamedTags {
			if t, ok := v.(time.Time); ok {
				d.NamedTags[k] = cast.ToString(query.TimeToTicks(t))
				continue
			}
			d.NamedTags[k] = cast.ToString(v)
		}
	}
	if !it.AbsExpiry.IsZero() {
		d.Absolute = query.TimeToTicks(it.AbsExpiry)
	}
	if !it.CreationTime.IsZero() {
		d.CreationTime = query.TimeToTicks(it.CreationTime)
	}
	if !it.LastModified.IsZero() {
		d.LastModified = query.TimeToTicks(it.LastModified)
	}
	return d
}

// lockTicks returns the lock date of h in ticks, 0 without a lock
func lockTicks(h *cache.LockHandle) int64 {
	if h == nil || h.LockDate.IsZero() {
		return 0
	}
	return query.TimeToTicks(h.LockDate)
}

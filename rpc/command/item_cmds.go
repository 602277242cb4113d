package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
)

// itemInfo is the parsed form of Add and Insert
type itemInfo struct {
	req    common.ItemRequest
	entry  *cache.CacheEntry
	access cache.LockAccessType
}

// keyInfo is the parsed form of the commands addressing one key
type keyInfo struct {
	req    common.KeyRequest
	flags  *cache.BitSet
	access cache.LockAccessType
}

func registerItems(r *Registry, inst *Instance) {
	register(r, inst, &Descriptor[itemInfo]{
		Type:      common.CmdAdd,
		LargeData: true,
		Parse:     parseItem,
		Execute:   executeAdd,
		Describe:  describeItem,
	})
	register(r, inst, &Descriptor[itemInfo]{
		Type:      common.CmdInsert,
		LargeData: true,
		Parse:     parseItem,
		Execute:   executeInsert,
		Describe:  describeItem,
	})
	register(r, inst, &Descriptor[keyInfo]{
		Type:      common.CmdGet,
		LargeData: true,
		Parse:     parseKey,
		Execute:   executeGet,
		Describe:  describeKey,
	})
	register(r, inst, &Descriptor[keyInfo]{
		Type:      common.CmdGetCacheItem,
		LargeData: true,
		Parse:     parseKey,
		Execute:   executeGet,
		Describe:  describeKey,
	})
	register(r, inst, &Descriptor[keyInfo]{
		Type:      common.CmdRemove,
		LargeData: true,
		Parse:     parseKey,
		Execute:   executeRemove,
		Describe:  describeKey,
	})
	register(r, inst, &Descriptor[keyInfo]{
		Type:     common.CmdDelete,
		Parse:    parseKey,
		Execute:  executeDelete,
		Describe: describeKey,
	})
	register(r, inst, &Descriptor[keyInfo]{
		Type:     common.CmdLock,
		Parse:    parseKey,
		Execute:  executeLock,
		Describe: describeKey,
	})
	register(r, inst, &Descriptor[keyInfo]{
		Type:     common.CmdUnlock,
		Parse:    parseKey,
		Execute:  executeUnlock,
		Describe: describeKey,
	})
	register(r, inst, &Descriptor[keyInfo]{
		Type:     common.CmdIsLocked,
		Parse:    parseKey,
		Execute:  executeIsLocked,
		Describe: describeKey,
	})
	register(r, inst, &Descriptor[keyInfo]{
		Type:     common.CmdContains,
		Parse:    parseKey,
		Execute:  executeContains,
		Describe: describeKey,
	})
	register(r, inst, &Descriptor[keysInfo]{
		Type:     common.CmdTouch,
		Bulk:     true,
		Parse:    parseKeys,
		Execute:  executeTouch,
		Describe: describeKeys,
		Items:    countKeys,
	})
	register(r, inst, &Descriptor[struct{}]{
		Type:  common.CmdGetExpiration,
		Parse: noPayload,
		Execute: func(c *Call, _ *struct{}) error {
			e := c.Inst.Config.Expiration
			return c.Respond(&common.ExpirationResponse{
				AbsoluteMs:       e.Absolute.Milliseconds(),
				AbsoluteLongerMs: e.AbsoluteLonger.Milliseconds(),
				SlidingMs:        e.Sliding.Milliseconds(),
				SlidingLongerMs:  e.SlidingLonger.Milliseconds(),
			})
		},
	})
	register(r, inst, &Descriptor[struct{}]{
		Type:  common.CmdCount,
		Parse: noPayload,
		Execute: func(c *Call, _ *struct{}) error {
			n, err := c.Cache().Count(c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.Respond(&common.CountResponse{Count: n})
		},
	})
	register(r, inst, &Descriptor[keysInfo]{
		Type:  common.CmdClear,
		Parse: parseKeys,
		Execute: func(c *Call, info *keysInfo) error {
			oc := c.OperationContext(opctx.CacheOperation)
			ApplyFlags(oc, info.flags, info.req.ProviderName)
			if err := c.Cache().Clear(info.flags, oc); err != nil {
				return err
			}
			return c.Respond(&common.BoolResponse{Value: true})
		},
	})
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

func parseItem(c *Call) (info itemInfo, err error) {
	if err = c.Decode(&info.req); err != nil {
		return info, err
	}
	if info.access, err = lockAccess(info.req.LockAccessType); err != nil {
		return info, err
	}
	info.entry, err = c.entry(&info.req)
	return info, err
}

func parseKey(c *Call) (info keyInfo, err error) {
	if err = c.Decode(&info.req); err != nil {
		return info, err
	}
	if info.req.Key == "" {
		return info, errors.New("empty key")
	}
	if info.access, err = lockAccess(info.req.LockAccessType); err != nil {
		return info, err
	}
	info.flags = c.Flags(info.req.Flags)
	return info, nil
}

func describeItem(info *itemInfo) string {
	return fmt.Sprintf("key=%s size=%d access=%s async=%t expiration=%+v tags=[%s]",
		info.req.Key, valueSize(info.req.Value), info.access, info.req.IsAsync,
		info.req.Expiration, strings.Join(info.req.Tags, ","))
}

// valueSize returns the length of a chunked value
func valueSize(chunks [][]byte) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}

func describeKey(info *keyInfo) string {
	return fmt.Sprintf("key=%s access=%s lock=%s version=%d", info.req.Key, info.access, info.req.LockID, info.req.Version)
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

// writeContext prepares the context of Add and Insert. The item version is
// in the context before the engine is called, the engine may replace it.
func (c *Call) writeContext(info *itemInfo) *opctx.OperationContext {
	oc := c.OperationContext(opctx.CacheOperation)
	ApplyFlags(oc, info.entry.Flags, info.req.ProviderName)
	version := info.req.ItemVersion
	// a compared version is the one the client expects, it is never replaced
	if version == 0 && info.access != cache.LockCompareVersion {
		version = FallbackItemVersion(time.Now())
	}
	oc.Add(opctx.FieldItemVersion, version)
	return oc
}

// respondAsync answers an async write, unless the client asked for no response
func (c *Call) respondAsync(body common.Headed) error {
	if c.Cmd.RequestID == common.NoRequestID {
		return nil
	}
	return c.Respond(body)
}

func executeAdd(c *Call, info *itemInfo) error {
	oc := c.writeContext(info)
	oc.Add(opctx.FieldRaiseCQNotification, true)

	if info.req.IsAsync {
		c.Cache().AddAsync(info.req.Key, info.entry, oc)
		return c.respondAsync(&common.VersionResponse{Version: oc.ItemVersion()})
	}
	if err := c.Cache().Add(info.req.Key, info.entry, oc); err != nil {
		return err
	}
	return c.Respond(&common.VersionResponse{Version: oc.ItemVersion()})
}

func executeInsert(c *Call, info *itemInfo) error {
	oc := c.writeContext(info)

	if info.req.IsAsync {
		c.Cache().InsertAsync(info.req.Key, info.entry, oc)
		return c.respondAsync(&common.VersionResponse{Version: oc.ItemVersion()})
	}
	var lock *cache.LockHandle
	if info.req.LockID != "" {
		lock = lockHandle(info.req.LockID)
	}
	if err := c.Cache().Insert(info.req.Key, info.entry, lock, info.access, oc); err != nil {
		return err
	}
	return c.Respond(&common.VersionResponse{Version: oc.ItemVersion()})
}

func executeGet(c *Call, info *keyInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	ApplyFlags(oc, info.flags, info.req.ProviderName)
	if info.access == cache.LockAcquire {
		oc.Add(opctx.FieldClientThreadID, info.req.ThreadID)
		oc.Add(opctx.FieldIsRetryOperation, c.Cmd.IsRetryCommand)
	}

	lock := lockHandle(info.req.LockID)
	timeout := time.Duration(info.req.LockTimeoutMs) * time.Millisecond
	var (
		item *cache.Item
		err  error
	)
	withMeta := c.typ == common.CmdGetCacheItem
	if withMeta {
		item, err = c.Cache().GetCacheEntry(info.req.Key, info.req.Version, lock, info.access, timeout, oc)
	} else {
		item, err = c.Cache().Get(info.req.Key, info.req.Version, lock, info.access, timeout, oc)
	}
	if err != nil {
		return err
	}

	resp := &common.ItemResponse{LockID: lock.LockID, LockTime: lockTicks(lock)}
	if item != nil {
		resp.Found = true
		resp.Version = item.Version
		data := c.itemData(item, true)
		if !withMeta {
			data = common.ItemData{Key: data.Key, Value: data.Value, Flags: data.Flags, Version: data.Version}
		}
		resp.Item = &data
	}
	return c.Respond(resp)
}

func executeRemove(c *Call, info *keyInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	ApplyFlags(oc, info.flags, info.req.ProviderName)

	if info.req.IsAsync {
		c.Cache().RemoveAsync(info.req.Key, oc)
		return c.respondAsync(&common.ItemResponse{})
	}
	var lock *cache.LockHandle
	if info.req.LockID != "" {
		lock = lockHandle(info.req.LockID)
	}
	item, err := c.Cache().Remove(info.req.Key, lock, info.access, info.req.Version, oc)
	if err != nil {
		return err
	}
	resp := &common.ItemResponse{}
	if item != nil {
		data := c.itemData(item, true)
		resp.Found = true
		resp.Version = item.Version
		resp.Item = &data
	}
	return c.Respond(resp)
}

func executeDelete(c *Call, info *keyInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	ApplyFlags(oc, info.flags, info.req.ProviderName)

	var lock *cache.LockHandle
	if info.req.LockID != "" {
		lock = lockHandle(info.req.LockID)
	}
	if err := c.Cache().Delete(info.req.Key, lock, info.access, info.req.Version, oc); err != nil {
		return err
	}
	return c.Respond(&common.BoolResponse{Value: true})
}

func executeLock(c *Call, info *keyInfo) error {
	timeout := time.Duration(info.req.LockTimeoutMs) * time.Millisecond
	lock, ok, err := c.Cache().Lock(info.req.Key, timeout, c.OperationContext(opctx.CacheOperation))
	if err != nil {
		return err
	}
	resp := &common.LockResponse{Locked: ok}
	if lock != nil {
		resp.LockID = lock.LockID
		resp.LockTime = lockTicks(lock)
	}
	return c.Respond(resp)
}

func executeUnlock(c *Call, info *keyInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	if err := c.Cache().Unlock(info.req.Key, info.req.LockID, info.req.IsPreemptive, oc); err != nil {
		return err
	}
	return c.Respond(&common.BoolResponse{Value: true})
}

func executeIsLocked(c *Call, info *keyInfo) error {
	lock, locked, err := c.Cache().IsLocked(info.req.Key, c.OperationContext(opctx.CacheOperation))
	if err != nil {
		return err
	}
	resp := &common.LockResponse{Locked: locked}
	if lock != nil {
		resp.LockID = lock.LockID
		resp.LockTime = lockTicks(lock)
	}
	return c.Respond(resp)
}

func executeContains(c *Call, info *keyInfo) error {
	ok, err := c.Cache().Contains(info.req.Key, c.OperationContext(opctx.CacheOperation))
	if err != nil {
		return err
	}
	return c.Respond(&common.BoolResponse{Value: ok})
}

func executeTouch(c *Call, info *keysInfo) error {
	if err := c.Cache().Touch(info.req.Keys, c.OperationContext(opctx.CacheOperation)); err != nil {
		return err
	}
	return c.Respond(&common.BoolResponse{Value: true})
}

package client

import (
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/query"
	"github.com/ValentinKolb/dCache/rpc/common"
)

// ItemOption configures an item written by Add or Insert
type ItemOption func(req *common.ItemRequest)

// WithTags attaches tags to the item
func WithTags(tags ...string) ItemOption {
	return func(req *common.ItemRequest) {
		req.Tags = append(req.Tags, normalizeTags(tags)...)
	}
}

// WithAbsoluteExpiration expires the item at t
func WithAbsoluteExpiration(t time.Time) ItemOption {
	return func(req *common.ItemRequest) {
		req.Expiration.Absolute = query.TimeToTicks(t)
	}
}

// WithSlidingExpiration expires the item after d without access
func WithSlidingExpiration(d time.Duration) ItemOption {
	return func(req *common.ItemRequest) {
		req.Expiration.Sliding = int64(d / 100)
	}
}

// WithDependency expires the item together with the given keys
func WithDependency(keys ...string) ItemOption {
	return func(req *common.ItemRequest) {
		req.Expiration.DependencyKeys = append(req.Expiration.DependencyKeys, keys...)
	}
}

// WithType sets the type name queries select the item by
func WithType(typeName string) ItemOption {
	return func(req *common.ItemRequest) { req.Type = typeName }
}

// WithNamedTag attaches a queryable attribute. typeName is the platform type
// of the value, e.g. System.Int32.
func WithNamedTag(name, typeName, value string) ItemOption {
	return func(req *common.ItemRequest) {
		req.NamedTags.Names = append(req.NamedTags.Names, name)
		req.NamedTags.Types = append(req.NamedTags.Types, typeName)
		req.NamedTags.Values = append(req.NamedTags.Values, value)
	}
}

// WithGroup sets the group of the item
func WithGroup(group string) ItemOption {
	return func(req *common.ItemRequest) { req.Group = group }
}

// WithPriority sets the eviction priority of the item
func WithPriority(p cache.EvictionPriority) ItemOption {
	return func(req *common.ItemRequest) { req.Priority = int32(p) }
}

// WithLock writes through the lock with the given id and releases it
func WithLock(lockID string) ItemOption {
	return func(req *common.ItemRequest) {
		req.LockID = lockID
		req.LockAccessType = uint8(cache.LockRelease)
	}
}

// WithVersion sets the version the item is stored with
func WithVersion(v uint64) ItemOption {
	return func(req *common.ItemRequest) { req.ItemVersion = v }
}

func itemRequest(key string, value []byte, opts []ItemOption) *common.ItemRequest {
	req := common.NewItemRequest(key, value)
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// --------------------------------------------------------------------------
// Single items
// --------------------------------------------------------------------------

// Add stores a new item and returns its version. It fails with
// ErrorCodeKeyExists if the key is present.
func (c *Client) Add(key string, value []byte, opts ...ItemOption) (uint64, error) {
	var resp common.VersionResponse
	if err := c.invoke(common.CmdAdd, itemRequest(key, value, opts), &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// Insert stores an item, replacing an existing one, and returns its version
func (c *Client) Insert(key string, value []byte, opts ...ItemOption) (uint64, error) {
	var resp common.VersionResponse
	if err := c.invoke(common.CmdInsert, itemRequest(key, value, opts), &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// Get returns the value of key, ok is false for a miss
func (c *Client) Get(key string) (value []byte, ok bool, err error) {
	var resp common.ItemResponse
	if err = c.invoke(common.CmdGet, &common.KeyRequest{Key: key}, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Found || resp.Item == nil {
		return nil, false, nil
	}
	return resp.Item.Bytes(), true, nil
}

// GetCacheItem returns the item of key with its metadata, nil for a miss
func (c *Client) GetCacheItem(key string) (*common.ItemData, error) {
	var resp common.ItemResponse
	if err := c.invoke(common.CmdGetCacheItem, &common.KeyRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.Item, nil
}

// GetAndLock reads key and locks it for timeout. If the item is locked by
// someone else, ok is false and lockID names the held lock.
func (c *Client) GetAndLock(key string, timeout time.Duration) (value []byte, lockID string, ok bool, err error) {
	var resp common.ItemResponse
	req := &common.KeyRequest{
		Key:            key,
		LockAccessType: uint8(cache.LockAcquire),
		LockTimeoutMs:  timeout.Milliseconds(),
	}
	if err = c.invoke(common.CmdGet, req, &resp); err != nil {
		return nil, "", false, err
	}
	if !resp.Found || resp.Item == nil {
		return nil, resp.LockID, false, nil
	}
	return resp.Item.Bytes(), resp.LockID, true, nil
}

// Remove deletes key and returns the removed value, ok is false if the key
// was not present
func (c *Client) Remove(key string) (value []byte, ok bool, err error) {
	var resp common.ItemResponse
	if err = c.invoke(common.CmdRemove, &common.KeyRequest{Key: key}, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Found || resp.Item == nil {
		return nil, false, nil
	}
	return resp.Item.Bytes(), true, nil
}

// Delete deletes key without returning its value
func (c *Client) Delete(key string) error {
	var resp common.BoolResponse
	return c.invoke(common.CmdDelete, &common.KeyRequest{Key: key}, &resp)
}

// Contains reports whether key is present
func (c *Client) Contains(key string) (bool, error) {
	var resp common.BoolResponse
	if err := c.invoke(common.CmdContains, &common.KeyRequest{Key: key}, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

// Count returns the number of items in the cache
func (c *Client) Count() (int64, error) {
	var resp common.CountResponse
	if err := c.invoke(common.CmdCount, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Clear removes every item of the cache
func (c *Client) Clear() error {
	var resp common.BoolResponse
	return c.invoke(common.CmdClear, &common.KeysRequest{}, &resp)
}

// --------------------------------------------------------------------------
// Locking
// --------------------------------------------------------------------------

// LockInfo describes the lock of an item
type LockInfo struct {
	Locked bool
	LockID string
	// LockTime is the time the lock was taken
	LockTime time.Time
}

func lockInfo(resp *common.LockResponse) LockInfo {
	info := LockInfo{Locked: resp.Locked, LockID: resp.LockID}
	if resp.LockTime > 0 {
		info.LockTime = query.TicksToTime(resp.LockTime)
	}
	return info
}

// Lock locks key for timeout. If the key is already locked, Locked is false
// and the info describes the held lock.
func (c *Client) Lock(key string, timeout time.Duration) (LockInfo, error) {
	var resp common.LockResponse
	req := &common.KeyRequest{Key: key, LockTimeoutMs: timeout.Milliseconds()}
	if err := c.invoke(common.CmdLock, req, &resp); err != nil {
		return LockInfo{}, err
	}
	return lockInfo(&resp), nil
}

// Unlock releases the lock lockID holds on key. An empty lockID releases the
// lock regardless of its owner.
func (c *Client) Unlock(key, lockID string) error {
	var resp common.BoolResponse
	req := &common.KeyRequest{Key: key, LockID: lockID, IsPreemptive: lockID == ""}
	return c.invoke(common.CmdUnlock, req, &resp)
}

// IsLocked returns the lock state of key
func (c *Client) IsLocked(key string) (LockInfo, error) {
	var resp common.LockResponse
	if err := c.invoke(common.CmdIsLocked, &common.KeyRequest{Key: key}, &resp); err != nil {
		return LockInfo{}, err
	}
	return lockInfo(&resp), nil
}

// --------------------------------------------------------------------------
// Bulk
// --------------------------------------------------------------------------

// BulkInsert stores all items and returns the outcome per key in the order
// of the request
func (c *Client) BulkInsert(items map[string][]byte, opts ...ItemOption) ([]common.KeyOutcome, error) {
	req := &common.BulkItemRequest{Items: make([]common.ItemRequest, 0, len(items))}
	for key, value := range items {
		req.Items = append(req.Items, *itemRequest(key, value, opts))
	}
	return c.bulk(common.CmdBulkInsert, req)
}

// BulkGet returns the values of the present keys
func (c *Client) BulkGet(keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := invokeChunked(c, common.CmdBulkGet, &common.KeysRequest{Keys: keys}, func(chunk *common.BulkResponse) {
		for _, r := range chunk.Results {
			if r.Found && r.Item != nil {
				out[r.Key] = r.Item.Bytes()
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkRemove deletes all keys and returns the outcome per key
func (c *Client) BulkRemove(keys ...string) ([]common.KeyOutcome, error) {
	return c.bulk(common.CmdBulkRemove, &common.KeysRequest{Keys: keys})
}

// bulk merges the outcomes of all chunks of a bulk response
func (c *Client) bulk(typ common.CommandType, req any) ([]common.KeyOutcome, error) {
	var out []common.KeyOutcome
	err := invokeChunked(c, typ, req, func(chunk *common.BulkResponse) {
		out = append(out, chunk.Results...)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

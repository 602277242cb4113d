package command

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
)

// keysInfo is the parsed form of the commands addressing several keys
type keysInfo struct {
	req   common.KeysRequest
	flags *cache.BitSet
}

// bulkItemsInfo is the parsed form of BulkAdd and BulkInsert. keys and
// entries are parallel.
type bulkItemsInfo struct {
	req     common.BulkItemRequest
	keys    []string
	entries []*cache.CacheEntry
}

func registerBulk(r *Registry, inst *Instance) {
	for _, t := range []common.CommandType{common.CmdBulkAdd, common.CmdBulkInsert} {
		register(r, inst, &Descriptor[bulkItemsInfo]{
			Type:      t,
			Bulk:      true,
			LargeData: true,
			Parse:     parseBulkItems,
			Execute:   executeBulkWrite,
			Describe:  describeBulkItems,
			Items:     func(info *bulkItemsInfo) int { return len(info.keys) },
		})
	}
	for _, t := range []common.CommandType{common.CmdBulkGet, common.CmdBulkGetCacheItem} {
		register(r, inst, &Descriptor[keysInfo]{
			Type:      t,
			Bulk:      true,
			LargeData: true,
			Parse:     parseKeys,
			Execute:   executeBulkGet,
			Describe:  describeKeys,
			Items:     countKeys,
		})
	}
	for _, t := range []common.CommandType{common.CmdBulkRemove, common.CmdBulkDelete} {
		register(r, inst, &Descriptor[keysInfo]{
			Type:      t,
			Bulk:      true,
			LargeData: t == common.CmdBulkRemove,
			Parse:     parseKeys,
			Execute:   executeBulkRemove,
			Describe:  describeKeys,
			Items:     countKeys,
		})
	}
	register(r, inst, &Descriptor[keysInfo]{
		Type:     common.CmdContainsBulk,
		Bulk:     true,
		Parse:    parseKeys,
		Describe: describeKeys,
		Items:    countKeys,
		Execute: func(c *Call, info *keysInfo) error {
			exists, err := c.Cache().ContainsBulk(info.req.Keys, c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.Respond(&common.ContainsBulkResponse{Exists: exists})
		},
	})
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

func parseKeys(c *Call) (info keysInfo, err error) {
	if err = c.Decode(&info.req); err != nil {
		return info, err
	}
	for i, k := range info.req.Keys {
		if k == "" {
			return info, errors.Newf("empty key at index %d", i)
		}
	}
	info.flags = c.Flags(info.req.Flags)
	return info, nil
}

func parseBulkItems(c *Call) (info bulkItemsInfo, err error) {
	if err = c.Decode(&info.req); err != nil {
		return info, err
	}
	info.keys = make([]string, len(info.req.Items))
	info.entries = make([]*cache.CacheEntry, len(info.req.Items))
	for i := range info.req.Items {
		entry, err := c.entry(&info.req.Items[i])
		if err != nil {
			return info, errors.Wrapf(err, "item %d", i)
		}
		info.keys[i] = info.req.Items[i].Key
		info.entries[i] = entry
	}
	return info, nil
}

func countKeys(info *keysInfo) int { return len(info.req.Keys) }

func describeKeys(info *keysInfo) string {
	return fmt.Sprintf("keys=%d [%s]", len(info.req.Keys), abbreviate(info.req.Keys, 10))
}

func describeBulkItems(info *bulkItemsInfo) string {
	size := 0
	for i := range info.req.Items {
		size += valueSize(info.req.Items[i].Value)
	}
	return fmt.Sprintf("items=%d size=%d [%s]", len(info.keys), size, abbreviate(info.keys, 10))
}

// abbreviate joins the first n keys
func abbreviate(keys []string, n int) string {
	if len(keys) <= n {
		return strings.Join(keys, ",")
	}
	return strings.Join(keys[:n], ",") + fmt.Sprintf(",... (%d more)", len(keys)-n)
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

// outcomes converts the engine result into one outcome per requested key, in
// request order. A failing key never fails the command.
func (c *Call) outcomes(keys []string, res cache.BulkResult, withItems bool) []common.KeyOutcome {
	sendTrace := c.Inst.Config.SendStackTraces
	out := make([]common.KeyOutcome, len(keys))
	for i, key := range keys {
		kr := res[key]
		o := common.KeyOutcome{Key: key, Version: kr.Version, Found: kr.Found}
		if kr.Err != nil {
			o.Error = DescribeError(kr.Err, sendTrace)
		}
		if withItems && kr.Item != nil {
			data := c.itemData(kr.Item, true)
			o.Item = &data
			o.Found = true
			if o.Version == 0 {
				o.Version = kr.Item.Version
			}
		}
		out[i] = o
	}
	return out
}

func executeBulkWrite(c *Call, info *bulkItemsInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	if len(info.entries) > 0 {
		ApplyFlags(oc, info.entries[0].Flags, info.req.Items[0].ProviderName)
	}

	var (
		res cache.BulkResult
		err error
	)
	if c.typ == common.CmdBulkAdd {
		oc.Add(opctx.FieldRaiseCQNotification, true)
		res, err = c.Cache().AddBulk(info.keys, info.entries, oc)
	} else {
		res, err = c.Cache().InsertBulk(info.keys, info.entries, oc)
	}
	if err != nil {
		return err
	}
	return c.Respond(&common.BulkResponse{Results: c.outcomes(info.keys, res, false)})
}

func executeBulkGet(c *Call, info *keysInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	ApplyFlags(oc, info.flags, info.req.ProviderName)
	res, err := c.Cache().GetBulk(info.req.Keys, info.flags, oc)
	if err != nil {
		return err
	}
	results := c.outcomes(info.req.Keys, res, true)
	if c.typ == common.CmdBulkGet {
		for i := range results {
			if d := results[i].Item; d != nil {
				results[i].Item = &common.ItemData{Key: d.Key, Value: d.Value, Flags: d.Flags, Version: d.Version}
			}
		}
	}

	size := c.Inst.Config.ChunkSize
	return RespondChunks(c, ChunkCount(len(results), size), func(i int) *common.BulkResponse {
		if len(results) == 0 {
			return &common.BulkResponse{}
		}
		start := i * size
		end := min(start+size, len(results))
		if size <= 0 {
			start, end = 0, len(results)
		}
		return &common.BulkResponse{Results: results[start:end]}
	})
}

func executeBulkRemove(c *Call, info *keysInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	ApplyFlags(oc, info.flags, info.req.ProviderName)

	var (
		res cache.BulkResult
		err error
	)
	remove := c.typ == common.CmdBulkRemove
	if remove {
		res, err = c.Cache().RemoveBulk(info.req.Keys, info.flags, oc)
	} else {
		res, err = c.Cache().DeleteBulk(info.req.Keys, info.flags, oc)
	}
	if err != nil {
		return err
	}
	return c.Respond(&common.BulkResponse{Results: c.outcomes(info.req.Keys, res, remove)})
}

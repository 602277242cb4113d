package command

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/dialect"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
)

// queryInfo is the parsed form of the query commands
type queryInfo struct {
	req common.QueryRequest
	// query has its $Text$ placeholder expanded and its type resolved for the client dialect
	query  string
	params map[string]any
	cq     *cache.ContinuousQuery
}

type tagInfo struct {
	req common.TagRequest
	cmp cache.TagComparison
}

func registerQueries(r *Registry, inst *Instance) {
	queries := map[common.CommandType]func(c *Call, info *queryInfo) error{
		common.CmdSearch:          executeSearch,
		common.CmdSearchEntries:   executeSearch,
		common.CmdSearchCQ:        executeSearch,
		common.CmdSearchEntriesCQ: executeSearch,
		common.CmdExecuteReader:   executeReader,
		common.CmdExecuteReaderCQ: executeReader,
		common.CmdDeleteQuery:     executeDeleteQuery,
	}
	for _, t := range []common.CommandType{
		common.CmdSearch, common.CmdSearchEntries, common.CmdSearchCQ, common.CmdSearchEntriesCQ,
		common.CmdExecuteReader, common.CmdExecuteReaderCQ, common.CmdDeleteQuery,
	} {
		register(r, inst, &Descriptor[queryInfo]{
			Type:      t,
			LargeData: t != common.CmdDeleteQuery && t != common.CmdSearch && t != common.CmdSearchCQ,
			Parse:     parseQuery,
			Execute:   queries[t],
			Describe:  describeQuery,
		})
	}

	register(r, inst, &Descriptor[common.CQRequest]{
		Type:  common.CmdUnregisterCQ,
		Parse: decodeAs[common.CQRequest],
		Execute: func(c *Call, req *common.CQRequest) error {
			err := c.Cache().UnregisterCQ(req.CQID, req.ClientUniqueID, c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.Respond(&common.BoolResponse{Value: true})
		},
		Describe: func(req *common.CQRequest) string { return "cq=" + req.CQID },
	})

	register(r, inst, &Descriptor[common.ReaderRequest]{
		Type:      common.CmdGetReaderChunk,
		LargeData: true,
		Parse:     decodeAs[common.ReaderRequest],
		Execute: func(c *Call, req *common.ReaderRequest) error {
			rs, err := c.Cache().GetReaderChunk(req.ReaderID, int(req.NextIndex), c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.respondReader(rs)
		},
		Describe: describeReader,
	})
	register(r, inst, &Descriptor[common.ReaderRequest]{
		Type:  common.CmdDisposeReader,
		Parse: decodeAs[common.ReaderRequest],
		Execute: func(c *Call, req *common.ReaderRequest) error {
			if err := c.Cache().DisposeReader(req.ReaderID, c.OperationContext(opctx.CacheOperation)); err != nil {
				return err
			}
			return c.Respond(&common.BoolResponse{Value: true})
		},
		Describe: describeReader,
	})

	for _, t := range []common.CommandType{common.CmdGetByTag, common.CmdGetKeysByTag, common.CmdRemoveByTag} {
		register(r, inst, &Descriptor[tagInfo]{
			Type:      t,
			LargeData: t == common.CmdGetByTag,
			Parse:     parseTags,
			Execute:   executeTags,
			Describe: func(info *tagInfo) string {
				return fmt.Sprintf("tags=%v comparison=%d", info.req.Tags, info.cmp)
			},
		})
	}
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

func parseQuery(c *Call) (info queryInfo, err error) {
	if err = c.Decode(&info.req); err != nil {
		return info, err
	}
	if info.req.Query == "" {
		return info, errors.New("empty query")
	}
	info.query = dialect.PrepareQuery(c.Session.Dialect, info.req.Query)
	if info.params, err = c.params(info.req.Params); err != nil {
		return info, err
	}

	switch c.typ {
	case common.CmdSearchCQ, common.CmdSearchEntriesCQ, common.CmdExecuteReaderCQ:
		spec := info.req.CQ
		if spec == nil {
			return info, errors.Newf("%s without continuous query", c.typ)
		}
		info.cq = &cache.ContinuousQuery{
			ClientID:         c.Session.ClientID,
			ClientUniqueID:   spec.ClientUniqueID,
			NotifyAdd:        spec.NotifyAdd,
			NotifyUpdate:     spec.NotifyUpdate,
			NotifyRemove:     spec.NotifyRemove,
			AddDataFilter:    cache.DataFilterFromWire(spec.AddDataFilter),
			UpdateDataFilter: cache.DataFilterFromWire(spec.UpdateDataFilter),
			RemoveDataFilter: cache.DataFilterFromWire(spec.RemoveDataFilter),
		}
	}
	return info, nil
}

func parseTags(c *Call) (info tagInfo, err error) {
	if err = c.Decode(&info.req); err != nil {
		return info, err
	}
	if len(info.req.Tags) == 0 {
		return info, errors.New("no tags")
	}
	info.cmp = cache.TagComparison(info.req.Comparison)
	if info.cmp > cache.TagByTag {
		return info, errors.Newf("invalid tag comparison %d", info.req.Comparison)
	}
	return info, nil
}

func describeQuery(info *queryInfo) string {
	return fmt.Sprintf("query=%q params=%d cq=%t", info.query, len(info.params), info.cq != nil)
}

func describeReader(req *common.ReaderRequest) string {
	return fmt.Sprintf("reader=%s next=%d", req.ReaderID, req.NextIndex)
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

func executeSearch(c *Call, info *queryInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	entries := c.typ == common.CmdSearchEntries || c.typ == common.CmdSearchEntriesCQ

	var (
		res *cache.QueryResult
		err error
	)
	switch {
	case info.cq != nil:
		res, err = c.Cache().SearchCQ(info.query, info.params, entries, info.cq, oc)
	case entries:
		res, err = c.Cache().SearchEntries(info.query, info.params, oc)
	default:
		res, err = c.Cache().Search(info.query, info.params, oc)
	}
	if err != nil {
		return err
	}

	resp := &common.QueryResponse{Keys: res.Keys, CQID: res.CQID}
	if entries {
		resp.Keys = nil
		resp.Items = make([]common.ItemData, 0, len(res.Entries))
		for _, it := range res.Entries {
			resp.Items = append(resp.Items, c.itemData(it, true))
		}
	}
	return c.Respond(resp)
}

func executeReader(c *Call, info *queryInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	chunkSize := int(info.req.ChunkSize)
	if chunkSize <= 0 {
		chunkSize = c.Inst.Config.ChunkSize
	}

	var (
		rs  *cache.ReaderResultSet
		err error
	)
	if info.cq != nil {
		rs, err = c.Cache().ExecuteReaderCQ(info.query, info.params, info.req.GetData, chunkSize, info.cq, oc)
	} else {
		rs, err = c.Cache().ExecuteReader(info.query, info.params, info.req.GetData, chunkSize, oc)
	}
	if err != nil {
		return err
	}
	return c.respondReader(rs)
}

// respondReader sends the rows of one reader chunk, split into packets of
// the configured chunk size
func (c *Call) respondReader(rs *cache.ReaderResultSet) error {
	rows := make([]common.ItemData, len(rs.Rows))
	for i, it := range rs.Rows {
		rows[i] = c.itemData(it, it.Value != nil)
	}
	size := c.Inst.Config.ChunkSize
	return RespondChunks(c, ChunkCount(len(rows), size), func(i int) *common.ReaderResponse {
		resp := &common.ReaderResponse{
			ReaderID:  rs.ReaderID,
			NodeAddr:  rs.NodeAddr,
			NextIndex: int32(rs.NextIndex),
			IsLast:    rs.IsLast,
			CQID:      rs.CQID,
		}
		if len(rows) > 0 {
			start, end := 0, len(rows)
			if size > 0 {
				start = i * size
				end = min(start+size, len(rows))
			}
			resp.Rows = rows[start:end]
		}
		return resp
	})
}

func executeDeleteQuery(c *Call, info *queryInfo) error {
	n, err := c.Cache().DeleteQuery(info.query, info.params, c.OperationContext(opctx.CacheOperation))
	if err != nil {
		return err
	}
	return c.Respond(&common.CountResponse{Count: int64(n)})
}

func executeTags(c *Call, info *tagInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	switch c.typ {
	case common.CmdGetKeysByTag:
		keys, err := c.Cache().GetKeysByTag(info.req.Tags, info.cmp, oc)
		if err != nil {
			return err
		}
		return c.Respond(&common.KeysResponse{Keys: keys})
	case common.CmdRemoveByTag:
		n, err := c.Cache().RemoveByTag(info.req.Tags, info.cmp, oc)
		if err != nil {
			return err
		}
		return c.Respond(&common.CountResponse{Count: int64(n)})
	}

	items, err := c.Cache().GetByTag(info.req.Tags, info.cmp, oc)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	resp := &common.QueryResponse{Items: make([]common.ItemData, 0, len(keys))}
	for _, k := range keys {
		resp.Items = append(resp.Items, c.itemData(items[k], true))
	}
	return c.Respond(resp)
}

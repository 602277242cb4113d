package command

import (
	"fmt"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/dialect"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
)

type mapReduceInfo struct {
	req  common.MapReduceRequest
	task *cache.MapReduceTask
}

func registerProcessing(r *Registry, inst *Instance) {
	register(r, inst, &Descriptor[common.EnumRequest]{
		Type:  common.CmdGetNextChunk,
		Parse: decodeAs[common.EnumRequest],
		Execute: func(c *Call, req *common.EnumRequest) error {
			size := int(req.ChunkSize)
			if size <= 0 {
				size = c.Inst.Config.ChunkSize
			}
			pointer := &cache.EnumerationPointer{ID: req.PointerID, ChunkID: int(req.ChunkID), Disposed: req.Disposed}
			chunk, err := c.Cache().GetNextChunk(pointer, size, c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.Respond(&common.EnumResponse{
				PointerID: chunk.Pointer.ID,
				ChunkID:   int32(chunk.Pointer.ChunkID),
				Disposed:  chunk.Pointer.Disposed,
				Keys:      chunk.Keys,
				IsLast:    chunk.IsLast,
			})
		},
		Describe: func(req *common.EnumRequest) string {
			return fmt.Sprintf("pointer=%s chunk=%d disposed=%t", req.PointerID, req.ChunkID, req.Disposed)
		},
	})

	register(r, inst, &Descriptor[mapReduceInfo]{
		Type: common.CmdSubmitMapReduceTask,
		Parse: func(c *Call) (info mapReduceInfo, err error) {
			if err = c.Decode(&info.req); err != nil {
				return info, err
			}
			if info.req.TaskID == "" {
				return info, errors.New("map reduce task without id")
			}
			params, err := c.params(info.req.Params)
			if err != nil {
				return info, err
			}
			info.task = &cache.MapReduceTask{
				TaskID:   info.req.TaskID,
				Mapper:   info.req.Mapper,
				Combiner: info.req.Combiner,
				Reducer:  info.req.Reducer,
				Query:    dialect.PrepareQuery(c.Session.Dialect, info.req.Query),
				Params:   params,
			}
			return info, nil
		},
		Execute: func(c *Call, info *mapReduceInfo) error {
			if err := c.Cache().SubmitMapReduceTask(info.task, c.OperationContext(opctx.CacheOperation)); err != nil {
				return err
			}
			return c.Respond(&common.BoolResponse{Value: true})
		},
		Describe: func(info *mapReduceInfo) string { return "task=" + info.req.TaskID },
	})

	register(r, inst, &Descriptor[common.EntryProcessorRequest]{
		Type:  common.CmdInvokeEntryProcessor,
		Bulk:  true,
		Parse: decodeAs[common.EntryProcessorRequest],
		Execute: func(c *Call, req *common.EntryProcessorRequest) error {
			res, err := c.Cache().InvokeEntryProcessor(req.Keys, req.Processor, c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.Respond(&common.BulkResponse{Results: c.outcomes(req.Keys, res, true)})
		},
		Describe: func(req *common.EntryProcessorRequest) string {
			return fmt.Sprintf("keys=[%s] processor=%d bytes", abbreviate(req.Keys, 10), len(req.Processor))
		},
		Items: func(req *common.EntryProcessorRequest) int { return len(req.Keys) },
	})
}

package command

import (
	"fmt"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
)

type notificationInfo struct {
	req            common.NotificationRequest
	update, remove *cache.CallbackInfo
}

func registerNotifications(r *Registry, inst *Instance) {
	for _, t := range []common.CommandType{
		common.CmdRegisterKeyNotification, common.CmdUnregisterKeyNotification,
		common.CmdRegisterBulkKeyNotification, common.CmdUnregisterBulkKeyNotification,
	} {
		bulk := t == common.CmdRegisterBulkKeyNotification || t == common.CmdUnregisterBulkKeyNotification
		register(r, inst, &Descriptor[notificationInfo]{
			Type:    t,
			Bulk:    bulk,
			Parse:   parseNotification,
			Execute: executeNotification,
			Describe: func(info *notificationInfo) string {
				return fmt.Sprintf("keys=[%s] update=%d remove=%d filter=%d",
					abbreviate(info.req.Keys, 10), info.req.UpdateCallbackID, info.req.RemoveCallbackID, info.req.DataFilter)
			},
			Items: func(info *notificationInfo) int { return len(info.req.Keys) },
		})
	}

	register(r, inst, &Descriptor[struct{}]{
		Type:  common.CmdRegisterPollingNotification,
		Parse: noPayload,
		Execute: func(c *Call, _ *struct{}) error {
			if err := c.Cache().RegisterPolling(c.Session.ClientID, c.OperationContext(opctx.CacheOperation)); err != nil {
				return err
			}
			return c.Respond(&common.BoolResponse{Value: true})
		},
	})
	register(r, inst, &Descriptor[struct{}]{
		Type:  common.CmdPoll,
		Parse: noPayload,
		Execute: func(c *Call, _ *struct{}) error {
			res, err := c.Cache().Poll(c.Session.ClientID, c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.Respond(&common.PollResponse{
				Added:   res.AddedKeys,
				Updated: res.UpdatedKeys,
				Removed: res.RemovedKeys,
			})
		},
	})
}

func parseNotification(c *Call) (info notificationInfo, err error) {
	if err = c.Decode(&info.req); err != nil {
		return info, err
	}
	switch {
	case len(info.req.Keys) == 0:
		return info, errors.New("no keys")
	case len(info.req.Keys) > 1 && (c.typ == common.CmdRegisterKeyNotification || c.typ == common.CmdUnregisterKeyNotification):
		return info, errors.Newf("%s takes one key, got %d", c.typ, len(info.req.Keys))
	}
	filter := cache.DataFilterFromWire(info.req.DataFilter)
	info.update = callback(c.Session.ClientID, info.req.UpdateCallbackID, filter)
	info.remove = callback(c.Session.ClientID, info.req.RemoveCallbackID, filter)
	if info.update == nil && info.remove == nil {
		return info, errors.New("no callback id")
	}
	return info, nil
}

func executeNotification(c *Call, info *notificationInfo) error {
	oc := c.OperationContext(opctx.CacheOperation)
	var err error
	switch c.typ {
	case common.CmdRegisterKeyNotification, common.CmdRegisterBulkKeyNotification:
		err = c.Cache().RegisterKeyNotification(info.req.Keys, info.update, info.remove, oc)
	default:
		err = c.Cache().UnregisterKeyNotification(info.req.Keys, info.update, info.remove, oc)
	}
	if err != nil {
		return err
	}
	return c.Respond(&common.BoolResponse{Value: true})
}

package command

import (
	"fmt"
	"sort"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/lib/query"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func registerTopics(r *Registry, inst *Instance) {
	for _, t := range []common.CommandType{
		common.CmdGetTopic, common.CmdRemoveTopic, common.CmdSubscribeTopic, common.CmdUnsubscribeTopic,
	} {
		register(r, inst, &Descriptor[common.TopicRequest]{
			Type:     t,
			Parse:    parseTopic,
			Execute:  executeTopicOperation,
			Describe: describeTopic,
		})
	}
	register(r, inst, &Descriptor[common.TopicRequest]{
		Type:  common.CmdMessageCount,
		Parse: parseTopic,
		Execute: func(c *Call, req *common.TopicRequest) error {
			n, err := c.Cache().GetTopicMessageCount(req.Topic, c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.Respond(&common.CountResponse{Count: n})
		},
		Describe: describeTopic,
	})

	register(r, inst, &Descriptor[cache.TopicMessage]{
		Type:      common.CmdMessagePublish,
		LargeData: true,
		Parse:     parsePublish,
		Execute: func(c *Call, msg *cache.TopicMessage) error {
			if err := c.Cache().PublishMessage(msg, c.OperationContext(opctx.CacheOperation)); err != nil {
				return err
			}
			return c.Respond(&common.BoolResponse{Value: true})
		},
		Describe: func(msg *cache.TopicMessage) string {
			return fmt.Sprintf("topic=%s id=%s size=%d delivery=%d", msg.Topic, msg.ID, len(msg.Payload), msg.Delivery)
		},
	})

	register(r, inst, &Descriptor[common.GetMessageRequest]{
		Type:      common.CmdGetMessage,
		LargeData: true,
		Parse:     decodeAs[common.GetMessageRequest],
		Execute:   executeGetMessage,
		Describe: func(req *common.GetMessageRequest) string {
			return "subscription=" + req.SubscriptionID
		},
	})

	register(r, inst, &Descriptor[common.AckRequest]{
		Type:  common.CmdMessageAcknowledgment,
		Parse: decodeAs[common.AckRequest],
		Execute: func(c *Call, req *common.AckRequest) error {
			err := c.Cache().AcknowledgeMessageReceipt(c.Session.ClientID, req.Acks, c.OperationContext(opctx.CacheOperation))
			if err != nil {
				return err
			}
			return c.Respond(&common.BoolResponse{Value: true})
		},
		Describe: func(req *common.AckRequest) string {
			n := 0
			for _, ids := range req.Acks {
				n += len(ids)
			}
			return fmt.Sprintf("topics=%d messages=%d", len(req.Acks), n)
		},
	})
}

func parseTopic(c *Call) (req common.TopicRequest, err error) {
	if err = c.Decode(&req); err != nil {
		return req, err
	}
	if req.Topic == "" {
		return req, errors.New("empty topic name")
	}
	if (c.typ == common.CmdSubscribeTopic || c.typ == common.CmdUnsubscribeTopic) && req.SubscriptionID == "" {
		return req, errors.Newf("%s without subscription id", c.typ)
	}
	return req, nil
}

func describeTopic(req *common.TopicRequest) string {
	return fmt.Sprintf("topic=%s subscription=%s", req.Topic, req.SubscriptionID)
}

func executeTopicOperation(c *Call, req *common.TopicRequest) error {
	op := &cache.TopicOperation{Topic: req.Topic}
	switch c.typ {
	case common.CmdGetTopic:
		op.Type = cache.TopicGet
		if req.Create {
			op.Type = cache.TopicCreate
		}
	case common.CmdRemoveTopic:
		op.Type = cache.TopicRemove
	case common.CmdSubscribeTopic, common.CmdUnsubscribeTopic:
		op.Type = cache.TopicSubscribe
		if c.typ == common.CmdUnsubscribeTopic {
			op.Type = cache.TopicUnsubscribe
		}
		op.Subscription = &cache.SubscriptionInfo{
			SubscriptionID: req.SubscriptionID,
			ClientID:       c.Session.ClientID,
			Policy:         cache.SubscriptionPolicy(req.Policy),
		}
	}
	ok, err := c.Cache().TopicOperation(op, c.OperationContext(opctx.CacheOperation))
	if err != nil {
		return err
	}
	return c.Respond(&common.BoolResponse{Value: ok})
}

func parsePublish(c *Call) (msg cache.TopicMessage, err error) {
	var req common.PublishRequest
	if err = c.Decode(&req); err != nil {
		return msg, err
	}
	if req.Topic == "" {
		return msg, errors.New("empty topic name")
	}
	if req.Delivery > uint8(cache.DeliverAll) {
		return msg, errors.Newf("invalid delivery option %d", req.Delivery)
	}
	now := time.Now()
	msg = cache.TopicMessage{
		ID:           req.MessageID,
		Topic:        req.Topic,
		Payload:      req.Payload,
		Flags:        req.Flags,
		Delivery:     cache.DeliveryOption(req.Delivery),
		CreationTime: now,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if req.ExpirationMs > 0 {
		msg.ExpirationTime = now.Add(time.Duration(req.ExpirationMs) * time.Millisecond)
	}
	return msg, nil
}

func executeGetMessage(c *Call, req *common.GetMessageRequest) error {
	sub := &cache.SubscriptionInfo{SubscriptionID: req.SubscriptionID, ClientID: c.Session.ClientID}
	byTopic, err := c.Cache().GetAssignedMessages(sub, c.OperationContext(opctx.CacheOperation))
	if err != nil {
		return err
	}
	resp := &common.MessagesResponse{}
	if len(byTopic) > 0 {
		resp.Messages = make(map[string][]common.MessageData, len(byTopic))
	}
	for topic, msgs := range byTopic {
		out := make([]common.MessageData, 0, len(msgs))
		for _, m := range msgs {
			d := common.MessageData{
				ID:           m.ID,
				Payload:      m.Payload,
				Flags:        m.Flags,
				Delivery:     uint8(m.Delivery),
				CreationTime: query.TimeToTicks(m.CreationTime),
			}
			if !m.ExpirationTime.IsZero() {
				d.ExpirationTime = query.TimeToTicks(m.ExpirationTime)
			}
			out = append(out, d)
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreationTime < out[j].CreationTime })
		resp.Messages[topic] = out
	}
	return c.Respond(resp)
}

package client

import (
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/query"
	"github.com/ValentinKolb/dCache/rpc/common"
)

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Param returns a query parameter with one value of the given platform type
func Param(name, typeName, value string) query.Param {
	return query.Param{Name: name, Values: []query.TypedValue{{Type: typeName, Value: &value}}}
}

// Search returns the keys of the items matching q
func (c *Client) Search(q string, params ...query.Param) ([]string, error) {
	var keys []string
	err := invokeChunked(c, common.CmdSearch, &common.QueryRequest{Query: q, Params: params}, func(chunk *common.QueryResponse) {
		keys = append(keys, chunk.Keys...)
	})
	return keys, err
}

// SearchEntries returns the items matching q
func (c *Client) SearchEntries(q string, params ...query.Param) ([]common.ItemData, error) {
	var items []common.ItemData
	err := invokeChunked(c, common.CmdSearchEntries, &common.QueryRequest{Query: q, Params: params}, func(chunk *common.QueryResponse) {
		items = append(items, chunk.Items...)
	})
	return items, err
}

// DeleteQuery removes the items matching q and returns how many were removed
func (c *Client) DeleteQuery(q string, params ...query.Param) (int64, error) {
	var resp common.CountResponse
	if err := c.invoke(common.CmdDeleteQuery, &common.QueryRequest{Query: q, Params: params}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// --------------------------------------------------------------------------
// Tags
// --------------------------------------------------------------------------

// GetKeysByTag returns the keys of the items carrying the tags
func (c *Client) GetKeysByTag(cmp cache.TagComparison, tags ...string) ([]string, error) {
	var resp common.KeysResponse
	req := &common.TagRequest{Tags: normalizeTags(tags), Comparison: uint8(cmp)}
	if err := c.invoke(common.CmdGetKeysByTag, req, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// RemoveByTag removes the items carrying the tags and returns their number
func (c *Client) RemoveByTag(cmp cache.TagComparison, tags ...string) (int64, error) {
	var resp common.CountResponse
	req := &common.TagRequest{Tags: normalizeTags(tags), Comparison: uint8(cmp)}
	if err := c.invoke(common.CmdRemoveByTag, req, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// --------------------------------------------------------------------------
// Topics
// --------------------------------------------------------------------------

// GetTopic reports whether topic exists, create creates a missing topic
func (c *Client) GetTopic(topic string, create bool) (bool, error) {
	var resp common.BoolResponse
	if err := c.invoke(common.CmdGetTopic, &common.TopicRequest{Topic: topic, Create: create}, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

// RemoveTopic removes topic with its messages and subscriptions
func (c *Client) RemoveTopic(topic string) (bool, error) {
	var resp common.BoolResponse
	if err := c.invoke(common.CmdRemoveTopic, &common.TopicRequest{Topic: topic}, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

// Subscribe registers the subscription with the given id on topic
func (c *Client) Subscribe(topic, subscriptionID string, policy cache.SubscriptionPolicy) error {
	var resp common.BoolResponse
	req := &common.TopicRequest{Topic: topic, SubscriptionID: subscriptionID, Policy: uint8(policy)}
	return c.invoke(common.CmdSubscribeTopic, req, &resp)
}

// Unsubscribe removes the subscription from topic
func (c *Client) Unsubscribe(topic, subscriptionID string) error {
	var resp common.BoolResponse
	return c.invoke(common.CmdUnsubscribeTopic, &common.TopicRequest{Topic: topic, SubscriptionID: subscriptionID}, &resp)
}

// Publish sends payload to every subscription of topic. An empty id lets the
// server assign one.
func (c *Client) Publish(topic, messageID string, payload []byte, delivery cache.DeliveryOption) error {
	var resp common.BoolResponse
	req := &common.PublishRequest{Topic: topic, MessageID: messageID, Payload: payload, Delivery: uint8(delivery)}
	return c.invoke(common.CmdMessagePublish, req, &resp)
}

// GetMessages returns the messages assigned to the subscription by topic
func (c *Client) GetMessages(subscriptionID string) (map[string][]common.MessageData, error) {
	var resp common.MessagesResponse
	if err := c.invoke(common.CmdGetMessage, &common.GetMessageRequest{SubscriptionID: subscriptionID}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Acknowledge confirms the receipt of messages, ids are grouped by topic
func (c *Client) Acknowledge(acks map[string][]string) error {
	var resp common.BoolResponse
	return c.invoke(common.CmdMessageAcknowledgment, &common.AckRequest{Acks: acks}, &resp)
}

// MessageCount returns the number of undelivered messages of topic
func (c *Client) MessageCount(topic string) (int64, error) {
	var resp common.CountResponse
	if err := c.invoke(common.CmdMessageCount, &common.TopicRequest{Topic: topic}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Ping checks that the server answers
func (c *Client) Ping() error {
	var resp common.BoolResponse
	return c.invoke(common.CmdPing, nil, &resp)
}

// ProductVersion returns the version of the server
func (c *Client) ProductVersion() (string, error) {
	var resp common.ProductVersionResponse
	if err := c.invoke(common.CmdGetProductVersion, nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Inquiry asks the server what happened to an earlier request of this client
func (c *Client) Inquiry(requestID int64) (common.RequestStatus, error) {
	var resp common.InquiryResponse
	if err := c.invoke(common.CmdInquiryRequest, &common.InquiryRequest{RequestID: requestID}, &resp); err != nil {
		return common.RequestNotReceived, err
	}
	return resp.Status, nil
}

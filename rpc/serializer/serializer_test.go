package serializer

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/ValentinKolb/dCache/lib/dialect"
	"github.com/ValentinKolb/dCache/lib/query"
	"github.com/ValentinKolb/dCache/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":    NewJSONSerializer,
	"GOB":     NewGOBSerializer,
	"Msgpack": NewMsgpackSerializer,
	"Zstd":    func() IRPCSerializer { return NewZstdSerializer(NewMsgpackSerializer()) },
	"ZstdJSON": func() IRPCSerializer {
		return NewZstdSerializer(NewJSONSerializer())
	},
}

type testCase struct {
	name  string
	value any
	// target returns a pointer to a zero value of the same type
	target func() any
}

func strPtr(s string) *string { return &s }

// testValues creates a set of wire values with different fields filled
func testValues() []testCase {
	item := common.NewItemRequest("item-key", []byte("item-value"))
	item.Tags = []string{"a", "b"}
	item.NamedTags = dialect.NamedTags{Names: []string{"Price"}, Types: []string{"System.Int32"}, Values: []string{"3"}}
	item.Expiration = common.ExpirationSpec{Absolute: 638000000000000000, DependencyKeys: []string{"parent"}}
	item.LockAccessType = 7
	item.ItemVersion = 42

	return []testCase{
		{
			name:   "Command",
			value:  &common.Command{Type: common.CmdGet, RequestID: 7, CommandVersion: 1, ClientLastViewID: -1, Payload: []byte("payload")},
			target: func() any { return &common.Command{} },
		},
		{
			name:   "CommandNoPayload",
			value:  &common.Command{Type: common.CmdCount, RequestID: common.NoRequestID},
			target: func() any { return &common.Command{} },
		},
		{
			name:   "ItemRequest",
			value:  item,
			target: func() any { return &common.ItemRequest{} },
		},
		{
			name: "QueryRequest",
			value: &common.QueryRequest{
				Query: "SELECT Product WHERE Price > ?",
				Params: []query.Param{{Name: "Price", Values: []query.TypedValue{
					{Type: "System.Int32", Value: strPtr("3")},
					{Type: "System.Int32"},
				}}},
				CQ: &common.CQSpec{ClientUniqueID: "cq", NotifyAdd: true, AddDataFilter: -1},
			},
			target: func() any { return &common.QueryRequest{} },
		},
		{
			name:   "AckRequest",
			value:  &common.AckRequest{Acks: map[string][]string{"topic": {"m1", "m2"}}},
			target: func() any { return &common.AckRequest{} },
		},
		{
			name: "ItemResponse",
			value: &common.ItemResponse{
				ResponseHeader: common.ResponseHeader{RequestID: 7, CommandID: 2},
				Found:          true,
				Item:           &common.ItemData{Key: "k", Value: [][]byte{[]byte("v")}, Version: 3, NamedTags: map[string]string{"Price": "3"}},
				Version:        3,
			},
			target: func() any { return &common.ItemResponse{} },
		},
		{
			name: "BulkResponse",
			value: &common.BulkResponse{
				ResponseHeader: common.ResponseHeader{RequestID: 9, SequenceID: 1, NumberOfChunks: 2},
				Results: []common.KeyOutcome{
					{Key: "a", Version: 1},
					{Key: "b", Error: &common.ExceptionDescriptor{Type: common.ExceptionOperationFailed, Message: "key already exists", ErrorCode: common.ErrorCodeKeyExists}},
				},
			},
			target: func() any { return &common.BulkResponse{} },
		},
		{
			name:   "LargeValue",
			value:  &common.ItemResponse{Found: true, Item: &common.ItemData{Key: "big", Value: [][]byte{bytes.Repeat([]byte("abc"), 4096)}}},
			target: func() any { return &common.ItemResponse{} },
		},
	}
}

// TestSerializerRoundTrip tests that values can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for _, tc := range testValues() {
				data, err := serializer.Serialize(tc.value)
				if err != nil {
					t.Errorf("Failed to serialize %s: %v", tc.name, err)
					continue
				}

				result := tc.target()
				if err := serializer.Deserialize(data, result); err != nil {
					t.Errorf("Failed to deserialize %s: %v", tc.name, err)
					continue
				}

				if !reflect.DeepEqual(tc.value, result) {
					t.Errorf("%s doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						tc.name, tc.value, result)
				}
			}
		})
	}
}

// TestCommandTypes tests each command type with each serializer
func TestCommandTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for _, cmdType := range common.CommandTypes() {
				data, err := serializer.Serialize(&common.Command{Type: cmdType})
				if err != nil {
					t.Errorf("Failed to serialize command type %s: %v", cmdType, err)
					continue
				}

				var result common.Command
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize command type %s: %v", cmdType, err)
					continue
				}

				if result.Type != cmdType {
					t.Errorf("Command type doesn't match after round trip: Expected %s, got %s", cmdType, result.Type)
				}
			}
		})
	}
}

func TestJSONUsesTypeNames(t *testing.T) {
	data, err := NewJSONSerializer().Serialize(&common.Command{Type: common.CmdBulkGet})
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}
	if !strings.Contains(string(data), `"type":"bulkGet"`) {
		t.Errorf("Expected the type name in %s", data)
	}
}

func TestZstdCompressesLargePayloads(t *testing.T) {
	inner := NewMsgpackSerializer()
	z := NewZstdSerializer(inner)
	value := &common.ItemData{Key: "k", Value: [][]byte{bytes.Repeat([]byte("x"), 64*1024)}}

	plain, _ := inner.Serialize(value)
	compressed, err := z.Serialize(value)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}
	if compressed[0] != frameZstd || len(compressed) >= len(plain) {
		t.Errorf("Expected a compressed frame smaller than %d bytes, got %d bytes", len(plain), len(compressed))
	}

	small, _ := z.Serialize(&common.ItemData{Key: "k"})
	if small[0] != frameRaw {
		t.Errorf("Expected small payloads to stay uncompressed")
	}
}

// TestInvalidData tests how the serializers handle corrupt data
func TestInvalidData(t *testing.T) {
	testCases := []struct {
		name       string
		serializer IRPCSerializer
		data       []byte
	}{
		{"JSON garbage", NewJSONSerializer(), []byte("{not json")},
		{"GOB garbage", NewGOBSerializer(), []byte{0xff, 0x00, 0x13}},
		{"Zstd empty", NewZstdSerializer(NewMsgpackSerializer()), []byte{}},
		{"Zstd unknown marker", NewZstdSerializer(NewMsgpackSerializer()), []byte{9, 1, 2}},
		{"Zstd corrupt frame", NewZstdSerializer(NewMsgpackSerializer()), []byte{frameZstd, 1, 2, 3}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var cmd common.Command
			if err := tc.serializer.Deserialize(tc.data, &cmd); err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "gob", "msgpack", "zstd"} {
		if _, ok := ByName(name); !ok {
			t.Errorf("Expected serializer %s", name)
		}
	}
	if _, ok := ByName("binary"); ok {
		t.Errorf("Expected unknown serializer to be rejected")
	}
}

package common

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dCache/rpc/serializer"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() Codec{
	"JSON":    func() Codec { return serializer.NewJSONSerializer() },
	"GOB":     func() Codec { return serializer.NewGOBSerializer() },
	"Msgpack": func() Codec { return serializer.NewMsgpackSerializer() },
}

func TestStandaloneAndWrappedDecodeEqual(t *testing.T) {
	body := func() *ItemResponse {
		return &ItemResponse{
			ResponseHeader: ResponseHeader{RequestID: 12, CommandID: 3, IntendedRecipient: "node-a"},
			Found:          true,
			Item:           &ItemData{Key: "k", Value: [][]byte{[]byte("v")}, Version: 4},
			Version:        4,
		}
	}

	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			codec := factory()
			decoded := make(map[int32]*ItemResponse)

			for _, version := range []int32{4999, 5000} {
				data, err := EncodeResponse(codec, version, CmdGet.ResponseType(), body())
				if err != nil {
					t.Fatalf("EncodeResponse(%d) failed: %v", version, err)
				}
				packet, err := DecodePacket(codec, data)
				if err != nil {
					t.Fatalf("DecodePacket(%d) failed: %v", version, err)
				}
				if packet.Wrapped != (version < ClientVersionStandalone) {
					t.Errorf("Version %d: expected wrapped=%v", version, version < ClientVersionStandalone)
				}
				if packet.Type != CmdGet.ResponseType() {
					t.Errorf("Version %d: expected response type %s, got %s", version, CmdGet.ResponseType(), packet.Type)
				}
				var resp ItemResponse
				if err := packet.Decode(codec, &resp); err != nil {
					t.Fatalf("Decode(%d) failed: %v", version, err)
				}
				decoded[version] = &resp
			}

			if !reflect.DeepEqual(decoded[4999], decoded[5000]) {
				t.Errorf("Wrapped and standalone responses differ:\nwrapped: %+v\nstandalone: %+v", decoded[4999], decoded[5000])
			}
			if !reflect.DeepEqual(decoded[5000], body()) {
				t.Errorf("Decoded response differs from the original: %+v", decoded[5000])
			}
		})
	}
}

func TestWrappedBodyHasNoHeader(t *testing.T) {
	codec := serializer.NewJSONSerializer()
	body := &CountResponse{ResponseHeader: ResponseHeader{RequestID: 5, CommandID: 1}, Count: 2}

	data, err := EncodeResponse(codec, 4000, CmdCount.ResponseType(), body)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	if body.RequestID != 5 || body.CommandID != 1 {
		t.Errorf("EncodeResponse must leave the header of the body intact, got %+v", body.ResponseHeader)
	}

	var env Response
	if err := codec.Deserialize(data[1:], &env); err != nil {
		t.Fatalf("Failed to read the envelope: %v", err)
	}
	if env.RequestID != 5 || env.Type != CmdCount.ResponseType() {
		t.Errorf("Unexpected envelope %+v", env)
	}
	var inner CountResponse
	if err := codec.Deserialize(env.Body, &inner); err != nil {
		t.Fatalf("Failed to read the body: %v", err)
	}
	if inner.RequestID != 0 || inner.Count != 2 {
		t.Errorf("Expected a body without header, got %+v", inner)
	}
}

func TestExceptionPacket(t *testing.T) {
	codec := serializer.NewMsgpackSerializer()
	exc := &ExceptionResponse{
		ResponseHeader: ResponseHeader{RequestID: 1},
		Exception:      ExceptionDescriptor{Type: ExceptionOperationFailed, Message: "key already exists", ErrorCode: ErrorCodeKeyExists},
	}
	data, err := EncodeResponse(codec, ClientVersionStandalone, RespException, exc)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	packet, err := DecodePacket(codec, data)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	got, err := packet.Exception(codec)
	if err != nil {
		t.Fatalf("Exception failed: %v", err)
	}
	if !reflect.DeepEqual(got, exc) {
		t.Errorf("Expected %+v, got %+v", exc, got)
	}
	if got.Exception.Error() != "OperationFailed (code 2): key already exists" {
		t.Errorf("Unexpected error text %q", got.Exception.Error())
	}
}

func TestDecodePacketErrors(t *testing.T) {
	codec := serializer.NewJSONSerializer()
	tests := map[string][]byte{
		"empty":        {},
		"truncated":    {'S', 0},
		"unknown kind": {'X', 1, 2},
		"bad envelope": append([]byte{'W'}, "{broken"...),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodePacket(codec, data); err == nil {
				t.Errorf("Expected error for %v", data)
			}
		})
	}
}

func TestTypeNames(t *testing.T) {
	for _, ct := range CommandTypes() {
		parsed, err := ParseCommandType(ct.String())
		if err != nil || parsed != ct {
			t.Errorf("ParseCommandType(%s) = %v, %v", ct, parsed, err)
		}
		rt := ct.ResponseType()
		if rt.CommandType() != ct || rt.String() != ct.String() {
			t.Errorf("Response type of %s does not map back (%s)", ct, rt)
		}
	}
	if CmdUnknown.ResponseType() != RespUnknown || RespException.CommandType() != CmdUnknown {
		t.Errorf("Unknown and exception must not map to a command")
	}
	if rt, err := ParseResponseType("exception"); err != nil || rt != RespException {
		t.Errorf("Expected exception response type, got %v %v", rt, err)
	}
}

func TestParseCaches(t *testing.T) {
	caches, err := ParseCaches("1=default, 2=sessions")
	if err != nil {
		t.Fatalf("ParseCaches failed: %v", err)
	}
	want := []ServerCache{{CacheID: 1, Name: "default", Engine: EngineLocal}, {CacheID: 2, Name: "sessions", Engine: EngineLocal}}
	if !reflect.DeepEqual(caches, want) {
		t.Errorf("Expected %v, got %v", want, caches)
	}
	for _, bad := range []string{"", "x=default", "1", "1=a,1=b"} {
		if _, err := ParseCaches(bad); err == nil {
			t.Errorf("Expected ParseCaches(%q) to fail", bad)
		}
	}
}

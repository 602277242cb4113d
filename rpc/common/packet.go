package common

import (
	"encoding/binary"
	"fmt"
)

// Codec serializes response bodies and envelopes. Every serializer.IRPCSerializer
// is a Codec.
type Codec interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}

// ClientVersionStandalone is the first client version that understands
// standalone response packets. Older clients get every response wrapped in
// the Response envelope.
const ClientVersionStandalone = 5000

// Packet kind markers
const (
	packetStandalone byte = 'S'
	packetWrapped    byte = 'W'
)

// Response is the legacy envelope around a serialized response body
type Response struct {
	ResponseHeader
	Type ResponseType `json:"responseType"`
	Body []byte       `json:"body,omitempty"`
}

// EncodeResponse serializes body for a client of the given version. This is
// the only place that decides between the standalone and the wrapped form.
//
//	standalone: 'S' | uint16 response type (big endian) | body
//	wrapped:    'W' | Response{header, type, body without header}
func EncodeResponse(codec Codec, clientVersion int32, typ ResponseType, body Headed) ([]byte, error) {
	if clientVersion >= ClientVersionStandalone {
		data, err := codec.Serialize(body)
		if err != nil {
			return nil, fmt.Errorf("serialize %s response: %w", typ, err)
		}
		packet := make([]byte, 3, 3+len(data))
		packet[0] = packetStandalone
		binary.BigEndian.PutUint16(packet[1:3], uint16(typ))
		return append(packet, data...), nil
	}

	// The header travels on the envelope, the body is sent without it
	head := body.Head()
	saved := *head
	*head = ResponseHeader{}
	data, err := codec.Serialize(body)
	*head = saved
	if err != nil {
		return nil, fmt.Errorf("serialize %s response: %w", typ, err)
	}

	envelope, err := codec.Serialize(&Response{ResponseHeader: saved, Type: typ, Body: data})
	if err != nil {
		return nil, fmt.Errorf("serialize response envelope: %w", err)
	}
	return append([]byte{packetWrapped}, envelope...), nil
}

// Packet is a decoded response packet whose body has not been deserialized yet
type Packet struct {
	Type    ResponseType
	Wrapped bool
	// header is only known up front for wrapped packets
	header ResponseHeader
	body   []byte
}

// DecodePacket reads the packet framing of both forms
func DecodePacket(codec Codec, data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response packet")
	}
	switch data[0] {
	case packetStandalone:
		if len(data) < 3 {
			return nil, fmt.Errorf("truncated standalone packet (%d bytes)", len(data))
		}
		return &Packet{
			Type: ResponseType(binary.BigEndian.Uint16(data[1:3])),
			body: data[3:],
		}, nil
	case packetWrapped:
		var env Response
		if err := codec.Deserialize(data[1:], &env); err != nil {
			return nil, fmt.Errorf("deserialize response envelope: %w", err)
		}
		return &Packet{
			Type:    env.Type,
			Wrapped: true,
			header:  env.ResponseHeader,
			body:    env.Body,
		}, nil
	default:
		return nil, fmt.Errorf("unknown packet kind %q", data[0])
	}
}

// Decode deserializes the body into v. For wrapped packets the envelope
// header is copied onto v, so both forms decode to equal values.
func (p *Packet) Decode(codec Codec, v Headed) error {
	if err := codec.Deserialize(p.body, v); err != nil {
		return fmt.Errorf("deserialize %s response: %w", p.Type, err)
	}
	if p.Wrapped {
		*v.Head() = p.header
	}
	return nil
}

// Exception decodes the body of an exception packet
func (p *Packet) Exception(codec Codec) (*ExceptionResponse, error) {
	if p.Type != RespException {
		return nil, fmt.Errorf("packet is a %s response, not an exception", p.Type)
	}
	var resp ExceptionResponse
	if err := p.Decode(codec, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

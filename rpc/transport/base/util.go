package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	requestHeaderSize  = 20
	responseHeaderSize = 20
	packetHeaderSize   = 4

	// maxFrameSize bounds the payload a peer may announce
	maxFrameSize = 256 * 1024 * 1024
)

// writeRequest writes a request frame to the connection with the format:
// - 8 bytes: cacheID (uint64, big endian)
// - 8 bytes: sequence (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeRequest(conn net.Conn, cacheID uint64, sequence uint64, data []byte) error {
	header := make([]byte, requestHeaderSize)
	binary.BigEndian.PutUint64(header[:8], cacheID)
	binary.BigEndian.PutUint64(header[8:16], sequence)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readRequest reads a request frame using the provided buffer.
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readRequest(r io.Reader, buf []byte) (cacheID, sequence uint64, data []byte, err error) {
	var header [requestHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}

	cacheID = binary.BigEndian.Uint64(header[:8])
	sequence = binary.BigEndian.Uint64(header[8:16])
	contentLength := binary.BigEndian.Uint32(header[16:20])
	if contentLength > maxFrameSize {
		return 0, 0, nil, fmt.Errorf("request frame of %d bytes exceeds the limit", contentLength)
	}

	if contentLength == 0 {
		return cacheID, sequence, []byte{}, nil
	}
	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}
	if _, err := io.ReadFull(r, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}
	return cacheID, sequence, buf[:contentLength], nil
}

// writeResponse writes a response frame with the format:
// - 8 bytes: cacheID (uint64, big endian)
// - 8 bytes: sequence of the request (uint64, big endian)
// - 4 bytes: packet count (uint32, big endian)
// - per packet: 4 bytes length followed by the packet
func writeResponse(conn net.Conn, cacheID uint64, sequence uint64, packets [][]byte) error {
	header := make([]byte, responseHeaderSize, responseHeaderSize+len(packets)*packetHeaderSize)
	binary.BigEndian.PutUint64(header[:8], cacheID)
	binary.BigEndian.PutUint64(header[8:16], sequence)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(packets)))

	b := make(net.Buffers, 0, 1+2*len(packets))
	lengths := make([]byte, len(packets)*packetHeaderSize)
	b = append(b, header)
	for i, p := range packets {
		l := lengths[i*packetHeaderSize : (i+1)*packetHeaderSize]
		binary.BigEndian.PutUint32(l, uint32(len(p)))
		b = append(b, l, p)
	}
	_, err := b.WriteTo(conn)
	return err
}

// readResponse reads a response frame. Packets are always freshly allocated,
// they outlive the read.
func readResponse(r io.Reader) (cacheID, sequence uint64, packets [][]byte, err error) {
	var header [responseHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}
	cacheID = binary.BigEndian.Uint64(header[:8])
	sequence = binary.BigEndian.Uint64(header[8:16])
	count := binary.BigEndian.Uint32(header[16:20])

	packets = make([][]byte, 0, min(count, 1024))
	var length [packetHeaderSize]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, length[:]); err != nil {
			return 0, 0, nil, err
		}
		n := binary.BigEndian.Uint32(length[:])
		if n > maxFrameSize {
			return 0, 0, nil, fmt.Errorf("response packet of %d bytes exceeds the limit", n)
		}
		p := make([]byte, n)
		if _, err := io.ReadFull(r, p); err != nil {
			return 0, 0, nil, err
		}
		packets = append(packets, p)
	}
	return cacheID, sequence, packets, nil
}

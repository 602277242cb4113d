package transport

import (
	"encoding/binary"
	"fmt"
)

// EncodePackets joins response packets into one body:
// - 4 bytes: packet count (uint32, big endian)
// - per packet: 4 bytes length (uint32, big endian) followed by the packet
func EncodePackets(packets [][]byte) []byte {
	size := 4
	for _, p := range packets {
		size += 4 + len(p)
	}
	out := make([]byte, 4, size)
	binary.BigEndian.PutUint32(out, uint32(len(packets)))
	var length [4]byte
	for _, p := range packets {
		binary.BigEndian.PutUint32(length[:], uint32(len(p)))
		out = append(out, length[:]...)
		out = append(out, p...)
	}
	return out
}

// DecodePackets splits a body produced by EncodePackets. The packets share
// the memory of data.
func DecodePackets(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("packet list too short (%d bytes)", len(data))
	}
	count := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint64(count)*4 > uint64(len(data)) {
		return nil, fmt.Errorf("packet list claims %d packets in %d bytes", count, len(data))
	}
	packets := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("packet %d: missing length", i)
		}
		n := binary.BigEndian.Uint32(data)
		data = data[4:]
		if uint64(n) > uint64(len(data)) {
			return nil, fmt.Errorf("packet %d: length %d exceeds remaining %d bytes", i, n, len(data))
		}
		packets = append(packets, data[:n:n])
		data = data[n:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d packets", len(data), count)
	}
	return packets, nil
}

package transport

import (
	"reflect"
	"testing"
)

func TestPacketsRoundTrip(t *testing.T) {
	tests := map[string][][]byte{
		"none":  {},
		"one":   {[]byte("packet")},
		"many":  {[]byte("a"), []byte("bb"), []byte("ccc")},
		"empty": {{}, []byte("x")},
	}
	for name, packets := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := DecodePackets(EncodePackets(packets))
			if err != nil {
				t.Fatalf("DecodePackets failed: %v", err)
			}
			if len(got) != len(packets) {
				t.Fatalf("Expected %d packets, got %d", len(packets), len(got))
			}
			for i := range packets {
				if string(got[i]) != string(packets[i]) {
					t.Errorf("Packet %d: expected %q, got %q", i, packets[i], got[i])
				}
			}
		})
	}
}

func TestDecodePacketsRejectsCorruptData(t *testing.T) {
	tests := map[string][]byte{
		"short":         {0, 0},
		"count too big": {0, 0, 0, 9, 0, 0, 0, 1},
		"length":        {0, 0, 0, 1, 0, 0, 0, 5, 'a'},
		"trailing":      {0, 0, 0, 0, 'x'},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if packets, err := DecodePackets(data); err == nil {
				t.Errorf("Expected error, got %v", packets)
			}
		})
	}
}

func TestDecodedPacketsDoNotAlias(t *testing.T) {
	got, _ := DecodePackets(EncodePackets([][]byte{[]byte("ab"), []byte("cd")}))
	got[0] = append(got[0], 'X')
	if !reflect.DeepEqual(got[1], []byte("cd")) {
		t.Errorf("Appending to a packet must not overwrite the next one, got %q", got[1])
	}
}

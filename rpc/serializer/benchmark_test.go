package serializer

import (
	"testing"

	"github.com/ValentinKolb/dCache/rpc/common"
)

// benchmarkValues returns a set of values for targeted benchmarking
func benchmarkValues() map[string]any {
	largeRows := make([]common.ItemData, 100)
	for i := range largeRows {
		largeRows[i] = common.ItemData{Key: "row-key", Value: [][]byte{make([]byte, 256)}, Version: uint64(i)}
	}

	return map[string]any{
		"EmptyCommand": &common.Command{Type: common.CmdCount, RequestID: 1},
		"GetCommand": &common.Command{
			Type:      common.CmdGet,
			RequestID: 1,
			Payload:   []byte("medium-length-key-for-testing"),
		},
		"SmallItem":  common.NewItemRequest("key", []byte("v")),
		"LargeItem":  common.NewItemRequest("key", make([]byte, 1024*16)),
		"ItemResponse": &common.ItemResponse{
			ResponseHeader: common.ResponseHeader{RequestID: 1},
			Found:          true,
			Item:           &common.ItemData{Key: "key", Value: [][]byte{[]byte("medium length value for testing serialization")}},
		},
		"ReaderChunk": &common.ReaderResponse{ReaderID: "reader", Rows: largeRows},
		"Exception": &common.ExceptionResponse{Exception: common.ExceptionDescriptor{
			Message: "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		}},
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various value types
func BenchmarkSerialize(b *testing.B) {
	values := benchmarkValues()

	for name, factory := range testSerializers {
		for valueName, v := range values {
			b.Run(name+"_"+valueName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := serializer.Serialize(v); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization of a reader chunk
func BenchmarkDeserialize(b *testing.B) {
	v := benchmarkValues()["ReaderChunk"]

	for name, factory := range testSerializers {
		b.Run(name, func(b *testing.B) {
			serializer := factory()
			data, err := serializer.Serialize(v)
			if err != nil {
				b.Fatalf("Failed to serialize: %v", err)
			}
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				var resp common.ReaderResponse
				if err := serializer.Deserialize(data, &resp); err != nil {
					b.Fatalf("Failed to deserialize: %v", err)
				}
			}
		})
	}
}

// BenchmarkSize measures and reports the serialized size for each value type
func BenchmarkSize(b *testing.B) {
	values := benchmarkValues()

	for name, factory := range testSerializers {
		serializer := factory()

		for valueName, v := range values {
			b.Run(name+"_"+valueName, func(b *testing.B) {
				data, err := serializer.Serialize(v)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}

				// Report the size as a custom metric
				b.ReportMetric(float64(len(data)), "bytes")

				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}

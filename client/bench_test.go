package client

import (
	"context"
	"testing"

	"polygate/codec"
	"polygate/resource"
)

func benchmarkGet(b *testing.B, ct codec.CodecType, parallel bool) {
	lis := listen(b)
	startBackend(b, lis)

	conn := NewConn("ProductService", lis.Addr().String(), WithCodec(ct))
	b.Cleanup(func() { conn.Close() })
	products := NewResourceClient(resource.Products, conn)

	ctx := context.Background()
	created, err := products.Create(ctx, &resource.Product{Name: "Pen", Category: "Stationery", Price: 2})
	if err != nil {
		b.Fatal(err)
	}
	id := created.Identity()

	b.ReportAllocs()
	b.ResetTimer()
	if !parallel {
		for i := 0; i < b.N; i++ {
			if _, err := products.GetByID(ctx, id); err != nil {
				b.Fatal(err)
			}
		}
		return
	}
	// Every goroutine shares the one multiplexed connection.
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := products.GetByID(ctx, id); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkGetByIDJSON(b *testing.B)           { benchmarkGet(b, codec.CodecTypeJSON, false) }
func BenchmarkGetByIDBinary(b *testing.B)         { benchmarkGet(b, codec.CodecTypeBinary, false) }
func BenchmarkGetByIDJSONParallel(b *testing.B)   { benchmarkGet(b, codec.CodecTypeJSON, true) }
func BenchmarkGetByIDBinaryParallel(b *testing.B) { benchmarkGet(b, codec.CodecTypeBinary, true) }

package grpcapi

import "google.golang.org/grpc/encoding"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Package rookeryv1 is the gRPC contract of a Rookery node. Requests and
// responses are protobuf well-known types (Empty, Struct), so the service
// descriptors below are written by hand instead of generated from a .proto
// file:
//
//	service Health       { rpc Check(google.protobuf.Empty) returns (google.protobuf.Struct); }
//	service Measurements { rpc Subscribe(google.protobuf.Struct) returns (stream google.protobuf.Struct); }
//
// Subscribe takes an optional "filter" field holding a CEL expression and
// streams one Struct per measurement with the fields id, weight, date,
// time, imageUrl and event_id.
package rookeryv1

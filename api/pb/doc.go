// Package pb is the wire schema of the nvkv.v1 API.
//
// The contract lives in nvkv/v1/object_store.proto. The schema is
// assembled at init from descriptor protos that mirror that file instead of
// generated code. Requests and responses are plain Go structs that convert
// to and from dynamicpb messages; the gRPC service descriptor and client
// below are written against those structs.
package pb

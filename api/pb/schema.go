package pb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	FileName    = "nvkv/v1/object_store.proto"
	Package     = "nvkv.v1"
	ServiceName = Package + ".ObjectStore"
)

var (
	File protoreflect.FileDescriptor

	openRequestDesc     protoreflect.MessageDescriptor
	openResponseDesc    protoreflect.MessageDescriptor
	operationDesc       protoreflect.MessageDescriptor
	applyRequestDesc    protoreflect.MessageDescriptor
	applyResponseDesc   protoreflect.MessageDescriptor
	getRequestDesc      protoreflect.MessageDescriptor
	getResponseDesc     protoreflect.MessageDescriptor
	measureRequestDesc  protoreflect.MessageDescriptor
	measureResponseDesc protoreflect.MessageDescriptor
	lifecycleEventDesc  protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(fileProto(), nil)
	if err != nil {
		panic(fmt.Sprintf("pb: build %s: %v", FileName, err))
	}
	File = fd

	msgs := fd.Messages()
	openRequestDesc = msgs.ByName("OpenRequest")
	openResponseDesc = msgs.ByName("OpenResponse")
	operationDesc = msgs.ByName("Operation")
	applyRequestDesc = msgs.ByName("ApplyRequest")
	applyResponseDesc = msgs.ByName("ApplyResponse")
	getRequestDesc = msgs.ByName("GetRequest")
	getResponseDesc = msgs.ByName("GetResponse")
	measureRequestDesc = msgs.ByName("MeasureRequest")
	measureResponseDesc = msgs.ByName("MeasureResponse")
	lifecycleEventDesc = msgs.ByName("LifecycleEvent")
}

// fileProto mirrors nvkv/v1/object_store.proto. Keep the two in step.
func fileProto() *descriptorpb.FileDescriptorProto {
	const (
		tString = descriptorpb.FieldDescriptorProto_TYPE_STRING
		tBytes  = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		tBool   = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		tUint64 = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		tInt64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
	)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(FileName),
		Package: proto.String(Package),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("OpenRequest", field("id", 1, tString)),
			message("OpenResponse", field("id", 1, tString), field("origin", 2, tString)),
			message("Operation",
				field("tag", 1, tUint64),
				field("sync", 2, tBool),
				field("family", 3, tString),
				field("key", 4, tBytes),
				field("value", 5, tBytes),
				field("begin", 6, tBytes),
				field("end", 7, tBytes),
				repeated(messageField("batch", 8, "Operation")),
			),
			message("ApplyRequest", field("id", 1, tString), messageField("op", 2, "Operation")),
			message("ApplyResponse", field("log_bytes", 1, tInt64)),
			message("GetRequest", field("id", 1, tString), field("family", 2, tString), field("key", 3, tBytes)),
			message("GetResponse", field("value", 1, tBytes), field("found", 2, tBool)),
			message("MeasureRequest", field("id", 1, tString)),
			message("MeasureResponse", field("bytes", 1, tInt64)),
			message("LifecycleEvent",
				field("seq", 1, tUint64),
				field("kind", 2, tString),
				field("object_id", 3, tString),
				field("class", 4, tUint64),
				field("time_unix_nano", 5, tInt64),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("ObjectStore"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("Open"),
				method("Apply"),
				method("Get"),
				method("Measure"),
			},
		}},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func messageField(name string, num int32, msg string) *descriptorpb.FieldDescriptorProto {
	f := field(name, num, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String("." + Package + "." + msg)
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func method(name string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + Package + "." + name + "Request"),
		OutputType: proto.String("." + Package + "." + name + "Response"),
	}
}

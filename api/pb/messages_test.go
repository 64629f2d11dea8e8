package pb

import (
	"fmt"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

func TestSchemaIsComplete(t *testing.T) {
	svc := File.Services().ByName("ObjectStore")
	require.NotNil(t, svc)
	require.Equal(t, 4, svc.Methods().Len())
	for _, m := range ObjectStore_ServiceDesc.Methods {
		require.NotNil(t, svc.Methods().ByName(protoreflect.Name(m.MethodName)), m.MethodName)
	}
}

func TestNestedOperationSurvivesTheWire(t *testing.T) {
	in := &ApplyRequest{
		ID: "obj",
		Op: &Operation{
			Tag:  10,
			Sync: true,
			Batch: []*Operation{
				{Tag: 1, Key: []byte("k"), Value: []byte{0, 1, 2}},
				{Tag: 7, Family: "f", Begin: []byte("a"), End: []byte("z")},
			},
		},
	}
	raw, err := proto.Marshal(toDynamic(in))
	require.NoError(t, err)

	m := dynamicpb.NewMessage(applyRequestDesc)
	require.NoError(t, proto.Unmarshal(raw, m))
	out := &ApplyRequest{}
	out.load(m)
	require.Equal(t, in, out)

	empty := &ApplyRequest{}
	empty.load(dynamicpb.NewMessage(applyRequestDesc))
	require.Nil(t, empty.Op)
}

func TestLifecycleEventEncoding(t *testing.T) {
	ev := &LifecycleEvent{Seq: 9, Kind: "created", ObjectID: "abc", Class: 1, TimeUnixNano: 1700000000}
	b, err := ev.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalLifecycleEvent(b)
	require.NoError(t, err)
	require.Equal(t, ev, got)

	_, err = UnmarshalLifecycleEvent([]byte{0xff})
	require.Error(t, err)
}

var fieldDecl = regexp.MustCompile(`(?m)^\s+(?:repeated )?\w+ \w+ = \d+;`)

func TestSchemaMatchesProtoFile(t *testing.T) {
	src, err := os.ReadFile("nvkv/v1/object_store.proto")
	require.NoError(t, err)
	text := string(src)

	require.Contains(t, text, "package "+Package+";")
	svc := File.Services().ByName("ObjectStore")
	for i := 0; i < svc.Methods().Len(); i++ {
		m := svc.Methods().Get(i)
		rpc := fmt.Sprintf("rpc %s(%s) returns (%s);", m.Name(), m.Input().Name(), m.Output().Name())
		require.Contains(t, text, rpc)
	}

	msgs := File.Messages()
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		block := regexp.MustCompile(`(?s)message ` + string(md.Name()) + ` \{(.*?)\n\}`).FindStringSubmatch(text)
		require.NotNil(t, block, "message %s missing", md.Name())

		declared := fieldDecl.FindAllString(block[1], -1)
		require.Len(t, declared, md.Fields().Len(), "message %s", md.Name())

		for j := 0; j < md.Fields().Len(); j++ {
			fd := md.Fields().Get(j)
			typ := fd.Kind().String()
			if fd.Kind() == protoreflect.MessageKind {
				typ = string(fd.Message().Name())
			}
			if fd.IsList() {
				typ = "repeated " + typ
			}
			decl := fmt.Sprintf("%s %s = %d;", typ, fd.Name(), fd.Number())
			require.Contains(t, block[1], decl, "message %s", md.Name())
		}
	}
}

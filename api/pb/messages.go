package pb

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// wire is implemented by every request, response and event struct.
type wire interface {
	descriptor() protoreflect.MessageDescriptor
	fill(m protoreflect.Message)
	load(m protoreflect.Message)
}

func toDynamic(w wire) *dynamicpb.Message {
	m := dynamicpb.NewMessage(w.descriptor())
	w.fill(m)
	return m
}

// -------------------- Open --------------------

type OpenRequest struct {
	ID string
}

type OpenResponse struct {
	ID     string
	Origin string
}

func (*OpenRequest) descriptor() protoreflect.MessageDescriptor { return openRequestDesc }
func (r *OpenRequest) fill(m protoreflect.Message)              { setString(m, "id", r.ID) }
func (r *OpenRequest) load(m protoreflect.Message)              { r.ID = getString(m, "id") }

func (*OpenResponse) descriptor() protoreflect.MessageDescriptor { return openResponseDesc }
func (r *OpenResponse) fill(m protoreflect.Message) {
	setString(m, "id", r.ID)
	setString(m, "origin", r.Origin)
}
func (r *OpenResponse) load(m protoreflect.Message) {
	r.ID = getString(m, "id")
	r.Origin = getString(m, "origin")
}

// -------------------- Apply --------------------

// Operation carries one mutation. Tag uses the log's operation numbering;
// fields a tag does not use are ignored.
type Operation struct {
	Tag    uint64
	Sync   bool
	Family string
	Key    []byte
	Value  []byte
	Begin  []byte
	End    []byte
	Batch  []*Operation
}

func (*Operation) descriptor() protoreflect.MessageDescriptor { return operationDesc }

func (o *Operation) fill(m protoreflect.Message) {
	setUint(m, "tag", o.Tag)
	setBool(m, "sync", o.Sync)
	setString(m, "family", o.Family)
	setBytes(m, "key", o.Key)
	setBytes(m, "value", o.Value)
	setBytes(m, "begin", o.Begin)
	setBytes(m, "end", o.End)
	if len(o.Batch) > 0 {
		list := m.Mutable(fieldOf(m, "batch")).List()
		for _, sub := range o.Batch {
			elem := list.NewElement()
			sub.fill(elem.Message())
			list.Append(elem)
		}
	}
}

func (o *Operation) load(m protoreflect.Message) {
	o.Tag = getUint(m, "tag")
	o.Sync = getBool(m, "sync")
	o.Family = getString(m, "family")
	o.Key = getBytes(m, "key")
	o.Value = getBytes(m, "value")
	o.Begin = getBytes(m, "begin")
	o.End = getBytes(m, "end")
	o.Batch = nil
	list := m.Get(fieldOf(m, "batch")).List()
	for i := 0; i < list.Len(); i++ {
		sub := &Operation{}
		sub.load(list.Get(i).Message())
		o.Batch = append(o.Batch, sub)
	}
}

type ApplyRequest struct {
	ID string
	Op *Operation
}

type ApplyResponse struct {
	LogBytes int64
}

func (*ApplyRequest) descriptor() protoreflect.MessageDescriptor { return applyRequestDesc }

func (r *ApplyRequest) fill(m protoreflect.Message) {
	setString(m, "id", r.ID)
	if r.Op != nil {
		r.Op.fill(m.Mutable(fieldOf(m, "op")).Message())
	}
}

func (r *ApplyRequest) load(m protoreflect.Message) {
	r.ID = getString(m, "id")
	r.Op = nil
	if fd := fieldOf(m, "op"); m.Has(fd) {
		r.Op = &Operation{}
		r.Op.load(m.Get(fd).Message())
	}
}

func (*ApplyResponse) descriptor() protoreflect.MessageDescriptor { return applyResponseDesc }
func (r *ApplyResponse) fill(m protoreflect.Message)              { setInt(m, "log_bytes", r.LogBytes) }
func (r *ApplyResponse) load(m protoreflect.Message)              { r.LogBytes = getInt(m, "log_bytes") }

// -------------------- Get --------------------

type GetRequest struct {
	ID     string
	Family string
	Key    []byte
}

type GetResponse struct {
	Value []byte
	Found bool
}

func (*GetRequest) descriptor() protoreflect.MessageDescriptor { return getRequestDesc }

func (r *GetRequest) fill(m protoreflect.Message) {
	setString(m, "id", r.ID)
	setString(m, "family", r.Family)
	setBytes(m, "key", r.Key)
}

func (r *GetRequest) load(m protoreflect.Message) {
	r.ID = getString(m, "id")
	r.Family = getString(m, "family")
	r.Key = getBytes(m, "key")
}

func (*GetResponse) descriptor() protoreflect.MessageDescriptor { return getResponseDesc }

func (r *GetResponse) fill(m protoreflect.Message) {
	setBytes(m, "value", r.Value)
	setBool(m, "found", r.Found)
}

func (r *GetResponse) load(m protoreflect.Message) {
	r.Value = getBytes(m, "value")
	r.Found = getBool(m, "found")
}

// -------------------- Measure --------------------

type MeasureRequest struct {
	ID string
}

type MeasureResponse struct {
	Bytes int64
}

func (*MeasureRequest) descriptor() protoreflect.MessageDescriptor { return measureRequestDesc }
func (r *MeasureRequest) fill(m protoreflect.Message)              { setString(m, "id", r.ID) }
func (r *MeasureRequest) load(m protoreflect.Message)              { r.ID = getString(m, "id") }

func (*MeasureResponse) descriptor() protoreflect.MessageDescriptor { return measureResponseDesc }
func (r *MeasureResponse) fill(m protoreflect.Message)              { setInt(m, "bytes", r.Bytes) }
func (r *MeasureResponse) load(m protoreflect.Message)              { r.Bytes = getInt(m, "bytes") }

// -------------------- LifecycleEvent --------------------

// LifecycleEvent is the broker payload for object lifecycle changes.
type LifecycleEvent struct {
	Seq          uint64
	Kind         string
	ObjectID     string
	Class        uint64
	TimeUnixNano int64
}

func (*LifecycleEvent) descriptor() protoreflect.MessageDescriptor { return lifecycleEventDesc }

func (e *LifecycleEvent) fill(m protoreflect.Message) {
	setUint(m, "seq", e.Seq)
	setString(m, "kind", e.Kind)
	setString(m, "object_id", e.ObjectID)
	setUint(m, "class", e.Class)
	setInt(m, "time_unix_nano", e.TimeUnixNano)
}

func (e *LifecycleEvent) load(m protoreflect.Message) {
	e.Seq = getUint(m, "seq")
	e.Kind = getString(m, "kind")
	e.ObjectID = getString(m, "object_id")
	e.Class = getUint(m, "class")
	e.TimeUnixNano = getInt(m, "time_unix_nano")
}

// Marshal encodes e in protobuf wire format.
func (e *LifecycleEvent) Marshal() ([]byte, error) {
	return proto.Marshal(toDynamic(e))
}

func UnmarshalLifecycleEvent(b []byte) (*LifecycleEvent, error) {
	m := dynamicpb.NewMessage(lifecycleEventDesc)
	if err := proto.Unmarshal(b, m); err != nil {
		return nil, err
	}
	e := &LifecycleEvent{}
	e.load(m)
	return e, nil
}

// -------------------- Field access --------------------

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic("pb: " + string(m.Descriptor().FullName()) + " has no field " + string(name))
	}
	return fd
}

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
}

func setBytes(m protoreflect.Message, name protoreflect.Name, v []byte) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfBytes(v))
}

func setBool(m protoreflect.Message, name protoreflect.Name, v bool) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfBool(v))
}

func setUint(m protoreflect.Message, name protoreflect.Name, v uint64) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfUint64(v))
}

func setInt(m protoreflect.Message, name protoreflect.Name, v int64) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfInt64(v))
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(fieldOf(m, name)).String()
}

func getBytes(m protoreflect.Message, name protoreflect.Name) []byte {
	b := m.Get(fieldOf(m, name)).Bytes()
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func getBool(m protoreflect.Message, name protoreflect.Name) bool {
	return m.Get(fieldOf(m, name)).Bool()
}

func getUint(m protoreflect.Message, name protoreflect.Name) uint64 {
	return m.Get(fieldOf(m, name)).Uint()
}

func getInt(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(fieldOf(m, name)).Int()
}

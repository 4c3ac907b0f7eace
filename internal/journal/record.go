package journal

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Op identifies a catalog mutation.
type Op byte

const (
	OpCreate Op = iota + 1
	OpRemove
	OpRename
	OpGrow
	OpSize
)

var opNames = [...]string{
	OpCreate: "create",
	OpRemove: "remove",
	OpRename: "rename",
	OpGrow:   "grow",
	OpSize:   "size",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return "unknown"
}

// Record is one catalog mutation. Index refers to the catalog position at the
// time the mutation was applied; Value is the capacity for OpGrow and the
// size for OpSize.
type Record struct {
	Op    Op
	Index int
	Name  string
	Value int64
}

func (r Record) String() string {
	switch r.Op {
	case OpCreate:
		return fmt.Sprintf("create %q", r.Name)
	case OpRemove:
		return fmt.Sprintf("remove #%d", r.Index)
	case OpRename:
		return fmt.Sprintf("rename #%d -> %q", r.Index, r.Name)
	case OpGrow:
		return fmt.Sprintf("grow #%d to %d", r.Index, r.Value)
	case OpSize:
		return fmt.Sprintf("size #%d = %d", r.Index, r.Value)
	default:
		return fmt.Sprintf("op %d", r.Op)
	}
}

// appendPayload encodes the op-specific fields as a MessagePack map.
func (r Record) appendPayload(b []byte) ([]byte, error) {
	switch r.Op {
	case OpCreate:
		b = msgp.AppendMapHeader(b, 1)
		b = msgp.AppendString(b, "name")
		b = msgp.AppendString(b, r.Name)
	case OpRemove:
		b = msgp.AppendMapHeader(b, 1)
		b = msgp.AppendString(b, "index")
		b = msgp.AppendInt(b, r.Index)
	case OpRename:
		b = msgp.AppendMapHeader(b, 2)
		b = msgp.AppendString(b, "index")
		b = msgp.AppendInt(b, r.Index)
		b = msgp.AppendString(b, "name")
		b = msgp.AppendString(b, r.Name)
	case OpGrow:
		b = msgp.AppendMapHeader(b, 2)
		b = msgp.AppendString(b, "index")
		b = msgp.AppendInt(b, r.Index)
		b = msgp.AppendString(b, "capacity")
		b = msgp.AppendInt64(b, r.Value)
	case OpSize:
		b = msgp.AppendMapHeader(b, 2)
		b = msgp.AppendString(b, "index")
		b = msgp.AppendInt(b, r.Index)
		b = msgp.AppendString(b, "size")
		b = msgp.AppendInt64(b, r.Value)
	default:
		return nil, fmt.Errorf("encode record: unknown op %d", r.Op)
	}
	return b, nil
}

func decodePayload(op Op, b []byte) (Record, error) {
	if op < OpCreate || op > OpSize {
		return Record{}, fmt.Errorf("decode record: unknown op %d", op)
	}
	r := Record{Op: op}
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", op, err)
	}
	for range n {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return Record{}, fmt.Errorf("decode %s key: %w", op, err)
		}
		switch string(key) {
		case "name":
			r.Name, b, err = msgp.ReadStringBytes(b)
		case "index":
			r.Index, b, err = msgp.ReadIntBytes(b)
		case "capacity", "size":
			r.Value, b, err = msgp.ReadInt64Bytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return Record{}, fmt.Errorf("decode %s field %q: %w", op, key, err)
		}
	}
	return r, nil
}

package message

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"time"
	"unicode/utf8"
)

// validator is implemented by enum-valued fields. Decoded values that fail
// Valid() are rejected instead of being passed through silently.
type validator interface {
	Valid() bool
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	validatorType = reflect.TypeOf((*validator)(nil)).Elem()
)

type fieldKind int

const (
	fieldU8 fieldKind = iota
	fieldU16
	fieldU32
	fieldI8
	fieldI16
	fieldBool
	fieldTime // wire: uint32 unix seconds, little-endian
	fieldPad  // `_ [N]byte`, written as zeros, skipped on decode
	fieldStr  // trailing UTF-8 string, consumes the rest of the payload
)

type field struct {
	index int // struct field index, -1 for padding
	kind  fieldKind
	size  int
	name  string
	enum  bool
}

// layout is the packed wire shape of one message struct: an ordered list of
// fixed-size fields, optionally followed by a trailing string. It is the
// single source of truth for both encode and decode.
type layout struct {
	typ       reflect.Type
	fields    []field
	fixedSize int
	hasString bool
}

// layoutOf derives the wire layout from a struct type's declared fields.
func layoutOf(t reflect.Type) (*layout, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("message type must be a struct, got %s", t.Kind())
	}

	lay := &layout{typ: t}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)

		if lay.hasString {
			return nil, fmt.Errorf("field %s: a string field must be the last field", sf.Name)
		}

		if sf.Name == "_" {
			if sf.Type.Kind() != reflect.Array || sf.Type.Elem().Kind() != reflect.Uint8 {
				return nil, fmt.Errorf("padding field %d must be a [N]byte array", i)
			}
			n := sf.Type.Len()
			lay.fields = append(lay.fields, field{index: -1, kind: fieldPad, size: n, name: "_"})
			lay.fixedSize += n
			continue
		}

		f := field{index: i, name: sf.Name, enum: sf.Type.Implements(validatorType)}
		switch sf.Type.Kind() {
		case reflect.Uint8:
			f.kind, f.size = fieldU8, 1
		case reflect.Uint16:
			f.kind, f.size = fieldU16, 2
		case reflect.Uint32:
			f.kind, f.size = fieldU32, 4
		case reflect.Int8:
			f.kind, f.size = fieldI8, 1
		case reflect.Int16:
			f.kind, f.size = fieldI16, 2
		case reflect.Bool:
			f.kind, f.size = fieldBool, 1
		case reflect.String:
			f.kind, f.size = fieldStr, 0
			lay.hasString = true
		case reflect.Struct:
			if sf.Type != timeType {
				return nil, fmt.Errorf("field %s: unsupported struct type %s", sf.Name, sf.Type)
			}
			f.kind, f.size = fieldTime, 4
		default:
			return nil, fmt.Errorf("field %s: unsupported kind %s", sf.Name, sf.Type.Kind())
		}
		lay.fields = append(lay.fields, f)
		lay.fixedSize += f.size
	}
	return lay, nil
}

// pack appends the struct's payload bytes in declared field order.
func (l *layout) pack(v reflect.Value) []byte {
	buf := make([]byte, 0, l.fixedSize)
	for _, f := range l.fields {
		switch f.kind {
		case fieldPad:
			buf = append(buf, make([]byte, f.size)...)
		case fieldU8:
			buf = append(buf, uint8(v.Field(f.index).Uint()))
		case fieldU16:
			buf = binary.LittleEndian.AppendUint16(buf, uint16(v.Field(f.index).Uint()))
		case fieldU32:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Field(f.index).Uint()))
		case fieldI8:
			buf = append(buf, uint8(int8(v.Field(f.index).Int())))
		case fieldI16:
			buf = binary.LittleEndian.AppendUint16(buf, uint16(int16(v.Field(f.index).Int())))
		case fieldBool:
			if v.Field(f.index).Bool() {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case fieldTime:
			ts := v.Field(f.index).Interface().(time.Time)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(ts.Unix()))
		case fieldStr:
			buf = append(buf, v.Field(f.index).String()...)
		}
	}
	return buf
}

// unpack fills the addressable struct value v from the payload bytes.
func (l *layout) unpack(payload []byte, v reflect.Value) error {
	if l.hasString {
		if len(payload) < l.fixedSize {
			return fmt.Errorf("payload is %d bytes, need at least %d", len(payload), l.fixedSize)
		}
	} else if len(payload) != l.fixedSize {
		return fmt.Errorf("payload is %d bytes, need exactly %d", len(payload), l.fixedSize)
	}

	off := 0
	for _, f := range l.fields {
		fv := reflect.Value{}
		if f.index >= 0 {
			fv = v.Field(f.index)
		}
		switch f.kind {
		case fieldPad:
			// Nothing to store.
		case fieldU8:
			fv.SetUint(uint64(payload[off]))
		case fieldU16:
			fv.SetUint(uint64(binary.LittleEndian.Uint16(payload[off:])))
		case fieldU32:
			fv.SetUint(uint64(binary.LittleEndian.Uint32(payload[off:])))
		case fieldI8:
			fv.SetInt(int64(int8(payload[off])))
		case fieldI16:
			fv.SetInt(int64(int16(binary.LittleEndian.Uint16(payload[off:]))))
		case fieldBool:
			fv.SetBool(payload[off] != 0)
		case fieldTime:
			sec := binary.LittleEndian.Uint32(payload[off:])
			fv.Set(reflect.ValueOf(time.Unix(int64(sec), 0).UTC()))
		case fieldStr:
			rest := payload[off:]
			if !utf8.Valid(rest) {
				return fmt.Errorf("field %s: trailing bytes are not valid UTF-8", f.name)
			}
			fv.SetString(string(rest))
		}
		off += f.size

		if f.enum && !fv.Interface().(validator).Valid() {
			return fmt.Errorf("field %s: invalid value %d", f.name, fv.Uint())
		}
	}
	return nil
}

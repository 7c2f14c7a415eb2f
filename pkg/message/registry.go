// Package message implements the wire codec for the dice protocol: a packet
// is a 1-byte message ID followed by a little-endian packed payload. Message
// types are plain structs; their wire layout is derived once from the struct
// declaration so that encode and decode can never drift apart.
package message

import (
	"fmt"
	"reflect"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ID is the numeric message identifier carried in the first packet byte.
type ID uint8

// Message is any registered wire message value. Concrete message types are
// plain structs registered with a Registry.
type Message any

// Entry declares one (ID, message type) pair for registry construction.
type Entry struct {
	id  ID
	typ reflect.Type
}

// Def declares a message type with its protocol ID.
func Def[T Message](id ID) Entry {
	var zero T
	return Entry{id: id, typ: reflect.TypeOf(zero)}
}

type entry struct {
	id     ID
	typ    reflect.Type
	layout *layout
}

// Registry maps message IDs to message types and holds the derived wire
// layouts. It is immutable after construction; build one at startup and pass
// it to whoever needs to encode or decode packets.
type Registry struct {
	byID   map[ID]*entry
	byType map[reflect.Type]*entry
	order  *orderedmap.OrderedMap[ID, *entry]
}

// NewRegistry builds a registry from the declared entries. Reusing an ID or
// declaring a type with an unsupported layout is a construction error.
func NewRegistry(defs ...Entry) (*Registry, error) {
	r := &Registry{
		byID:   make(map[ID]*entry, len(defs)),
		byType: make(map[reflect.Type]*entry, len(defs)),
		order:  orderedmap.New[ID, *entry](),
	}

	for _, d := range defs {
		if prev, dup := r.byID[d.id]; dup {
			return nil, fmt.Errorf("message: ID 0x%02X assigned to both %s and %s",
				uint8(d.id), prev.typ, d.typ)
		}
		if _, dup := r.byType[d.typ]; dup {
			return nil, fmt.Errorf("message: type %s registered twice", d.typ)
		}

		lay, err := layoutOf(d.typ)
		if err != nil {
			return nil, fmt.Errorf("message: %s: %w", d.typ, err)
		}

		e := &entry{id: d.id, typ: d.typ, layout: lay}
		r.byID[d.id] = e
		r.byType[d.typ] = e
		r.order.Set(d.id, e)
	}

	return r, nil
}

// MustRegistry is NewRegistry that panics on error. Intended for static
// protocol tables built at process startup.
func MustRegistry(defs ...Entry) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Encode produces the packet bytes for a message: ID byte plus packed payload.
// Returns an *AbstractMessageError for types not present in the registry.
func (r *Registry) Encode(m Message) ([]byte, error) {
	t := reflect.TypeOf(m)
	e, ok := r.byType[t]
	if !ok {
		return nil, &AbstractMessageError{Type: t}
	}

	payload := e.layout.pack(reflect.ValueOf(m))
	return append([]byte{byte(e.id)}, payload...), nil
}

// Decode parses packet bytes into the registered message value.
// Returns an *UnrecognizedMessageError for unknown IDs and an *UnpackError
// when the payload does not match the registered layout.
func (r *Registry) Decode(blob []byte) (Message, error) {
	if len(blob) == 0 {
		return nil, &UnpackError{Reason: "empty packet"}
	}

	id := ID(blob[0])
	e, ok := r.byID[id]
	if !ok {
		return nil, &UnrecognizedMessageError{ID: id}
	}

	v := reflect.New(e.typ).Elem()
	if err := e.layout.unpack(blob[1:], v); err != nil {
		return nil, &UnpackError{ID: id, Reason: err.Error()}
	}
	return v.Interface(), nil
}

// IDOf returns the ID assigned to the message's type.
func (r *Registry) IDOf(m Message) (ID, bool) {
	e, ok := r.byType[reflect.TypeOf(m)]
	if !ok {
		return 0, false
	}
	return e.id, true
}

// Lookup returns the message type registered for an ID.
func (r *Registry) Lookup(id ID) (reflect.Type, bool) {
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.typ, true
}

// Len returns the number of registered message types.
func (r *Registry) Len() int {
	return len(r.byID)
}

// Each visits the registered (ID, type) pairs in registration order.
// Return false from fn to stop early.
func (r *Registry) Each(fn func(id ID, typ reflect.Type) bool) {
	for pair := r.order.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Value.id, pair.Value.typ) {
			return
		}
	}
}

// TypeOf returns the reflect.Type of a message type parameter. Handy for
// APIs that key behavior on an expected message type.
func TypeOf[T Message]() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}

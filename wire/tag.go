package wire

import (
	"reflect"

	"github.com/cespare/xxhash/v2"

	"github.com/Meander-Cloud/go-netevent/message"
)

// TagOf derives the wire tag for a message name.
func TagOf(name string) Tag {
	return Tag(uint32(xxhash.Sum64String(name)))
}

// NameOf returns the wire name of t: MessageName when t or *t implements message.Named,
// otherwise the package path and type name.
func NameOf(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	if t.Implements(namedType) {
		if named, ok := reflect.Zero(t).Interface().(message.Named); ok && t.Kind() != reflect.Pointer {
			return named.MessageName()
		}
	}
	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(namedType) {
		if named, ok := reflect.New(t).Interface().(message.Named); ok {
			return named.MessageName()
		}
	}

	// messages sent by pointer share the name of the pointed type
	if t.Kind() == reflect.Pointer {
		return NameOf(t.Elem())
	}

	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// NameFor is NameOf for a type parameter.
func NameFor[T any]() string {
	return NameOf(reflect.TypeFor[T]())
}

var namedType = reflect.TypeFor[message.Named]()

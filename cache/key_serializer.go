package cache

import (
	"fmt"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = ":"

// Key namespaces.
const (
	EntityNamespace     = "entity"
	CollectionNamespace = "collection" + KeySeparator + "sorted"
)

// CollectionPrefix is shared by every sorted listing key.
const CollectionPrefix = CollectionNamespace + KeySeparator

// KeySerializer builds a cache key from a namespace and its arguments.
// It is responsible for producing stable keys across calls and processes.
type KeySerializer interface {
	SerializeKey(namespace string, args ...any) string
}

// defaultKeySerializer joins the namespace and the string form of every
// argument with KeySeparator.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

// SerializeKey builds namespace:arg1:arg2. Only values with a stable textual
// form are accepted (strings, string kinds, fmt.Stringer, numbers, bools);
// anything else is formatted with %v.
func (defaultKeySerializer) SerializeKey(namespace string, args ...any) string {
	if len(args) == 0 {
		return namespace
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, namespace)
	for _, arg := range args {
		parts = append(parts, serializeValue(arg))
	}
	return strings.Join(parts, KeySeparator)
}

func serializeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

var defaultSerializer = NewDefaultKeySerializer()

// EntityKey returns the key of a single entity snapshot: entity:<id>.
func EntityKey(id string) string {
	return defaultSerializer.SerializeKey(EntityNamespace, id)
}

// CollectionKey returns the key of a sorted listing:
// collection:sorted:<field>:<order>.
func CollectionKey(field, order string) string {
	return defaultSerializer.SerializeKey(CollectionNamespace, field, order)
}

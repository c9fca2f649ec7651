package rfpipe

import (
	"fmt"
	"sync"

	"github.com/pipelined/rfpipe/attrs"
)

// Factory constructs a Stage from its JSON-shaped configuration
// document. Factories are registered once per class name and used by
// FromJSON to reconstruct a stage from a configuration document such as
// one produced by Jsonize (spec.md §4.2's json_registry).
type Factory func(doc attrs.Doc) (Stage, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// RegisterFactory records f under name, the "class_name" field value
// FromJSON dispatches on. Registering the same name twice is a fatal
// programming error: it almost always means two packages picked the
// same class name by accident, so it panics at init time rather than
// failing a later, harder-to-trace FromJSON call.
func RegisterFactory(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("rfpipe: factory %q already registered", name))
	}
	registry[name] = f
}

// FromJSON reconstructs a Stage from a configuration document
// previously produced by a Stage's Jsonize, dispatching on its
// "class_name" field.
func FromJSON(doc attrs.Doc) (Stage, error) {
	name, err := doc.ClassName()
	if err != nil {
		return nil, fail("", "FromJSON: %v", err)
	}
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fail("", "FromJSON: no factory registered for class_name=%q", name)
	}
	return f(doc)
}

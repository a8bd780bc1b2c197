package ids

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// TypeRegistry is the bidirectional mapping between model names and the
// uint32 type numbers embedded in sqids. It is built once at boot and is
// read-only afterwards, so lookups need no locking.
type TypeRegistry struct {
	byName  map[string]uint32
	byNum   map[uint32]string
	version string
}

// NewTypeRegistry builds a registry from a name -> number mapping.
// Duplicate numbers and empty names are rejected; the registry shape is
// part of the persisted-id contract, so a bad mapping must fail loudly at
// startup rather than mint ambiguous ids.
func NewTypeRegistry(models map[string]uint32) (*TypeRegistry, error) {
	byName := make(map[string]uint32, len(models))
	byNum := make(map[uint32]string, len(models))

	for name, num := range models {
		if name == "" {
			return nil, fmt.Errorf("type registry: empty model name for number %d", num)
		}
		if existing, ok := byNum[num]; ok {
			return nil, fmt.Errorf("type registry: number %d assigned to both %q and %q", num, existing, name)
		}
		byName[name] = num
		byNum[num] = name
	}

	r := &TypeRegistry{byName: byName, byNum: byNum}
	r.version = r.computeVersion()
	return r, nil
}

// NumFor returns the type number for a model name.
func (r *TypeRegistry) NumFor(name string) (uint32, bool) {
	num, ok := r.byName[name]
	return num, ok
}

// NameFor returns the model name for a type number.
func (r *TypeRegistry) NameFor(num uint32) (string, bool) {
	name, ok := r.byNum[num]
	return name, ok
}

// Names returns all registered model names in sorted order.
func (r *TypeRegistry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collections returns the pluralized collection name for every registered
// model, sorted.
func (r *TypeRegistry) Collections() []string {
	names := r.Names()
	collections := make([]string, len(names))
	for i, name := range names {
		collections[i] = Pluralize(name)
	}
	return collections
}

// TypeForCollection reverses the pluralizer through the registry: given a
// collection name it returns the registered model it belongs to.
func (r *TypeRegistry) TypeForCollection(collection string) (string, bool) {
	for name := range r.byName {
		if Pluralize(name) == collection {
			return name, true
		}
	}
	return "", false
}

// Version returns the registry-shape hash, prefixed "v1:". The hash is
// FNV-1a-32 over the entries sorted by name and joined as "name:num,...".
// Persisted sqids store this value so a decode site can detect that the
// registry changed shape and refuse to decode stale ids.
func (r *TypeRegistry) Version() string { return r.version }

// CheckVersion compares a stored registry version against the live one.
func (r *TypeRegistry) CheckVersion(stored string) error {
	if stored != r.version {
		return fmt.Errorf("type registry version mismatch: stored %q, current %q", stored, r.version)
	}
	return nil
}

func (r *TypeRegistry) computeVersion() string {
	names := r.Names()
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s:%d", name, r.byName[name])
	}

	h := fnv.New32a()
	h.Write([]byte(strings.Join(parts, ",")))
	return fmt.Sprintf("v1:%08x", h.Sum32())
}

package index

import (
	"encoding/json"
	"sort"

	"github.com/siftengine/sift/internal/codec"
)

// FieldsIDsMap is the stable name<->id bijection every other sub-database
// keys facets, postings, and obkv entries against. Ids are assigned once,
// in first-seen order, and never reused for a different name — renaming a
// field means giving it a brand new id.
type FieldsIDsMap struct {
	nameToID map[string]uint16
	idToName map[uint16]string
	nextID   uint16
}

// NewFieldsIDsMap returns an empty map.
func NewFieldsIDsMap() *FieldsIDsMap {
	return &FieldsIDsMap{
		nameToID: make(map[string]uint16),
		idToName: make(map[uint16]string),
	}
}

// ID returns the id for name and whether it was already known.
func (m *FieldsIDsMap) ID(name string) (uint16, bool) {
	id, ok := m.nameToID[name]
	return id, ok
}

// Name returns the name for id and whether it was already known.
func (m *FieldsIDsMap) Name(id uint16) (string, bool) {
	name, ok := m.idToName[id]
	return name, ok
}

// InsertOrID returns name's id, assigning the next available one if name
// hasn't been seen before.
func (m *FieldsIDsMap) InsertOrID(name string) uint16 {
	if id, ok := m.nameToID[name]; ok {
		return id
	}
	id := m.nextID
	m.nextID++
	m.nameToID[name] = id
	m.idToName[id] = name
	return id
}

// Names returns every known field name, sorted for deterministic iteration.
func (m *FieldsIDsMap) Names() []string {
	names := make([]string, 0, len(m.nameToID))
	for name := range m.nameToID {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of distinct fields ever seen.
func (m *FieldsIDsMap) Len() int {
	return len(m.nameToID)
}

// fieldsIDsMapWire is the JSON wire shape persisted under
// mainKeyFieldsIDsMap: names indexed by id so re-encoding preserves
// existing ids instead of reassigning by insertion order.
type fieldsIDsMapWire struct {
	NextID uint16            `json:"nextId"`
	Names  map[uint16]string `json:"names"`
}

// Marshal encodes the map for storage in BucketMain.
func (m *FieldsIDsMap) Marshal() ([]byte, error) {
	wire := fieldsIDsMapWire{NextID: m.nextID, Names: m.idToName}
	return json.Marshal(wire)
}

// UnmarshalFieldsIDsMap decodes a map previously written by Marshal.
func UnmarshalFieldsIDsMap(data []byte) (*FieldsIDsMap, error) {
	var wire fieldsIDsMapWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	m := &FieldsIDsMap{
		nameToID: make(map[string]uint16, len(wire.Names)),
		idToName: make(map[uint16]string, len(wire.Names)),
		nextID:   wire.NextID,
	}
	for id, name := range wire.Names {
		m.nameToID[name] = id
		m.idToName[id] = name
	}
	return m, nil
}

// FieldDistribution tracks, per field name, how many documents carry a
// value for it — used by the facet/displayed-attribute UI hints and by
// §4.3's invariant bookkeeping.
type FieldDistribution map[string]int

// Increment bumps the count for name by delta (delta may be negative, for
// a document removal).
func (d FieldDistribution) Increment(name string, delta int) {
	d[name] += delta
	if d[name] <= 0 {
		delete(d, name)
	}
}

// Marshal encodes the distribution for storage in BucketMain.
func (d FieldDistribution) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalFieldDistribution decodes a distribution previously written by
// Marshal.
func UnmarshalFieldDistribution(data []byte) (FieldDistribution, error) {
	d := FieldDistribution{}
	if len(data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// externalIDKey and internalIDValue are trivial key/value encoders kept
// here (rather than in internal/codec) since external ids are this
// package's own concept, not a generic key shape.
func externalIDKey(externalID string) []byte {
	return []byte(externalID)
}

func internalIDValue(internalID uint32) []byte {
	return codec.EncodeUint32(internalID)
}

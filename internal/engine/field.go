// internal/engine/field.go
package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Field access for heterogeneous entity representations.
 *
 * One engine evaluates ServiceRequests, Leads, Opportunities and any other
 * entity type the surrounding CRUD application routes through it. Entity
 * access hides behind the Snapshot capability interface (get field ->
 * tagged value) so the engine never branches on entity type.
 *
 * Implementations:
 *   - MapSnapshot: caller-supplied map[string]any (the evaluateEntityEvent
 *     input shape)
 *   - JSONSnapshot: raw JSON document, parsed once on construction
 *
 * Unknown field names return ErrFieldNotFound: a configuration error, not
 * a runtime fault. It propagates to the execution engine as an Error-status
 * condition diagnostic rather than crashing the evaluation loop.
 */

// Snapshot exposes an entity's field values to the engine.
type Snapshot interface {
	// Get returns the tagged value of the named field, or ErrFieldNotFound.
	Get(field string) (types.FieldValue, error)

	// Fields lists the field names present, sorted, for deterministic
	// snapshot serialization.
	Fields() []string
}

// MapSnapshot adapts a dynamic field map to the Snapshot interface.
// Keys present with nil values are null fields, not missing fields.
type MapSnapshot map[string]any

// Get implements Snapshot.
func (m MapSnapshot) Get(field string) (types.FieldValue, error) {
	v, ok := m[field]
	if !ok {
		return types.NullValue(), fmt.Errorf("%w: %s", types.ErrFieldNotFound, field)
	}
	return types.FieldValueOf(v), nil
}

// Fields implements Snapshot.
func (m MapSnapshot) Fields() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JSONSnapshot adapts a raw JSON object to the Snapshot interface.
// The document is parsed once; nested values are exposed by their
// top-level key with container values treated as null scalars.
type JSONSnapshot struct {
	fields MapSnapshot
	raw    json.RawMessage
}

// NewJSONSnapshot parses a JSON object into a snapshot.
// Non-object documents are rejected.
func NewJSONSnapshot(raw json.RawMessage) (*JSONSnapshot, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("entity snapshot must be a JSON object: %w", err)
	}
	return &JSONSnapshot{fields: MapSnapshot(fields), raw: raw}, nil
}

// Get implements Snapshot.
func (s *JSONSnapshot) Get(field string) (types.FieldValue, error) {
	return s.fields.Get(field)
}

// Fields implements Snapshot.
func (s *JSONSnapshot) Fields() []string {
	return s.fields.Fields()
}

// MarshalSnapshot serializes a snapshot's field values for the execution
// audit record. Taken independent of outcome so post-hoc debugging never
// depends on the evaluation having succeeded.
func MarshalSnapshot(s Snapshot) json.RawMessage {
	if js, ok := s.(*JSONSnapshot); ok && len(js.raw) > 0 {
		return js.raw
	}
	out := make(map[string]any)
	for _, name := range s.Fields() {
		v, err := s.Get(name)
		if err != nil {
			continue
		}
		switch v.Kind {
		case types.KindNull:
			out[name] = nil
		case types.KindNumber:
			out[name] = v.Num
		case types.KindBool:
			out[name] = v.Bool
		default:
			out[name] = v.Text()
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

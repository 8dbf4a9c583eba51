package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"linkplan.ai/internal/entity"
)

const pointSchema = `{"type":"object","required":["x","y"],"properties":{"x":{"type":"number"},"y":{"type":"number"}}}`

// entitySchema is the shape every entity record from the authority must have.
var entitySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "position"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "position": ` + pointSchema + `,
    "direction": {"type": "integer", "minimum": 0, "maximum": 3},
    "tile_width": {"type": "number", "minimum": 0},
    "tile_height": {"type": "number", "minimum": 0},
    "input_position": ` + pointSchema + `,
    "output_position": ` + pointSchema + `,
    "is_source": {"type": "boolean"},
    "is_terminus": {"type": "boolean"},
    "network_id": {"type": "integer", "minimum": 0},
    "underground_type": {"enum": ["", "input", "output"]},
    "connected_to": ` + pointSchema + `,
    "ports": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["position", "direction"],
        "properties": {
          "position": ` + pointSchema + `,
          "direction": {"type": "integer", "minimum": 0, "maximum": 3}
        }
      }
    },
    "status": {"type": "string"},
    "inventory": {"type": "object", "additionalProperties": {"type": "integer"}},
    "contents": {"type": "number"},
    "flow": {"type": "number"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func entityRecordSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("entity.schema.json", entitySchema)
	})
	return schema, schemaErr
}

// DecodeEntity validates one raw record and decodes it.
func DecodeEntity(raw json.RawMessage) (entity.Entity, error) {
	s, err := entityRecordSchema()
	if err != nil {
		return entity.Entity{}, fmt.Errorf("compile entity schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entity.Entity{}, fmt.Errorf("entity record: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return entity.Entity{}, fmt.Errorf("entity record: %w", err)
	}
	var e entity.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return entity.Entity{}, fmt.Errorf("entity record: %w", err)
	}
	return e, nil
}

// DecodeEntities decodes records in order, failing on the first bad one.
func DecodeEntities(raws []json.RawMessage) ([]entity.Entity, error) {
	out := make([]entity.Entity, 0, len(raws))
	for i, raw := range raws {
		e, err := DecodeEntity(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// DecodeIndexed decodes an index-keyed record map in ascending index order.
func DecodeIndexed(raws map[int]json.RawMessage) ([]entity.Entity, error) {
	idx := make([]int, 0, len(raws))
	for i := range raws {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	ordered := make([]json.RawMessage, 0, len(idx))
	for _, i := range idx {
		ordered = append(ordered, raws[i])
	}
	return DecodeEntities(ordered)
}

// EncodeEntity is the inverse of DecodeEntity, used by authorities and tests.
func EncodeEntity(e entity.Entity) json.RawMessage {
	b, err := json.Marshal(e)
	if err != nil {
		// Entity holds only plain data; Marshal cannot fail.
		panic(err)
	}
	return b
}

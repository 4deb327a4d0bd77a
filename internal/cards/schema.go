package cards

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaOnce = sync.OnceValues(buildSchemas)

// PayloadSchemas returns the JSON schema of each card type's data
// payload, indented, keyed by type.
func PayloadSchemas() (map[Type]string, error) {
	return schemaOnce()
}

func buildSchemas() (map[Type]string, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	out := make(map[Type]string, len(Types()))
	for _, t := range Types() {
		s := r.Reflect(newPayload(t))
		s.Version = ""
		s.ID = ""
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", t, err)
		}
		out[t] = string(data)
	}
	return out, nil
}

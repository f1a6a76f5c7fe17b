package wa

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type schemas struct {
	history  *jsonschema.Schema
	message  *jsonschema.Schema
	contacts *jsonschema.Schema
}

func loadSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	names := []string{"history", "message", "contacts"}
	for _, name := range names {
		raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaURL(name), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	var s schemas
	var err error
	if s.history, err = c.Compile(schemaURL("history")); err != nil {
		return nil, err
	}
	if s.message, err = c.Compile(schemaURL("message")); err != nil {
		return nil, err
	}
	if s.contacts, err = c.Compile(schemaURL("contacts")); err != nil {
		return nil, err
	}
	return &s, nil
}

func schemaURL(name string) string {
	return "https://wppcal.local/schemas/" + name + ".json"
}

// decodeAny parses raw JSON into the generic form the validator expects.
func decodeAny(raw []byte) (any, error) {
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

package envelope

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/zeventbooks/eventangle-edge/internal/action"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[action.Action]string{
	action.Status:              "status.json",
	action.Health:              "health.json",
	action.GetPublicBundle:     "bundle.json",
	action.GetAdminBundle:      "bundle.json",
	action.GetDisplayBundle:    "bundle.json",
	action.GetPosterBundle:     "bundle.json",
	action.GetSharedAnalytics:  "analytics.json",
	action.GetSponsorAnalytics: "analytics.json",
	action.ListEvents:          "events.json",
	action.SetupCheck:          "setup.json",
	action.CheckPermissions:    "permissions.json",
}

// ContractValidator checks backend payloads against the documented shape of
// each action.
type ContractValidator struct {
	schemas map[action.Action]*jsonschema.Schema
}

// NewContractValidator compiles the embedded schemas.
func NewContractValidator() (*ContractValidator, error) {
	c := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema)
	v := &ContractValidator{schemas: make(map[action.Action]*jsonschema.Schema, len(schemaFiles))}

	for a, file := range schemaFiles {
		if s, ok := compiled[file]; ok {
			v.schemas[a] = s
			continue
		}
		raw, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", file, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", file, err)
		}
		if err := c.AddResource(file, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", file, err)
		}
		s, err := c.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", file, err)
		}
		compiled[file] = s
		v.schemas[a] = s
	}
	return v, nil
}

// Validate returns a CONTRACT error when payload does not match the schema
// for a. Actions without a schema always pass.
func (v *ContractValidator) Validate(a action.Action, payload []byte) error {
	s, ok := v.schemas[a]
	if !ok {
		return nil
	}
	var inst any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&inst); err != nil {
		return errors.Contract(a.String(), fmt.Errorf("payload is not JSON: %w", err))
	}
	if err := s.Validate(inst); err != nil {
		return errors.Contract(a.String(), err)
	}
	return nil
}

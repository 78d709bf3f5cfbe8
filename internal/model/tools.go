package model

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/genai"
)

// describer matches tool.Tool from ADK.
type describer interface {
	Description() string
}

// declarationProvider matches tools that expose a function declaration.
type declarationProvider interface {
	Declaration() *genai.FunctionDeclaration
}

// toolSpec is a vendor-neutral view of one callable tool.
type toolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// toolSpecs flattens the request's tool map, sorted by name so requests are stable.
func toolSpecs(tools map[string]any) []toolSpec {
	specs := make([]toolSpec, 0, len(tools))
	for name, def := range tools {
		var decl *genai.FunctionDeclaration
		spec := toolSpec{Name: name}

		switch d := def.(type) {
		case *genai.FunctionDeclaration:
			decl = d
		case genai.FunctionDeclaration:
			decl = &d
		default:
			if t, ok := def.(describer); ok {
				spec.Description = t.Description()
			}
			if dp, ok := def.(declarationProvider); ok {
				decl = dp.Declaration()
			}
		}

		if decl != nil {
			if spec.Description == "" {
				spec.Description = decl.Description
			}
			spec.Parameters = declarationSchema(decl)
		}
		if spec.Parameters == nil {
			spec.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// declarationSchema returns the parameter schema as plain JSON-schema maps.
// Function tools carry ParametersJsonSchema; hand-built declarations carry a
// genai.Schema whose type names are upper case.
func declarationSchema(decl *genai.FunctionDeclaration) map[string]any {
	var src any
	switch {
	case decl.ParametersJsonSchema != nil:
		src = decl.ParametersJsonSchema
	case decl.Parameters != nil:
		src = decl.Parameters
	default:
		return nil
	}

	raw, err := json.Marshal(src)
	if err != nil {
		slog.Warn("could not marshal tool schema", "tool", decl.Name, "err", err)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Warn("could not decode tool schema", "tool", decl.Name, "err", err)
		return nil
	}
	normalizeSchema(m)
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}

// normalizeSchema lower-cases "type" values in place, recursively.
func normalizeSchema(v any) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if s, ok := child.(string); ok && k == "type" {
				node[k] = strings.ToLower(s)
				continue
			}
			normalizeSchema(child)
		}
	case []any:
		for _, child := range node {
			normalizeSchema(child)
		}
	}
}

// systemText joins the text parts of the system instruction, if any.
func systemText(cfg *genai.GenerateContentConfig) string {
	if cfg == nil || cfg.SystemInstruction == nil {
		return ""
	}
	var parts []string
	for _, p := range cfg.SystemInstruction.Parts {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

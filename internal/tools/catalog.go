package tools

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var catalogTOML []byte

// catalogParam mirrors one [[tools.params]] entry.
type catalogParam struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"`
	Description string `toml:"description"`
	Required    bool   `toml:"required"`
	Default     any    `toml:"default"`
}

// catalogTool mirrors one [[tools]] entry.
type catalogTool struct {
	Name        string         `toml:"name"`
	Description string         `toml:"description"`
	Params      []catalogParam `toml:"params"`
}

// loadCatalog parses the embedded catalog into tool definitions.
func loadCatalog() ([]catalogTool, error) {
	var catalog struct {
		Tools []catalogTool `toml:"tools"`
	}
	if err := toml.Unmarshal(catalogTOML, &catalog); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	if len(catalog.Tools) == 0 {
		return nil, fmt.Errorf("tool catalog is empty")
	}
	return catalog.Tools, nil
}

// specFromCatalog converts a catalog entry into a Spec without an executor.
func specFromCatalog(def catalogTool) Spec {
	params := make([]Param, 0, len(def.Params))
	for _, p := range def.Params {
		params = append(params, Param{
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			Required:    p.Required,
			Default:     normalizeDefault(p.Type, p.Default),
		})
	}
	return Spec{
		Name:        def.Name,
		Description: def.Description,
		Params:      params,
	}
}

// normalizeDefault aligns TOML-decoded defaults with the declared type so
// validation sees the same shapes it accepts from JSON arguments.
func normalizeDefault(declared string, value any) any {
	if value == nil {
		return nil
	}
	if declared == "integer" {
		if v, ok := value.(int64); ok {
			return int(v)
		}
	}
	if declared == "number" {
		if v, ok := value.(int64); ok {
			return float64(v)
		}
	}
	return value
}

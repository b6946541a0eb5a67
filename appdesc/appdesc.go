// Package appdesc parses and validates the application descriptor: the
// TOML document naming which modules a coordinator loads, which module
// handles each transaction type, and host-level defaults shared across
// modules.
//
// Grounded on the original implementation's coordinator/src/app_desc.rs,
// translated from its serde(kebab-case)+toml shape into Go with
// github.com/pelletier/go-toml for parsing and
// github.com/go-playground/validator/v10 for the structural and
// cross-field checks the original's hand-written validator module
// performs.
package appdesc

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml"
)

// ModuleSpec describes one module entry under [modules.<name>].
type ModuleSpec struct {
	// Name is the map key this spec was parsed under, filled in by Parse
	// (TOML has no way to feed a map's own key back into its value).
	Name string `toml:"-"`

	Hash         string                 `toml:"hash" validate:"required,hexadecimal"`
	Transactions []string               `toml:"transactions"`
	GenesisConfig map[string]any        `toml:"genesis_config"`
	Tags         map[string]any         `toml:"tags"`
}

// HostDefaults holds host-level configuration shared across every module,
// under the [host] table.
type HostDefaults struct {
	GenesisConfig map[string]any `toml:"genesis_config"`
}

// AppDescriptor is the parsed, validated application descriptor.
type AppDescriptor struct {
	Modules      map[string]ModuleSpec `toml:"modules" validate:"required,min=1,dive"`
	Host         HostDefaults          `toml:"host"`
	Transactions map[string]string     `toml:"transactions"`
}

var validate = validator.New()

// Parse decodes data as a TOML application descriptor and validates it,
// including the cross-field constraint the original's validator module
// enforces: every [transactions] target must name a module declared under
// [modules].
func Parse(data []byte) (*AppDescriptor, error) {
	var desc AppDescriptor
	if err := toml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("appdesc: parsing TOML: %w", err)
	}

	for name, spec := range desc.Modules {
		spec.Name = name
		desc.Modules[name] = spec
	}

	if err := validate.Struct(&desc); err != nil {
		return nil, fmt.Errorf("appdesc: validation failed: %w", err)
	}

	for txType, moduleName := range desc.Transactions {
		if _, ok := desc.Modules[moduleName]; !ok {
			return nil, fmt.Errorf("appdesc: transaction type %q names undeclared module %q", txType, moduleName)
		}
	}

	for name, spec := range desc.Modules {
		for _, exportName := range spec.Transactions {
			if exportName == "" {
				return nil, fmt.Errorf("appdesc: module %q declares an empty transaction export name", name)
			}
		}
	}

	return &desc, nil
}

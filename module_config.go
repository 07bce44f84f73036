/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package xlayer

import "github.com/pkg/errors"

// ModuleConfig represents one module to mount, by binding name. Each ModuleConfig is used against a Registry to
// locate the ModuleFactory that builds the Module. The options are parsed by that factory, their valid keys and
// values are not defined by xlayer.
type ModuleConfig struct {
	binding string
	prefix  string
	options map[interface{}]interface{}
}

// NewModuleConfig creates a ModuleConfig without parsing, for programmatic use.
func NewModuleConfig(binding, prefix string, options map[interface{}]interface{}) *ModuleConfig {
	return &ModuleConfig{binding: binding, prefix: prefix, options: options}
}

// Binding returns the string that identifies the ModuleFactory to build this module with.
func (module *ModuleConfig) Binding() string {
	return module.binding
}

// Prefix returns the path prefix the module is mounted under.
func (module *ModuleConfig) Prefix() string {
	return module.prefix
}

// Options returns the options associated with this ModuleConfig binding.
func (module *ModuleConfig) Options() map[interface{}]interface{} {
	return module.options
}

// Parse the configuration map for a ModuleConfig.
func (module *ModuleConfig) Parse(moduleConfigMap map[interface{}]interface{}) error {
	if bindingInterface, ok := moduleConfigMap["binding"]; ok {
		if binding, ok := bindingInterface.(string); ok {
			module.binding = binding
		} else {
			return errors.New("binding must be a string")
		}
	} else {
		return errors.New("binding is required")
	}

	if prefixInterface, ok := moduleConfigMap["prefix"]; ok {
		if prefix, ok := prefixInterface.(string); ok {
			module.prefix = prefix
		} else {
			return errors.New("prefix must be a string")
		}
	} else {
		return errors.New("prefix is required")
	}

	if optionsInterface, ok := moduleConfigMap["options"]; ok {
		if optionsMap, ok := optionsInterface.(map[interface{}]interface{}); ok {
			module.options = optionsMap //leave to factories to interpret further
		} else {
			return errors.New("options if declared must be a map")
		}
	} //no else optional

	return nil
}

// Validate this configuration object.
func (module *ModuleConfig) Validate() error {
	if module.Binding() == "" {
		return errors.New("binding must be specified")
	}

	if err := validatePrefix(module.prefix); err != nil {
		return err
	}

	return nil
}

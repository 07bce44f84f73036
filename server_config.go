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

import (
	"fmt"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/identity"
	"github.com/pkg/errors"
)

// ServerConfigOptions are the http.Server settings of one ServerConfig.
type ServerConfigOptions struct {
	Options
}

// ServerConfig is the configuration that will eventually be used to create a xlayer.Server (which in turn houses
// one http.Server per bind point, all serving the same Layer).
type ServerConfig struct {
	DefaultHttpHandlerProviderImpl
	Name       string
	BindPoints []*BindPointConfig
	Options    ServerConfigOptions

	DefaultIdentity identity.Identity
	Identity        identity.Identity
}

// Parse parses a configuration map to set all relevant ServerConfig values.
func (config *ServerConfig) Parse(configMap map[interface{}]interface{}, pathContext string) error {
	//parse name, required, string
	if nameInterface, ok := configMap["name"]; ok {
		if name, ok := nameInterface.(string); ok {
			config.Name = name
		} else {
			return errors.New("name is required to be a string")
		}
	} else {
		return errors.New("name is required")
	}

	//parse bindPoints
	if bindPointArrVal, ok := configMap["bindPoints"]; ok {
		if bindPointArr, ok := bindPointArrVal.([]interface{}); ok {
			for i, bp := range bindPointArr {
				if bpMap, ok := bp.(map[interface{}]interface{}); ok {
					bindPoint := &BindPointConfig{}
					if err := bindPoint.Parse(bpMap); err != nil {
						return errors.Wrapf(err, "error parsing bindPoint configuration at index [%d]", i)
					}
					config.BindPoints = append(config.BindPoints, bindPoint)
				} else {
					return fmt.Errorf("error parsing bindPoint configuration at index [%d]: not a map", i)
				}
			}
		} else {
			return errors.New("bindPoints must be an array")
		}
	} else {
		return errors.New("bindPoints is required")
	}

	//parse identity
	if identityInterface, ok := configMap["identity"]; ok {
		if identityMap, ok := identityInterface.(map[interface{}]interface{}); ok {
			if identityConfig, err := parseIdentityConfig(identityMap, pathContext+".identity"); err == nil {
				config.Identity, err = identity.LoadIdentity(*identityConfig)
				if err != nil {
					return fmt.Errorf("error loading identity: %v", err)
				}

				if err := config.Identity.WatchFiles(); err != nil {
					pfxlog.Logger().Warnf("could not enable file watching on bind point identity: %v", err)
				}
			} else {
				return fmt.Errorf("error parsing identity section: %v", err)
			}

		} else {
			return errors.New("identity section must be a map if defined")
		}

	} //no else, optional, will defer to the default identity or plain http

	//parse options
	config.Options = ServerConfigOptions{}
	config.Options.Default()

	if optionsInterface, ok := configMap["options"]; ok {
		if optionMap, ok := optionsInterface.(map[interface{}]interface{}); ok {
			if err := config.Options.Parse(optionMap); err != nil {
				return fmt.Errorf("error parsing options section: %v", err)
			}
		} else {
			return errors.New("options section must be a map if defined")
		}
	}

	return nil
}

// Validate all ServerConfig values
func (config *ServerConfig) Validate() error {
	if config.Name == "" {
		return errors.New("name must not be empty")
	}

	if len(config.BindPoints) <= 0 {
		return errors.New("no bindPoint specified, must specify at lest one")
	}

	for i, bp := range config.BindPoints {
		if bp == nil {
			return errors.New("a nil bindPoint was processed")
		}

		if err := bp.Validate(); err != nil {
			return fmt.Errorf("invalid bindPoint at index [%d]: %v", i, err)
		}
	}

	if config.Identity == nil {
		config.Identity = config.DefaultIdentity
	}

	return config.Options.Validate()
}

// TLS reports whether the server listens with TLS.
func (config *ServerConfig) TLS() bool {
	return config.Identity != nil
}

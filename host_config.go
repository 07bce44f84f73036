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
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/identity"
)

const (
	MinTLSVersion = tls.VersionTLS12
	MaxTLSVersion = tls.VersionTLS13

	DefaultHttpWriteTimeout = time.Second * 10
	DefaultHttpReadTimeout  = time.Second * 5
	DefaultHttpIdleTimeout  = time.Second * 5
)

// TlsVersionMap is a map of configuration strings to TLS version identifiers
var TlsVersionMap = map[string]int{
	"TLS1.0": tls.VersionTLS10,
	"TLS1.1": tls.VersionTLS11,
	"TLS1.2": tls.VersionTLS12,
	"TLS1.3": tls.VersionTLS13,
}

// ReverseTlsVersionMap is a map of TLS version identifiers to configuration strings
var ReverseTlsVersionMap = map[int]string{
	tls.VersionTLS10: "TLS1.0",
	tls.VersionTLS11: "TLS1.1",
	tls.VersionTLS12: "TLS1.2",
	tls.VersionTLS13: "TLS1.3",
}

// HostConfig is the root configuration of a Host: the Layer settings, the modules to mount on it and the
// ServerConfig's that serve it.
//
//	layer:
//	  debug: false
//	  healthchecks: true
//	  healthPath: /_health
//	  metricsPath: /_metrics
//	  modules:
//	    - binding: echo
//	      prefix: /echo
//	  servers:
//	    - name: public
//	      bindPoints:
//	        - interface: 0.0.0.0:8080
//	          address: localhost:8080
type HostConfig struct {
	SourceConfig map[interface{}]interface{}
	Section      string

	Debug         bool
	DisableHealth bool
	HealthPath    string
	MetricsPath   string

	Modules       []*ModuleConfig
	ServerConfigs []*ServerConfig

	DefaultIdentity        identity.Identity
	DefaultIdentitySection string

	//used for loading/validation logic, use DefaultIdentity.GetConfig() for runtime
	defaultIdentityConfig *identity.Config

	enabled bool
}

// Parse parses a configuration map, looking for the Layer section and an optional default identity section.
// Servers without an identity of their own and without a default identity serve plain HTTP.
func (config *HostConfig) Parse(configMap map[interface{}]interface{}) error {
	config.SourceConfig = configMap

	if config.Section == "" {
		return errors.New("layer section not specified for configuration")
	}

	if config.DefaultIdentity == nil && config.DefaultIdentitySection != "" {
		if identityInterface, ok := configMap[config.DefaultIdentitySection]; ok {
			if identityMap, ok := identityInterface.(map[interface{}]interface{}); ok {
				if identityConfig, err := parseIdentityConfig(identityMap, config.DefaultIdentitySection); err == nil {
					config.defaultIdentityConfig = identityConfig
				} else {
					return fmt.Errorf("error parsing root identity section [%s] : %v", config.DefaultIdentitySection, err)
				}
			} else {
				return fmt.Errorf("root identity section [%s] must be a map", config.DefaultIdentitySection)
			}
		} //no else, optional
	} else if config.DefaultIdentity != nil {
		config.defaultIdentityConfig = config.DefaultIdentity.GetConfig()
	}

	sectionVal, ok := configMap[config.Section]
	if !ok {
		return fmt.Errorf("layer section [%s] must be defined", config.Section)
	}

	sectionMap, ok := sectionVal.(map[interface{}]interface{})
	if !ok {
		return fmt.Errorf("layer section [%s] must be a map", config.Section)
	}

	if debugInterface, ok := sectionMap["debug"]; ok {
		if debug, ok := debugInterface.(bool); ok {
			config.Debug = debug
		} else {
			return errors.New("debug must be a boolean")
		}
	}

	if healthInterface, ok := sectionMap["healthchecks"]; ok {
		if health, ok := healthInterface.(bool); ok {
			config.DisableHealth = !health
		} else {
			return errors.New("healthchecks must be a boolean")
		}
	}

	if pathInterface, ok := sectionMap["healthPath"]; ok {
		if path, ok := pathInterface.(string); ok {
			config.HealthPath = path
		} else {
			return errors.New("healthPath must be a string")
		}
	}

	if pathInterface, ok := sectionMap["metricsPath"]; ok {
		if path, ok := pathInterface.(string); ok {
			config.MetricsPath = path
		} else {
			return errors.New("metricsPath must be a string")
		}
	}

	if modulesInterface, ok := sectionMap["modules"]; ok {
		if moduleArrayInterfaces, ok := modulesInterface.([]interface{}); ok {
			for i, moduleInterface := range moduleArrayInterfaces {
				if moduleMap, ok := moduleInterface.(map[interface{}]interface{}); ok {
					module := &ModuleConfig{}
					if err := module.Parse(moduleMap); err != nil {
						return fmt.Errorf("error parsing module configuration at index [%d]: %v", i, err)
					}

					config.Modules = append(config.Modules, module)
				} else {
					return fmt.Errorf("error parsing module configuration at index [%d]: not a map", i)
				}
			}
		} else {
			return errors.New("modules section must be an array")
		}
	}

	if serversInterface, ok := sectionMap["servers"]; ok {
		if serverArrayInterfaces, ok := serversInterface.([]interface{}); ok {
			for i, serverInterface := range serverArrayInterfaces {
				if serverMap, ok := serverInterface.(map[interface{}]interface{}); ok {
					serverConfig := &ServerConfig{
						DefaultIdentity: config.DefaultIdentity,
					}
					if err := serverConfig.Parse(serverMap, fmt.Sprintf("%s.servers[%d]", config.Section, i)); err != nil {
						return fmt.Errorf("error parsing server configuration [%s] at index [%d]: %v", config.Section, i, err)
					}

					config.ServerConfigs = append(config.ServerConfigs, serverConfig)
				} else {
					return fmt.Errorf("error parsing server configuration [%s] at index [%d]: not a map", config.Section, i)
				}
			}
		} else {
			return errors.New("servers section must be an array")
		}
	}

	return nil
}

// Validate uses a Registry to validate that all ModuleConfig bindings may be fulfilled. All other relevant
// HostConfig values are also validated.
func (config *HostConfig) Validate(registry Registry) error {
	if config.DefaultIdentity == nil && config.defaultIdentityConfig != nil {
		//validate default identity by loading
		if defaultIdentity, err := identity.LoadIdentity(*config.defaultIdentityConfig); err == nil {
			config.DefaultIdentity = defaultIdentity

			if err := config.DefaultIdentity.WatchFiles(); err != nil {
				pfxlog.Logger().Warnf("could not enable file watching on default identity: %v", err)
			}
		} else {
			return fmt.Errorf("could not load default identity: %v", err)
		}

		//add default loaded identity to each server
		for _, serverConfig := range config.ServerConfigs {
			serverConfig.DefaultIdentity = config.DefaultIdentity
		}
	}

	for _, path := range []string{config.HealthPath, config.MetricsPath} {
		if path != "" {
			if err := validatePrefix(path); err != nil {
				return fmt.Errorf("invalid path in layer section [%s]: %v", config.Section, err)
			}
		}
	}

	for i, module := range config.Modules {
		if err := module.Validate(); err != nil {
			return fmt.Errorf("invalid ModuleConfig at index [%d]: %v", i, err)
		}

		factory := registry.Get(module.Binding())
		if factory == nil {
			return fmt.Errorf("invalid ModuleConfig at index [%d]: invalid binding %s", i, module.Binding())
		}

		for _, previous := range config.Modules[:i] {
			if prefixesOverlap(previous.Prefix(), module.Prefix()) {
				return fmt.Errorf("invalid ModuleConfig at index [%d]: prefix [%s] overlaps prefix [%s] of binding %s", i, module.Prefix(), previous.Prefix(), previous.Binding())
			}
		}

		if err := factory.Validate(module); err != nil {
			return fmt.Errorf("error validating ModuleConfig binding %s: %v", module.Binding(), err)
		}
	}

	var errs []error
	for i, serverConfig := range config.ServerConfigs {
		if err := serverConfig.Validate(); err != nil {
			return fmt.Errorf("could not validate server at %s[%d]: %v", config.Section, i, err)
		}

		if serverConfig.Identity != nil {
			for _, bp := range serverConfig.BindPoints {
				if ve := serverConfig.Identity.ValidFor(bp.Host()); ve != nil {
					errs = append(errs, ve)
				}
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	//enabled only after validation passes
	config.enabled = true

	return nil
}

// Enabled returns true/false on whether this configuration should be considered "enabled". Set to true after
// Validate passes.
func (config *HostConfig) Enabled() bool {
	return config.enabled
}

// LayerOptions returns the options to create the Layer with.
func (config *HostConfig) LayerOptions() LayerOptions {
	return LayerOptions{
		Debug:         config.Debug,
		DisableHealth: config.DisableHealth,
		HealthPath:    config.HealthPath,
		MetricsPath:   config.MetricsPath,
	}
}

// Options is the shared options for a ServerConfig.
type Options struct {
	TimeoutOptions
	TlsVersionOptions
}

// Default provides defaults for all necessary values
func (options *Options) Default() {
	options.TimeoutOptions.Default()
	options.TlsVersionOptions.Default()
}

// Parse parses a configuration map
func (options *Options) Parse(optionsMap map[interface{}]interface{}) error {
	if err := options.TimeoutOptions.Parse(optionsMap); err != nil {
		return fmt.Errorf("error parsing options: %v", err)
	}

	if err := options.TlsVersionOptions.Parse(optionsMap); err != nil {
		return fmt.Errorf("error parsing options: %v", err)
	}

	return nil
}

// Validate validates every option group.
func (options *Options) Validate() error {
	if err := options.TlsVersionOptions.Validate(); err != nil {
		return fmt.Errorf("invalid TLS version option: %v", err)
	}

	if err := options.TimeoutOptions.Validate(); err != nil {
		return fmt.Errorf("invalid timeout option: %v", err)
	}

	return nil
}

// TimeoutOptions represents http timeout options
type TimeoutOptions struct {
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Default defaults all HTTP timeout options
func (timeoutOptions *TimeoutOptions) Default() {
	timeoutOptions.WriteTimeout = DefaultHttpWriteTimeout
	timeoutOptions.ReadTimeout = DefaultHttpReadTimeout
	timeoutOptions.IdleTimeout = DefaultHttpIdleTimeout
}

// Parse parses a config map
func (timeoutOptions *TimeoutOptions) Parse(config map[interface{}]interface{}) error {
	var err error
	if timeoutOptions.ReadTimeout, err = parseDuration(config, "readTimeout", timeoutOptions.ReadTimeout); err != nil {
		return err
	}

	if timeoutOptions.IdleTimeout, err = parseDuration(config, "idleTimeout", timeoutOptions.IdleTimeout); err != nil {
		return err
	}

	if timeoutOptions.WriteTimeout, err = parseDuration(config, "writeTimeout", timeoutOptions.WriteTimeout); err != nil {
		return err
	}

	return nil
}

func parseDuration(config map[interface{}]interface{}, key string, current time.Duration) (time.Duration, error) {
	interfaceVal, ok := config[key]
	if !ok {
		return current, nil
	}

	durationStr, ok := interfaceVal.(string)
	if !ok {
		return current, fmt.Errorf("could not use value for %s, not a string", key)
	}

	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return current, fmt.Errorf("could not parse %s %s as a duration (e.g. 1m): %v", key, durationStr, err)
	}

	return duration, nil
}

// Validate validates all settings and return nil or an error
func (timeoutOptions *TimeoutOptions) Validate() error {
	if timeoutOptions.WriteTimeout <= 0 {
		return fmt.Errorf("value [%s] for writeTimeout too low, must be positive", timeoutOptions.WriteTimeout.String())
	}

	if timeoutOptions.ReadTimeout <= 0 {
		return fmt.Errorf("value [%s] for readTimeout too low, must be positive", timeoutOptions.ReadTimeout.String())
	}

	if timeoutOptions.IdleTimeout <= 0 {
		return fmt.Errorf("value [%s] for idleTimeout too low, must be positive", timeoutOptions.IdleTimeout.String())
	}

	return nil
}

// TlsVersionOptions represents TLS version options
type TlsVersionOptions struct {
	MinTLSVersion    int
	minTLSVersionStr string

	MaxTLSVersion    int
	maxTLSVersionStr string
}

// Default defaults TLS versions
func (tlsVersionOptions *TlsVersionOptions) Default() {
	tlsVersionOptions.MinTLSVersion = MinTLSVersion
	tlsVersionOptions.MaxTLSVersion = MaxTLSVersion
}

// Parse parses a config map
func (tlsVersionOptions *TlsVersionOptions) Parse(config map[interface{}]interface{}) error {
	if interfaceVal, ok := config["minTLSVersion"]; ok {
		var ok bool
		if tlsVersionOptions.minTLSVersionStr, ok = interfaceVal.(string); ok {
			if minTLSVersion, ok := TlsVersionMap[tlsVersionOptions.minTLSVersionStr]; ok {
				tlsVersionOptions.MinTLSVersion = minTLSVersion
			} else {
				return fmt.Errorf("could not use value for minTLSVersion, invalid value [%s]", tlsVersionOptions.minTLSVersionStr)
			}
		} else {
			return errors.New("could not use value for minTLSVersion, not an string")
		}
	}

	if interfaceVal, ok := config["maxTLSVersion"]; ok {
		var ok bool
		if tlsVersionOptions.maxTLSVersionStr, ok = interfaceVal.(string); ok {
			if maxTLSVersion, ok := TlsVersionMap[tlsVersionOptions.maxTLSVersionStr]; ok {
				tlsVersionOptions.MaxTLSVersion = maxTLSVersion
			} else {
				return fmt.Errorf("could not use value for maxTLSVersion, invalid value [%s]", tlsVersionOptions.maxTLSVersionStr)
			}
		} else {
			return errors.New("could not use value for maxTLSVersion, not an string")
		}
	}

	return nil
}

// Validate validates the configuration values and returns nil or error
func (tlsVersionOptions *TlsVersionOptions) Validate() error {
	if tlsVersionOptions.MinTLSVersion > tlsVersionOptions.MaxTLSVersion {
		return fmt.Errorf("minTLSVersion [%s] must be less than or equal to maxTLSVersion [%s]", ReverseTlsVersionMap[tlsVersionOptions.MinTLSVersion], ReverseTlsVersionMap[tlsVersionOptions.MaxTLSVersion])
	}

	return nil
}

func parseIdentityConfig(identityMap map[interface{}]interface{}, pathContext string) (*identity.Config, error) {
	idConfig, err := identity.NewConfigFromMap(identityMap)
	if err != nil {
		return nil, fmt.Errorf("error parsing identity: %v", err)
	}

	if err = idConfig.ValidateWithPathContext(pathContext); err != nil {
		return nil, fmt.Errorf("error parsing identity: %v", err)
	}

	return idConfig, nil
}

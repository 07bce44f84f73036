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
	"context"
	"errors"
	"sync"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/identity"
	pkgerrors "github.com/pkg/errors"
)

const (
	DefaultIdentitySection = "identity"
	DefaultConfigSection   = "layer"
)

// Host builds a Layer and its Servers from configuration: modules come from the ModuleFactory registered for
// their binding, servers from the ServerConfig's of the HostConfig.
type Host struct {
	DefaultHttpHandlerProviderImpl
	Config   *HostConfig
	Registry Registry

	lock    sync.Mutex
	layer   *Layer
	servers []*Server
}

func NewHost(registry Registry, defaultIdentity identity.Identity) *Host {
	return &Host{
		Registry: registry,
		Config: &HostConfig{
			DefaultIdentitySection: DefaultIdentitySection,
			DefaultIdentity:        defaultIdentity,
			Section:                DefaultConfigSection,
		},
	}
}

// GetRegistry returns the associated Registry
func (host *Host) GetRegistry() Registry {
	return host.Registry
}

// GetConfig returns the associated HostConfig
func (host *Host) GetConfig() *HostConfig {
	return host.Config
}

// Enabled returns true/false on whether the configuration has been loaded and validated
func (host *Host) Enabled() bool {
	return host.Config.Enabled()
}

// LoadConfig parses and validates the Host section of cfgmap.
func (host *Host) LoadConfig(cfgmap map[interface{}]interface{}) error {
	if err := host.Config.Parse(cfgmap); err != nil {
		return err
	}

	//validate sets enabled flag to true on success
	if err := host.Config.Validate(host.Registry); err != nil {
		return err
	}

	return nil
}

// Layer returns the Layer assembled by Build, nil before.
func (host *Host) Layer() *Layer {
	host.lock.Lock()
	defer host.lock.Unlock()
	return host.layer
}

// Servers returns the Servers assembled by Build.
func (host *Host) Servers() []*Server {
	host.lock.Lock()
	defer host.lock.Unlock()
	return append([]*Server(nil), host.servers...)
}

// Build assembles the Layer, its modules and the Servers from configuration and prepares to have Start() called.
func (host *Host) Build() error {
	host.lock.Lock()
	defer host.lock.Unlock()

	if !host.Config.Enabled() {
		return errors.New("host configuration has not been loaded and validated")
	}

	if host.layer != nil {
		return errors.New("host has already been built")
	}

	layer := NewLayer(host.Config.LayerOptions())
	layer.SetParent(host)

	for _, moduleConfig := range host.Config.Modules {
		factory := host.Registry.Get(moduleConfig.Binding())
		if factory == nil {
			return pkgerrors.Errorf("encountered module binding [%s] which has no associated factory registered", moduleConfig.Binding())
		}

		module, err := factory.New(moduleConfig)
		if err != nil {
			return pkgerrors.Wrapf(err, "encountered error building module for binding [%s]", moduleConfig.Binding())
		}

		if err := layer.AddModule(moduleConfig.Prefix(), module); err != nil {
			return pkgerrors.Wrapf(err, "could not mount module for binding [%s]", moduleConfig.Binding())
		}
	}

	var servers []*Server
	for _, serverConfig := range host.Config.ServerConfigs {
		servers = append(servers, NewServer(host, serverConfig, layer))
	}

	host.layer = layer
	host.servers = servers

	return nil
}

// Start fires the Layer startup event, then starts all Servers that were built by calling Build(). If a server
// fails to listen, those already started are shut down and the Layer shutdown event fires.
func (host *Host) Start(ctx context.Context) error {
	layer := host.Layer()
	if layer == nil {
		return errors.New("host has not been built")
	}

	if err := layer.Startup(ctx); err != nil {
		return err
	}

	servers := host.Servers()
	for i, server := range servers {
		if err := server.Start(); err != nil {
			pfxlog.Logger().Errorf("error starting server %s: %v", server.ServerConfig.Name, err)
			for _, started := range servers[:i] {
				started.Shutdown(ctx)
			}
			if shutdownErr := layer.Shutdown(ctx); shutdownErr != nil {
				pfxlog.Logger().Errorf("error shutting down layer after failed start: %v", shutdownErr)
			}
			return err
		}
	}

	return nil
}

// Run builds and starts the Layer and its Servers
func (host *Host) Run(ctx context.Context) error {
	if err := host.Build(); err != nil {
		return err
	}
	return host.Start(ctx)
}

// Shutdown stops all running Servers, then fires the Layer shutdown event.
func (host *Host) Shutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, server := range host.Servers() {
		localServer := server
		wg.Add(1)
		go func() {
			defer wg.Done()
			localServer.Shutdown(ctx)
		}()
	}
	wg.Wait()

	if layer := host.Layer(); layer != nil {
		return layer.Shutdown(ctx)
	}
	return nil
}

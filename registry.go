/*
	Copyright NetFoundry, Inc.

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
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ModuleFactory builds the Module instances a HostConfig asks for by binding name. The options of a
// ModuleConfig are interpreted by the factory only.
type ModuleFactory interface {
	Binding() string
	New(config *ModuleConfig) (Module, error)
	Validate(config *ModuleConfig) error
}

// Registry describes a registry of binding to ModuleFactory registrations
type Registry interface {
	Add(factory ModuleFactory) error
	Get(binding string) ModuleFactory
	Bindings() []string
}

// RegistryMap is a basic Registry implementation backed by a simple mapping of binding (string) to ModuleFactory instances
type RegistryMap struct {
	lock      sync.RWMutex
	factories map[string]ModuleFactory
}

var _ Registry = (*RegistryMap)(nil)

// NewRegistryMap creates a new RegistryMap
func NewRegistryMap() *RegistryMap {
	return &RegistryMap{
		factories: map[string]ModuleFactory{},
	}
}

// Add adds a factory to the registry. Errors if a previous factory with the same binding is registered.
func (registry *RegistryMap) Add(factory ModuleFactory) error {
	logrus.Debugf("adding xlayer module factory with binding: %v", factory.Binding())

	registry.lock.Lock()
	defer registry.lock.Unlock()

	if _, ok := registry.factories[factory.Binding()]; ok {
		return fmt.Errorf("binding [%s] already registered", factory.Binding())
	}

	registry.factories[factory.Binding()] = factory

	return nil
}

// Get retrieves a factory based on a binding or nil if no factory for the binding is registered
func (registry *RegistryMap) Get(binding string) ModuleFactory {
	registry.lock.RLock()
	defer registry.lock.RUnlock()

	return registry.factories[binding]
}

// Bindings lists the registered bindings, sorted.
func (registry *RegistryMap) Bindings() []string {
	registry.lock.RLock()
	defer registry.lock.RUnlock()

	result := make([]string, 0, len(registry.factories))
	for binding := range registry.factories {
		result = append(result, binding)
	}
	sort.Strings(result)
	return result
}

// ModuleFactoryFunc adapts a constructor into a ModuleFactory without option validation.
type ModuleFactoryFunc struct {
	Name        string
	Constructor func(config *ModuleConfig) (Module, error)
}

func (factory *ModuleFactoryFunc) Binding() string {
	return factory.Name
}

func (factory *ModuleFactoryFunc) New(config *ModuleConfig) (Module, error) {
	return factory.Constructor(config)
}

func (factory *ModuleFactoryFunc) Validate(*ModuleConfig) error {
	return nil
}

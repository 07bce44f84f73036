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
	"strings"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
)

// Describer declares the capabilities of a module type against a Builder.
type Describer[M any] func(b *Builder[M])

// Class is the harvested, immutable set of declarations for one module type. A Class is meant to be created once,
// as a package level variable, and shared by every Instance of the type.
type Class[M any] struct {
	name     string
	declared []*Descriptor[M]
	table    map[string]*Descriptor[M]

	routes       []*Descriptor[M]
	healthChecks []*Descriptor[M]
	startup      []*Descriptor[M]
	shutdown     []*Descriptor[M]
	handlers     []*Descriptor[M]
}

// Define runs the describers in order and harvests their declarations into a Class. Declaration order is kept
// within every bucket. Two exception handlers for the same ErrorKind are rejected.
func Define[M any](name string, describers ...Describer[M]) (*Class[M], error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.Wrap(ErrInvalidDeclaration, "module class name must not be empty")
	}

	b := newBuilder[M]()
	for _, describe := range describers {
		if describe != nil {
			describe(b)
		}
	}

	class := &Class[M]{
		name:     name,
		declared: b.declared,
		table:    b.table,
	}

	handled := map[ErrorKind]*Descriptor[M]{}

	for _, d := range b.declared {
		if d.name == "" {
			return nil, errors.Wrapf(ErrInvalidDeclaration, "class [%s] has a %s declaration without a name", name, d.kind)
		}

		if !d.hasTarget() {
			return nil, errors.Wrapf(ErrInvalidDeclaration, "class [%s] declaration [%s] has no target function", name, d.name)
		}

		switch d.kind {
		case KindRoute:
			if d.verb == "" {
				return nil, errors.Wrapf(ErrInvalidDeclaration, "class [%s] route [%s] has no http verb", name, d.name)
			}
			if !strings.HasPrefix(d.path, "/") {
				return nil, errors.Wrapf(ErrInvalidDeclaration, "class [%s] route [%s] path [%s] must start with /", name, d.name, d.path)
			}
			class.routes = append(class.routes, d)
		case KindHealthCheck:
			class.healthChecks = append(class.healthChecks, d)
		case KindStartup:
			class.startup = append(class.startup, d)
		case KindShutdown:
			class.shutdown = append(class.shutdown, d)
		case KindExceptionHandler:
			if d.errorKind.IsZero() {
				return nil, errors.Wrapf(ErrInvalidDeclaration, "class [%s] exception handler [%s] has no error kind", name, d.name)
			}
			if existing, ok := handled[d.errorKind]; ok {
				return nil, errors.Wrapf(ErrDuplicateExceptionHandler, "class [%s] declares [%s] and [%s] for %s", name, existing.name, d.name, d.errorKind)
			}
			handled[d.errorKind] = d
			class.handlers = append(class.handlers, d)
		}
	}

	pfxlog.Logger().Debugf("module class [%s] harvested: %d routes, %d health checks, %d startup hooks, %d shutdown hooks, %d exception handlers",
		name, len(class.routes), len(class.healthChecks), len(class.startup), len(class.shutdown), len(class.handlers))

	return class, nil
}

// MustDefine is Define for package level variables, it panics on error so a misdeclared module type stops the
// program during initialization.
func MustDefine[M any](name string, describers ...Describer[M]) *Class[M] {
	class, err := Define(name, describers...)
	if err != nil {
		panic(err)
	}
	return class
}

// Inherit replays the declarations of a base module type onto a derived type. up must return the base value the
// derived value embeds. Declarations made after Inherit override base declarations of the same name.
func Inherit[D, B any](base *Class[B], up func(D) B) Describer[D] {
	return func(b *Builder[D]) {
		for _, d := range base.declared {
			b.declare(lift(d, up))
		}
	}
}

func (class *Class[M]) Name() string {
	return class.name
}

func (class *Class[M]) Routes() []*Descriptor[M] {
	return append([]*Descriptor[M](nil), class.routes...)
}

func (class *Class[M]) HealthChecks() []*Descriptor[M] {
	return append([]*Descriptor[M](nil), class.healthChecks...)
}

func (class *Class[M]) StartupHooks() []*Descriptor[M] {
	return append([]*Descriptor[M](nil), class.startup...)
}

func (class *Class[M]) ShutdownHooks() []*Descriptor[M] {
	return append([]*Descriptor[M](nil), class.shutdown...)
}

func (class *Class[M]) ExceptionHandlers() []*Descriptor[M] {
	return append([]*Descriptor[M](nil), class.handlers...)
}

// Lookup resolves a declaration name through the method table.
func (class *Class[M]) Lookup(name string) (*Descriptor[M], bool) {
	d, ok := class.table[name]
	return d, ok
}

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
	pkgerrors "github.com/pkg/errors"
)

type namedHook struct {
	name string
	fn   HookFunc
}

// Lifecycle holds ordered startup and shutdown hooks plus the lifecycles included into it. Each event fires at
// most once: own hooks first, in registration order, then included lifecycles in inclusion order.
type Lifecycle struct {
	lock     sync.Mutex
	name     string
	startup  []namedHook
	shutdown []namedHook
	children []*Lifecycle
	started  bool
	stopped  bool
}

func NewLifecycle(name string) *Lifecycle {
	return &Lifecycle{name: name}
}

func (lifecycle *Lifecycle) Name() string {
	return lifecycle.name
}

func (lifecycle *Lifecycle) OnStartup(name string, fn HookFunc) {
	lifecycle.lock.Lock()
	defer lifecycle.lock.Unlock()
	lifecycle.startup = append(lifecycle.startup, namedHook{name: name, fn: fn})
}

func (lifecycle *Lifecycle) OnShutdown(name string, fn HookFunc) {
	lifecycle.lock.Lock()
	defer lifecycle.lock.Unlock()
	lifecycle.shutdown = append(lifecycle.shutdown, namedHook{name: name, fn: fn})
}

// Include makes child fire together with this lifecycle.
func (lifecycle *Lifecycle) Include(child *Lifecycle) {
	lifecycle.lock.Lock()
	defer lifecycle.lock.Unlock()
	lifecycle.children = append(lifecycle.children, child)
}

func (lifecycle *Lifecycle) Started() bool {
	lifecycle.lock.Lock()
	defer lifecycle.lock.Unlock()
	return lifecycle.started
}

// Startup fires the startup hooks. The first failing hook stops the event and its error is returned.
func (lifecycle *Lifecycle) Startup(ctx context.Context) error {
	lifecycle.lock.Lock()
	if lifecycle.started {
		lifecycle.lock.Unlock()
		return pkgerrors.Wrapf(ErrLifecycleFired, "startup of [%s]", lifecycle.name)
	}
	lifecycle.started = true
	hooks := append([]namedHook(nil), lifecycle.startup...)
	children := append([]*Lifecycle(nil), lifecycle.children...)
	lifecycle.lock.Unlock()

	for _, hook := range hooks {
		if err := runHook(ctx, hook); err != nil {
			return pkgerrors.Wrapf(err, "startup hook [%s] of [%s] failed", hook.name, lifecycle.name)
		}
	}

	for _, child := range children {
		if err := child.Startup(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown fires the shutdown hooks. Every hook runs even if an earlier one fails, all failures are returned.
func (lifecycle *Lifecycle) Shutdown(ctx context.Context) error {
	lifecycle.lock.Lock()
	if lifecycle.stopped {
		lifecycle.lock.Unlock()
		return pkgerrors.Wrapf(ErrLifecycleFired, "shutdown of [%s]", lifecycle.name)
	}
	lifecycle.stopped = true
	hooks := append([]namedHook(nil), lifecycle.shutdown...)
	children := append([]*Lifecycle(nil), lifecycle.children...)
	lifecycle.lock.Unlock()

	var errs []error
	for _, hook := range hooks {
		if err := runHook(ctx, hook); err != nil {
			pfxlog.Logger().WithField("lifecycle", lifecycle.name).Errorf("shutdown hook [%s] failed: %v", hook.name, err)
			errs = append(errs, pkgerrors.Wrapf(err, "shutdown hook [%s] of [%s] failed", hook.name, lifecycle.name))
		}
	}

	for _, child := range children {
		if err := child.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func runHook(ctx context.Context, hook namedHook) (err error) {
	defer recoverPanic(&err)
	return hook.fn(ctx)
}

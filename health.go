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
	"net/http"
	"sync"

	"github.com/michaelquigley/pfxlog"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHealthPath = "/_health"

	healthFailedDetail  = "One of the healthchecks failed."
	healthAbortedDetail = "Healthcheck aggregation aborted."
)

// HealthStatus is the outcome of one health aggregation.
type HealthStatus int

const (
	HealthPassed HealthStatus = iota
	HealthFailed
	HealthAborted
)

func (status HealthStatus) String() string {
	switch status {
	case HealthPassed:
		return "passed"
	case HealthFailed:
		return "failed"
	case HealthAborted:
		return "aborted"
	}
	return "unknown"
}

func runCheck(ctx context.Context, fn CheckFunc) (passed bool, err error) {
	defer recoverPanic(&err)
	return fn(ctx)
}

func logCheckError(log *logrus.Entry, name string, err error) {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		log.Errorf("panic caught in health check [%s]: %v\n%v", name, panicErr.Value, panicErr.Stack)
		return
	}
	log.Errorf("health check [%s] failed: %v", name, err)
}

// allPassed is the module composite check. Checks run concurrently, errors count as a failed check.
func allPassed(ctx context.Context, log *logrus.Entry, checks []boundCheck) bool {
	results := make([]bool, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			passed, err := runCheck(ctx, check.fn)
			if err != nil {
				logCheckError(log, check.name, err)
				return
			}
			results[i] = passed
		}()
	}
	wg.Wait()

	for _, passed := range results {
		if !passed {
			return false
		}
	}
	return true
}

// healthAggregator holds the root level checks of a Layer: checks added directly plus one composite check per
// mounted module.
type healthAggregator struct {
	lock    sync.RWMutex
	checks  []boundCheck
	log     *logrus.Entry
	metrics *Metrics
}

func newHealthAggregator(metrics *Metrics) *healthAggregator {
	return &healthAggregator{
		log:     pfxlog.Logger().WithField("component", "health"),
		metrics: metrics,
	}
}

func (aggregator *healthAggregator) add(name string, fn CheckFunc) {
	aggregator.lock.Lock()
	defer aggregator.lock.Unlock()
	aggregator.checks = append(aggregator.checks, boundCheck{name: name, fn: fn})
}

func (aggregator *healthAggregator) len() int {
	aggregator.lock.RLock()
	defer aggregator.lock.RUnlock()
	return len(aggregator.checks)
}

// run dispatches every check concurrently and waits for all of them. A check returning an error or panicking
// aborts the aggregation.
func (aggregator *healthAggregator) run(ctx context.Context) HealthStatus {
	aggregator.lock.RLock()
	checks := append([]boundCheck(nil), aggregator.checks...)
	aggregator.lock.RUnlock()

	results := make([]bool, len(checks))

	var group errgroup.Group
	for i, check := range checks {
		group.Go(func() error {
			passed, err := runCheck(ctx, check.fn)
			if err != nil {
				logCheckError(aggregator.log, check.name, err)
				return pkgerrors.Wrapf(err, "health check [%s]", check.name)
			}
			results[i] = passed
			return nil
		})
	}

	status := HealthPassed
	if err := group.Wait(); err != nil {
		status = HealthAborted
	} else {
		for i, passed := range results {
			if !passed {
				aggregator.log.Warnf("health check [%s] reported failure", checks[i].name)
				status = HealthFailed
			}
		}
	}

	aggregator.metrics.observeHealth(status)

	return status
}

func (aggregator *healthAggregator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch aggregator.run(r.Context()) {
	case HealthPassed:
		w.WriteHeader(http.StatusNoContent)
	case HealthFailed:
		WriteDetail(w, http.StatusInternalServerError, healthFailedDetail)
	default:
		WriteDetail(w, http.StatusInternalServerError, healthAbortedDetail)
	}
}

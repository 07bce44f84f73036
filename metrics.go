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
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one Layer in a registry of its own. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	health   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xlayer",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of module HTTP requests handled.",
			},
			[]string{"module", "method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "xlayer",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of module HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"module", "method", "path"},
		),
		health: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xlayer",
				Subsystem: "health",
				Name:      "aggregations_total",
				Help:      "Total number of health aggregations by outcome.",
			},
			[]string{"status"},
		),
	}

	metrics.Registry.MustRegister(
		metrics.requests,
		metrics.duration,
		metrics.health,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	return metrics
}

// Handler exposes the registry in the Prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}

func (metrics *Metrics) observeHealth(status HealthStatus) {
	if metrics == nil {
		return
	}
	metrics.health.WithLabelValues(status.String()).Inc()
}

// middleware records requests matched by a module router, labelled with the matched path template.
func (metrics *Metrics) middleware(module string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					path = template
				}
			}

			metrics.requests.WithLabelValues(module, r.Method, path, strconv.Itoa(recorder.status)).Inc()
			metrics.duration.WithLabelValues(module, r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (recorder *statusRecorder) WriteHeader(code int) {
	if !recorder.wroteHeader {
		recorder.status = code
		recorder.wroteHeader = true
	}
	recorder.ResponseWriter.WriteHeader(code)
}

func (recorder *statusRecorder) Write(b []byte) (int, error) {
	recorder.wroteHeader = true
	return recorder.ResponseWriter.Write(b)
}

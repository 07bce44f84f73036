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
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func Test_LayerAddModule(t *testing.T) {
	t.Run("module routes are reachable only under the prefix", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/echo", newGreeter(t, "hi", http.StatusConflict)))

		recorder := serve(layer, http.MethodGet, "/echo/hello")
		req.Equal(http.StatusOK, recorder.Code)
		req.JSONEq(`{"greeting": "hi"}`, recorder.Body.String())

		req.Equal(http.StatusNotFound, serve(layer, http.MethodGet, "/hello").Code)
		req.Equal(http.StatusNotFound, serve(layer, http.MethodGet, "/echo").Code)
		req.Equal(http.StatusNotFound, serve(layer, http.MethodGet, "/echo/").Code)
		req.Equal(http.StatusNotFound, serve(layer, http.MethodGet, "/echohello").Code)
	})

	t.Run("nested prefixes are supported", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/api/v1", newGreeter(t, "hi", http.StatusConflict)))

		recorder := serve(layer, http.MethodGet, "/api/v1/hello/there")
		req.Equal(http.StatusOK, recorder.Code)
		req.JSONEq(`{"greeting": "hi there"}`, recorder.Body.String())
	})

	t.Run("invalid prefixes are rejected", func(t *testing.T) {
		layer := NewLayer(LayerOptions{})

		for _, prefix := range []string{"", "echo", "/echo/", "/"} {
			require.ErrorIs(t, layer.AddModule(prefix, newGreeter(t, "hi", http.StatusConflict)), ErrInvalidPrefix, prefix)
		}
	})

	t.Run("a prefix can only be used once", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/echo", newGreeter(t, "hi", http.StatusConflict)))
		req.ErrorIs(layer.AddModule("/echo", newGreeter(t, "hey", http.StatusConflict)), ErrDuplicatePrefix)
	})

	t.Run("overlapping prefixes are rejected", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/api", newGreeter(t, "outer", http.StatusConflict, WithName("outer"))))
		req.ErrorIs(layer.AddModule("/api/v1", newGreeter(t, "inner", http.StatusConflict, WithName("inner"))), ErrDuplicatePrefix)
		req.NoError(layer.AddModule("/apiv1", newGreeter(t, "sibling", http.StatusConflict, WithName("sibling"))))

		req.Len(layer.Mounts(), 2)
		recorder := serve(layer, http.MethodGet, "/apiv1/hello")
		req.Equal(http.StatusOK, recorder.Code)
		req.JSONEq(`{"greeting": "sibling"}`, recorder.Body.String())

		nested := NewLayer(LayerOptions{})
		req.NoError(nested.AddModule("/api/v1", newGreeter(t, "inner", http.StatusConflict)))
		req.ErrorIs(nested.AddModule("/api", newGreeter(t, "outer", http.StatusConflict)), ErrDuplicatePrefix)
	})

	t.Run("misses under a prefix use the layer default handler chain", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/echo", newGreeter(t, "hi", http.StatusConflict)))

		recorder := serve(layer, http.MethodGet, "/echo/missing")
		req.Equal(http.StatusNotFound, recorder.Code)
		req.JSONEq(`{"detail": "Not Found"}`, recorder.Body.String())

		parent := &DefaultHttpHandlerProviderImpl{}
		parent.SetDefaultHttpHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		layer.SetParent(parent)
		req.Equal(http.StatusGone, serve(layer, http.MethodGet, "/echo/missing").Code)
		req.Equal(http.StatusOK, serve(layer, http.MethodGet, "/echo/hello").Code)
	})

	t.Run("a module can only be mounted once", func(t *testing.T) {
		req := require.New(t)

		module := newGreeter(t, "hi", http.StatusConflict)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/a", module))
		req.ErrorIs(layer.AddModule("/b", module), ErrAlreadyMounted)
		req.ErrorIs(NewLayer(LayerOptions{}).AddModule("/a", module), ErrAlreadyMounted)
	})

	t.Run("a nil module is rejected", func(t *testing.T) {
		var module *greeterModule
		require.ErrorIs(t, NewLayer(LayerOptions{}).AddModule("/a", module), ErrNilModule)
	})

	t.Run("the layer debug flag is propagated to modules", func(t *testing.T) {
		req := require.New(t)

		debugging := NewLayer(LayerOptions{Debug: true})
		req.NoError(debugging.AddModule("/echo", newGreeter(t, "hi", http.StatusConflict)))
		req.Equal(http.StatusOK, serve(debugging, http.MethodGet, "/echo/internals").Code)

		quiet := NewLayer(LayerOptions{})
		req.NoError(quiet.AddModule("/echo", newGreeter(t, "hi", http.StatusConflict, WithDebug(true))))
		req.Equal(http.StatusNotFound, serve(quiet, http.MethodGet, "/echo/internals").Code)
	})

	t.Run("mount middleware wraps the module, outermost first", func(t *testing.T) {
		req := require.New(t)

		var order []string
		tag := func(name string) mux.MiddlewareFunc {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/echo", newGreeter(t, "hi", http.StatusConflict),
			WithMountMiddleware(tag("outer"), tag("inner")),
			WithMountOption("owner", "tests"),
		))

		req.Equal(http.StatusOK, serve(layer, http.MethodGet, "/echo/hello").Code)
		req.Equal([]string{"outer", "inner"}, order)

		mounts := layer.Mounts()
		req.Len(mounts, 1)
		req.Equal("/echo", mounts[0].Prefix)
		req.Equal("tests", mounts[0].Options.Extra["owner"])
	})
}

func Test_LayerExceptionHandlers(t *testing.T) {
	t.Run("the last mounted module answers errors of a shared kind", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/alpha", newGreeter(t, "alpha", http.StatusConflict, WithName("alpha"))))
		req.NoError(layer.AddModule("/beta", newGreeter(t, "beta", http.StatusTeapot, WithName("beta"))))

		req.Equal(1, layer.ExceptionHandlers().Len())

		recorder := serve(layer, http.MethodGet, "/alpha/fail")
		req.Equal(http.StatusTeapot, recorder.Code)
		req.JSONEq(`{"detail": "alpha failed"}`, recorder.Body.String())

		req.Equal(http.StatusTeapot, serve(layer, http.MethodGet, "/beta/fail").Code)
	})

	t.Run("the mount order decides which module answers", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/beta", newGreeter(t, "beta", http.StatusTeapot, WithName("beta"))))
		req.NoError(layer.AddModule("/alpha", newGreeter(t, "alpha", http.StatusConflict, WithName("alpha"))))

		req.Equal(1, layer.ExceptionHandlers().Len())
		req.Equal(http.StatusConflict, serve(layer, http.MethodGet, "/alpha/fail").Code)
		req.Equal(http.StatusConflict, serve(layer, http.MethodGet, "/beta/fail").Code)
	})

	t.Run("direct routes resolve errors through the global table", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/alpha", newGreeter(t, "alpha", http.StatusConflict)))
		req.NoError(layer.AddRoute("/boom", func(*http.Request) (any, error) {
			return nil, &testError{msg: "direct"}
		}))

		recorder := serve(layer, http.MethodGet, "/boom")
		req.Equal(http.StatusConflict, recorder.Code)
		req.JSONEq(`{"detail": "direct"}`, recorder.Body.String())
	})
}

func Test_LayerHealth(t *testing.T) {
	t.Run("two healthy modules answer 204 with an empty body", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/a", newGreeter(t, "a", http.StatusConflict, WithName("a"))))
		req.NoError(layer.AddModule("/b", newGreeter(t, "b", http.StatusConflict, WithName("b"))))

		recorder := serve(layer, http.MethodGet, DefaultHealthPath)
		req.Equal(http.StatusNoContent, recorder.Code)
		req.Empty(recorder.Body.String())
	})

	t.Run("the endpoint answers 204 exactly when every check is true", func(t *testing.T) {
		for _, moduleHealthy := range []bool{true, false} {
			for _, rootHealthy := range []bool{true, false} {
				req := require.New(t)

				module := newGreeter(t, "a", http.StatusConflict)
				module.healthy = moduleHealthy

				layer := NewLayer(LayerOptions{})
				req.NoError(layer.AddModule("/a", module))
				layer.AddCheck(constantCheck(rootHealthy, nil))

				expected := http.StatusInternalServerError
				if moduleHealthy && rootHealthy {
					expected = http.StatusNoContent
				}
				req.Equal(expected, serve(layer, http.MethodGet, DefaultHealthPath).Code)
			}
		}
	})

	t.Run("an erroring module check only fails its module", func(t *testing.T) {
		req := require.New(t)

		module := newGreeter(t, "a", http.StatusConflict)
		module.checkErr = errors.New("secret internals")

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/a", module))
		layer.AddCheck(constantCheck(true, nil))

		req.Equal(HealthFailed, layer.CheckHealth(context.Background()))

		recorder := serve(layer, http.MethodGet, DefaultHealthPath)
		req.Equal(http.StatusInternalServerError, recorder.Code)
		req.NotContains(recorder.Body.String(), "secret")
	})

	t.Run("an erroring root check aborts the aggregation", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		layer.AddCheck(constantCheck(true, nil))
		layer.AddCheck(constantCheck(true, errors.New("secret internals")))

		req.Equal(HealthAborted, layer.CheckHealth(context.Background()))

		recorder := serve(layer, http.MethodGet, DefaultHealthPath)
		req.Equal(http.StatusInternalServerError, recorder.Code)
		req.JSONEq(`{"detail": "Healthcheck aggregation aborted."}`, recorder.Body.String())
	})

	t.Run("the endpoint can be moved or disabled", func(t *testing.T) {
		req := require.New(t)

		moved := NewLayer(LayerOptions{HealthPath: "/status/health"})
		req.Equal(http.StatusNoContent, serve(moved, http.MethodGet, "/status/health").Code)
		req.Equal(http.StatusNotFound, serve(moved, http.MethodGet, DefaultHealthPath).Code)

		disabled := NewLayer(LayerOptions{DisableHealth: true})
		req.Equal(http.StatusNotFound, serve(disabled, http.MethodGet, DefaultHealthPath).Code)
		req.Equal(HealthPassed, disabled.CheckHealth(context.Background()))
	})
}

func Test_LayerLifecycle(t *testing.T) {
	t.Run("a mounted module starts exactly once", func(t *testing.T) {
		req := require.New(t)

		module := newGreeter(t, "a", http.StatusConflict)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/a", module))
		req.EqualValues(0, module.startups.Load())

		req.NoError(layer.Startup(context.Background()))
		req.EqualValues(1, module.startups.Load())

		req.ErrorIs(layer.Startup(context.Background()), ErrLifecycleFired)
		req.EqualValues(1, module.startups.Load())
	})

	t.Run("modules cannot be mounted once the layer has started", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.Startup(context.Background()))

		module := newGreeter(t, "late", http.StatusConflict)
		req.ErrorIs(layer.AddModule("/late", module), ErrLayerStarted)
		req.EqualValues(0, module.startups.Load())
		req.Empty(layer.Mounts())
		req.Equal(http.StatusNotFound, serve(layer, http.MethodGet, "/late/hello").Code)
	})

	t.Run("layer hooks fire before module hooks", func(t *testing.T) {
		req := require.New(t)

		module := newGreeter(t, "a", http.StatusConflict)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddModule("/a", module))

		var seen []int32
		layer.OnStartup("root", func(context.Context) error {
			seen = append(seen, module.startups.Load())
			return nil
		})
		layer.OnShutdown("root", func(context.Context) error {
			seen = append(seen, module.shutdowns.Load())
			return nil
		})

		req.NoError(layer.Startup(context.Background()))
		req.NoError(layer.Shutdown(context.Background()))
		req.Equal([]int32{0, 0}, seen)
		req.EqualValues(1, module.shutdowns.Load())
	})
}

func Test_LayerDirectSurfaces(t *testing.T) {
	t.Run("direct routes answer GET by default", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddRoute("/", func(*http.Request) (any, error) {
			return map[string]string{"status": "ok"}, nil
		}))

		recorder := serve(layer, http.MethodGet, "/")
		req.Equal(http.StatusOK, recorder.Code)
		req.JSONEq(`{"status": "ok"}`, recorder.Body.String())

		req.Equal(http.StatusMethodNotAllowed, serve(layer, http.MethodPost, "/").Code)
	})

	t.Run("direct routes can answer other methods and be debug only", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddRoute("/submit", func(*http.Request) (any, error) { return nil, nil }, WithMethods(http.MethodPost)))
		req.NoError(layer.AddRoute("/debug", func(*http.Request) (any, error) { return "debug", nil }, WithDebugOnly()))

		req.Equal(http.StatusNoContent, serve(layer, http.MethodPost, "/submit").Code)
		req.Equal(http.StatusNotFound, serve(layer, http.MethodGet, "/debug").Code)
	})

	t.Run("invalid direct routes are rejected", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.ErrorIs(layer.AddRoute("relative", func(*http.Request) (any, error) { return nil, nil }), ErrInvalidDeclaration)
		req.ErrorIs(layer.AddRoute("/nil", nil), ErrInvalidDeclaration)
	})

	t.Run("redirects default to 307", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddRedirect("/docs", "https://example.com/docs", 0))
		req.NoError(layer.AddRedirect("/moved", "/docs", http.StatusMovedPermanently))

		recorder := serve(layer, http.MethodGet, "/docs")
		req.Equal(http.StatusTemporaryRedirect, recorder.Code)
		req.Equal("https://example.com/docs", recorder.Header().Get("Location"))

		req.Equal(http.StatusMovedPermanently, serve(layer, http.MethodGet, "/moved").Code)
	})

	t.Run("unmatched requests use the default handler chain", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		recorder := serve(layer, http.MethodGet, "/missing")
		req.Equal(http.StatusNotFound, recorder.Code)
		req.JSONEq(`{"detail": "Not Found"}`, recorder.Body.String())

		parent := &DefaultHttpHandlerProviderImpl{}
		parent.SetDefaultHttpHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		layer.SetParent(parent)
		req.Equal(http.StatusGone, serve(layer, http.MethodGet, "/missing").Code)
	})
}

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func Test_LayerAddStatic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"), "<h1>index</h1>")
	writeFile(t, filepath.Join(dir, "404.html"), "<h1>missing</h1>")
	writeFile(t, filepath.Join(dir, "file.txt"), "plain file")
	writeFile(t, filepath.Join(dir, "nested", "file.txt"), "nested file")

	t.Run("html mode serves index.html for directories and 404.html for misses", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddStatic("/site", dir, true))

		recorder := serve(layer, http.MethodGet, "/site/")
		req.Equal(http.StatusOK, recorder.Code)
		req.Equal("<h1>index</h1>", recorder.Body.String())

		recorder = serve(layer, http.MethodGet, "/site/file.txt")
		req.Equal(http.StatusOK, recorder.Code)
		req.Equal("plain file", recorder.Body.String())

		recorder = serve(layer, http.MethodGet, "/site/nope.txt")
		req.Equal(http.StatusNotFound, recorder.Code)
		req.Equal("<h1>missing</h1>", recorder.Body.String())

		recorder = serve(layer, http.MethodGet, "/site/nested/")
		req.Equal(http.StatusNotFound, recorder.Code)
	})

	t.Run("plain mode serves files only", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.NoError(layer.AddStatic("/files", dir, false))

		recorder := serve(layer, http.MethodGet, "/files/nested/file.txt")
		req.Equal(http.StatusOK, recorder.Code)
		req.Equal("nested file", recorder.Body.String())

		recorder = serve(layer, http.MethodGet, "/files/")
		req.Equal(http.StatusNotFound, recorder.Code)
		req.JSONEq(`{"detail": "Not Found"}`, recorder.Body.String())
	})

	t.Run("the target must be an existing directory", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{})
		req.Error(layer.AddStatic("/files", filepath.Join(dir, "absent"), false))
		req.Error(layer.AddStatic("/files", filepath.Join(dir, "file.txt"), false))
		req.ErrorIs(layer.AddStatic("files", dir, false), ErrInvalidPrefix)
	})
}

func Test_LayerMetrics(t *testing.T) {
	t.Run("module requests and health outcomes are exported", func(t *testing.T) {
		req := require.New(t)

		layer := NewLayer(LayerOptions{MetricsPath: "/_metrics"})
		req.NotNil(layer.Metrics())
		req.NoError(layer.AddModule("/a", newGreeter(t, "a", http.StatusConflict, WithName("alpha"))))

		req.Equal(http.StatusOK, serve(layer, http.MethodGet, "/a/hello/bob").Code)
		req.Equal(http.StatusNoContent, serve(layer, http.MethodGet, DefaultHealthPath).Code)

		recorder := serve(layer, http.MethodGet, "/_metrics")
		req.Equal(http.StatusOK, recorder.Code)

		exported := recorder.Body.String()
		req.Contains(exported, `xlayer_http_requests_total{method="GET",module="alpha",path="/hello/{name}",status="200"} 1`)
		req.Contains(exported, `xlayer_health_aggregations_total{status="passed"} 1`)
	})

	t.Run("metrics are off unless a path is set", func(t *testing.T) {
		layer := NewLayer(LayerOptions{})
		require.Nil(t, layer.Metrics())
		require.NoError(t, layer.AddModule("/a", newGreeter(t, "a", http.StatusConflict)))
		require.Equal(t, http.StatusOK, serve(layer, http.MethodGet, "/a/hello").Code)
	})
}

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
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type plainModule struct {
	label string
}

func (m *plainModule) Get(*http.Request) (any, error) {
	return m.label, nil
}

func (m *plainModule) Other(*http.Request) (any, error) {
	return "other", nil
}

func (m *plainModule) Check(context.Context) (bool, error) {
	return true, nil
}

func (m *plainModule) Hook(context.Context) error {
	return nil
}

func (m *plainModule) Handle(w http.ResponseWriter, _ *http.Request, err error) {
	WriteDetail(w, http.StatusTeapot, err.Error())
}

type derivedModule struct {
	*plainModule
	extra string
}

func (m *derivedModule) Extra(*http.Request) (any, error) {
	return m.extra, nil
}

var plainClass = MustDefine[*plainModule]("plain", func(b *Builder[*plainModule]) {
	b.Route(http.MethodGet, "/get", "route_get", (*plainModule).Get).
		Route("post", "/other", "route_other", (*plainModule).Other).
		HealthCheck("check", (*plainModule).Check).
		OnStartup("startup", (*plainModule).Hook).
		OnShutdown("shutdown", (*plainModule).Hook).
		ExceptionHandler("handle", KindOf[*testError](), (*plainModule).Handle)
})

func paths[M any](descriptors []*Descriptor[M]) []string {
	var result []string
	for _, d := range descriptors {
		result = append(result, d.Path())
	}
	return result
}

func Test_Define(t *testing.T) {
	t.Run("declarations are partitioned into buckets", func(t *testing.T) {
		req := require.New(t)

		req.Equal("plain", plainClass.Name())
		req.Len(plainClass.Routes(), 2)
		req.Len(plainClass.HealthChecks(), 1)
		req.Len(plainClass.StartupHooks(), 1)
		req.Len(plainClass.ShutdownHooks(), 1)
		req.Len(plainClass.ExceptionHandlers(), 1)
		req.Equal(KindOf[*testError](), plainClass.ExceptionHandlers()[0].ErrorKind())
	})

	t.Run("routes keep declaration order and upper case verbs", func(t *testing.T) {
		req := require.New(t)

		routes := plainClass.Routes()
		req.Equal([]string{"/get", "/other"}, paths(routes))
		req.Equal(http.MethodGet, routes[0].Verb())
		req.Equal(http.MethodPost, routes[1].Verb())
		req.Equal(KindRoute, routes[0].Kind())
		req.Equal("route_get", routes[0].Options().Name)
	})

	t.Run("a class with no declarations is empty but valid", func(t *testing.T) {
		req := require.New(t)

		class, err := Define[*plainModule]("empty")
		req.NoError(err)
		req.Empty(class.Routes())
		req.Empty(class.HealthChecks())
	})

	t.Run("redeclaring a name with the same kind overrides it in place", func(t *testing.T) {
		req := require.New(t)

		class, err := Define[*plainModule]("override", func(b *Builder[*plainModule]) {
			b.Route(http.MethodGet, "/one", "route_a", (*plainModule).Get).
				Route(http.MethodGet, "/two", "route_b", (*plainModule).Get).
				Route(http.MethodGet, "/three", "route_a", (*plainModule).Other)
		})
		req.NoError(err)
		req.Equal([]string{"/three", "/two"}, paths(class.Routes()))

		d, ok := class.Lookup("route_a")
		req.True(ok)
		req.Equal("/three", d.Path())
	})

	t.Run("two exception handlers for the same kind are rejected", func(t *testing.T) {
		req := require.New(t)

		_, err := Define[*plainModule]("duplicate", func(b *Builder[*plainModule]) {
			b.ExceptionHandler("handle_a", KindOf[*testError](), (*plainModule).Handle).
				ExceptionHandler("handle_b", KindOf[*testError](), (*plainModule).Handle)
		})
		req.ErrorIs(err, ErrDuplicateExceptionHandler)
	})

	t.Run("redeclaring an exception handler by name is an override, not a duplicate", func(t *testing.T) {
		req := require.New(t)

		class, err := Define[*plainModule]("redeclared", func(b *Builder[*plainModule]) {
			b.ExceptionHandler("handle", KindOf[*testError](), (*plainModule).Handle).
				ExceptionHandler("handle", KindOf[*testError](), (*plainModule).Handle)
		})
		req.NoError(err)
		req.Len(class.ExceptionHandlers(), 1)
	})

	t.Run("invalid declarations are rejected", func(t *testing.T) {
		cases := map[string]Describer[*plainModule]{
			"empty name": func(b *Builder[*plainModule]) {
				b.Route(http.MethodGet, "/get", "", (*plainModule).Get)
			},
			"nil target": func(b *Builder[*plainModule]) {
				b.HealthCheck("check", nil)
			},
			"missing verb": func(b *Builder[*plainModule]) {
				b.Route("", "/get", "route_get", (*plainModule).Get)
			},
			"relative path": func(b *Builder[*plainModule]) {
				b.Route(http.MethodGet, "get", "route_get", (*plainModule).Get)
			},
			"zero error kind": func(b *Builder[*plainModule]) {
				b.ExceptionHandler("handle", ErrorKind{}, (*plainModule).Handle)
			},
		}

		for name, describer := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := Define[*plainModule]("invalid", describer)
				require.ErrorIs(t, err, ErrInvalidDeclaration)
			})
		}
	})

	t.Run("an empty class name is rejected", func(t *testing.T) {
		_, err := Define[*plainModule](" ")
		require.ErrorIs(t, err, ErrInvalidDeclaration)
	})

	t.Run("MustDefine panics on a harvest error", func(t *testing.T) {
		require.Panics(t, func() {
			MustDefine[*plainModule]("panics", func(b *Builder[*plainModule]) {
				b.OnStartup("", (*plainModule).Hook)
			})
		})
	})
}

func Test_Inherit(t *testing.T) {
	upcast := func(d *derivedModule) *plainModule { return d.plainModule }

	derivedClass := MustDefine[*derivedModule]("derived",
		Inherit(plainClass, upcast),
		func(b *Builder[*derivedModule]) {
			b.Route(http.MethodGet, "/extra", "route_extra", (*derivedModule).Extra).
				Route(http.MethodGet, "/get-override", "route_get", (*derivedModule).Extra)
		},
	)

	t.Run("inherited declarations come first and count toward every bucket", func(t *testing.T) {
		req := require.New(t)

		req.Equal([]string{"/get-override", "/other", "/extra"}, paths(derivedClass.Routes()))
		req.Len(derivedClass.HealthChecks(), 1)
		req.Len(derivedClass.StartupHooks(), 1)
		req.Len(derivedClass.ShutdownHooks(), 1)
		req.Len(derivedClass.ExceptionHandlers(), 1)
	})

	t.Run("inherited routes run against the embedded base value", func(t *testing.T) {
		req := require.New(t)

		module := &derivedModule{plainModule: &plainModule{label: "base"}, extra: "derived"}
		instance, err := Bind(derivedClass, module)
		req.NoError(err)

		recorder := serve(instance, http.MethodPost, "/other")
		req.Equal(http.StatusOK, recorder.Code)
		req.JSONEq(`"other"`, recorder.Body.String())

		recorder = serve(instance, http.MethodGet, "/get-override")
		req.Equal(http.StatusOK, recorder.Code)
		req.JSONEq(`"derived"`, recorder.Body.String())

		recorder = serve(instance, http.MethodGet, "/get")
		req.Equal(http.StatusNotFound, recorder.Code)
	})

	t.Run("the base class is not modified", func(t *testing.T) {
		req := require.New(t)
		req.Equal([]string{"/get", "/other"}, paths(plainClass.Routes()))
	})
}

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
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	staticIndexFile    = "index.html"
	staticNotFoundFile = "404.html"
)

type staticFiles struct {
	root   string
	html   bool
	dir    http.Dir
	server http.Handler
}

func newStaticFiles(target string, html bool) (*staticFiles, error) {
	root, err := filepath.Abs(target)
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve static directory [%s]", target)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "could not use static directory [%s]", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("static target [%s] is not a directory", root)
	}

	dir := http.Dir(root)
	return &staticFiles{
		root:   root,
		html:   html,
		dir:    dir,
		server: http.FileServer(dir),
	}, nil
}

func (files *staticFiles) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)

	info, err := files.stat(name)
	if err != nil {
		files.notFound(w, r)
		return
	}

	if info.IsDir() {
		if !files.html {
			files.notFound(w, r)
			return
		}
		if _, err := files.stat(path.Join(name, staticIndexFile)); err != nil {
			files.notFound(w, r)
			return
		}
	}

	files.server.ServeHTTP(w, r)
}

func (files *staticFiles) stat(name string) (os.FileInfo, error) {
	f, err := files.dir.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return f.Stat()
}

func (files *staticFiles) notFound(w http.ResponseWriter, r *http.Request) {
	if files.html {
		if f, err := files.dir.Open("/" + staticNotFoundFile); err == nil {
			defer func() { _ = f.Close() }()
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.Copy(w, f)
			return
		}
	}
	handler404(w, r)
}

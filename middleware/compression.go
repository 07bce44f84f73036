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

package middleware

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// NewCompressionHandler compresses response bodies with brotli or gzip, whichever the client accepts first.
// Responses without a body, 204s, 304s and responses that already carry a Content-Encoding are left untouched.
func NewCompressionHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writer := &compressionWriter{ResponseWriter: w, request: r, status: http.StatusOK}
		defer writer.close()

		next.ServeHTTP(writer, r)
	})
}

type compressionWriter struct {
	http.ResponseWriter
	request *http.Request

	status      int
	wroteHeader bool
	sentHeader  bool
	body        io.WriteCloser
}

func (w *compressionWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true

	if !bodyAllowed(code) {
		w.sendHeader()
	}
}

func (w *compressionWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true

	if w.body == nil {
		if len(b) == 0 {
			return 0, nil
		}
		w.start(b)
	}

	return w.body.Write(b)
}

func (w *compressionWriter) start(first []byte) {
	header := w.Header()

	if w.sentHeader || !bodyAllowed(w.status) || header.Get("Content-Encoding") != "" {
		w.sendHeader()
		w.body = nopCloser{w.ResponseWriter}
		return
	}

	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", http.DetectContentType(first))
	}
	header.Del("Content-Length")

	// sets Content-Encoding and Vary when an encoding is negotiated
	w.body = brotli.HTTPCompressor(w.ResponseWriter, w.request)
	w.sendHeader()
}

func (w *compressionWriter) sendHeader() {
	if w.sentHeader {
		return
	}
	w.sentHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func (w *compressionWriter) Flush() {
	if w.body == nil {
		w.sendHeader()
	} else if flusher, ok := w.body.(interface{ Flush() error }); ok {
		_ = flusher.Flush()
	}

	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *compressionWriter) close() {
	if w.body != nil {
		_ = w.body.Close()
		return
	}

	if w.wroteHeader {
		w.sendHeader()
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"
)

// errorResponse is the body of JSON error responses.
type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// RespondJSON writes response to w as indented JSON. If response can't be
// marshalled, it writes a JSON error with status 500 instead.
func RespondJSON(w http.ResponseWriter, response any) { respondJSON(w, response, false) }

func respondJSON(w http.ResponseWriter, response any, wroteStatus bool) {
	w.Header().Set("Content-Type", "application/json")
	b, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		if !wroteStatus {
			w.WriteHeader(http.StatusInternalServerError)
		}
		// Marshalling two strings can't fail.
		b, _ = json.MarshalIndent(&errorResponse{
			Status: "error",
			Error:  "JSON marshal error: " + err.Error(),
		}, "", "  ")
	}
	w.Write(b)
	w.Write([]byte("\n"))
}

var (
	//go:embed templates/error.html
	errorTemplateStr string
	errorTemplate    = template.Must(template.New("error").Parse(errorTemplateStr))
)

// RespondError writes an HTML error page for err.
//
// The status code comes from the [StatusErr] that err wraps, or is 500 if it
// wraps none:
//
//	// Responds with 404 Not Found.
//	web.RespondError(w, r, fmt.Errorf("checkout session %w", web.ErrNotFound))
//
// Server errors (5xx) are logged to the logger of the request context, see
// [zerolog.Ctx]. Client errors are not logged.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(false, w, r, err)
}

// RespondJSONError is like [RespondError], but writes the error in JSON format.
func RespondJSONError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(true, w, r, err)
}

func respondError(json bool, w http.ResponseWriter, r *http.Request, err error) {
	var se StatusErr
	if !errors.As(err, &se) {
		se = ErrInternalServerError
	}
	if se >= ErrInternalServerError {
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Int("status", int(se)).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	if json {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(se))
		respondJSON(w, &errorResponse{Status: "error", Error: err.Error()}, true)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(int(se))
	data := struct {
		StatusCode int
		StatusText string
	}{
		StatusCode: int(se),
		StatusText: http.StatusText(int(se)),
	}
	var buf bytes.Buffer
	if err := errorTemplate.Execute(&buf, data); err != nil {
		fmt.Fprintf(w, "%d: %s", data.StatusCode, data.StatusText)
		return
	}
	buf.WriteTo(w)
}

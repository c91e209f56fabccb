package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
)

// Response knows how to write itself to http.ResponseWriter
type Response interface {
	Write(ctx context.Context, w http.ResponseWriter) error
}

// --- Request Helpers

func DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Response implementations ---

type JSONResponse struct {
	StatusCode int
	Data       any
}

func (r JSONResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.StatusCode)
	return json.NewEncoder(w).Encode(r.Data)
}

func (r JSONResponse) Status() int { return r.StatusCode }

func JSON(statusCode int, data any) Response {
	return JSONResponse{StatusCode: statusCode, Data: data}
}

func Error(data any) Response {
	return JSONResponse{StatusCode: http.StatusInternalServerError, Data: data}
}

// TextResponse writes a plain text body.
type TextResponse struct {
	StatusCode int
	Body       string
}

func (r TextResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(r.StatusCode)
	_, err := w.Write([]byte(r.Body))
	return err
}

func (r TextResponse) Status() int { return r.StatusCode }

func Text(statusCode int, body string) Response {
	return TextResponse{StatusCode: statusCode, Body: body}
}

// NoContent returns an empty response with the given status code.
func NoContent(statusCode int) Response {
	return noContentResponse(statusCode)
}

type noContentResponse int

func (r noContentResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	w.WriteHeader(int(r))
	return nil
}

func (r noContentResponse) Status() int { return int(r) }

// HeaderResponse decorates another Response with extra headers, which are
// set before the inner response writes.
type HeaderResponse struct {
	Response
	Header http.Header
}

func (r *HeaderResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	for key, values := range r.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	return r.Response.Write(ctx, w)
}

func (r *HeaderResponse) Status() int { return StatusOf(r.Response) }

// WithHeader returns resp with key set to value when it is written.
// Decorating a HeaderResponse returns a copy with the header added rather
// than nesting; resp itself is never modified.
//
// Example:
//
//	resp, err := next.Handle(ctx, r)
//	if err != nil {
//	    return nil, err
//	}
//	return pipeline.WithHeader(resp, "X-Served-By", "edge-1"), nil
func WithHeader(resp Response, key, value string) Response {
	if resp == nil {
		return nil
	}
	if hr, ok := resp.(*HeaderResponse); ok {
		h := hr.Header.Clone()
		if h == nil {
			h = make(http.Header)
		}
		h.Set(key, value)
		return &HeaderResponse{Response: hr.Response, Header: h}
	}
	h := make(http.Header)
	h.Set(key, value)
	return &HeaderResponse{Response: resp, Header: h}
}

// StatusOf reports the status code resp will write. Responses that do not
// expose one are assumed to be 200.
func StatusOf(resp Response) int {
	if s, ok := resp.(interface{ Status() int }); ok {
		return s.Status()
	}
	return http.StatusOK
}

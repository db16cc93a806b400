// Package worker contains the public contracts and domain models for the
// app-shell worker: requests, response snapshots, notification descriptors and
// the collaborators the worker core depends on.
package worker

import (
	"errors"
	"net/http"
	"net/url"
)

var (
	// ErrNetwork marks a failed network leg with no cached fallback.
	ErrNetwork = errors.New("network request failed")
	// ErrInstall marks an install step that could not populate the shell.
	ErrInstall = errors.New("install failed")
	// ErrNotActive is returned when an event needs an active worker and none is.
	ErrNotActive = errors.New("no active worker")
	// ErrBucketDeleted is returned by writes to a bucket removed from storage.
	ErrBucketDeleted = errors.New("cache bucket deleted")
)

// Request is an intercepted request. Body is only forwarded on pass-through;
// it is never part of the cache identity.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest builds a GET request for an absolute URL.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{Method: http.MethodGet, URL: u, Header: make(http.Header)}, nil
}

// Clone returns a copy that shares nothing with r.
func (r *Request) Clone() *Request {
	u := *r.URL
	c := &Request{Method: r.Method, URL: &u, Header: r.Header.Clone()}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Key is the cache identity of the request: method plus absolute URL,
// without fragment.
func (r *Request) Key() string {
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + u.String()
}

// Response is a fully buffered response snapshot.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Clone returns an independent copy. A response handed to a caller and also
// written to a bucket must be cloned first.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := &Response{Status: r.Status, Header: r.Header.Clone()}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// NotificationData is the click-routing payload carried by a notification.
type NotificationData struct {
	URL string `json:"url"`
}

// Descriptor is the normalized notification built from a push payload.
type Descriptor struct {
	ID    string           `json:"id,omitempty"`
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Tag   string           `json:"tag,omitempty"`
	Icon  string           `json:"icon,omitempty"`
	Badge string           `json:"badge,omitempty"`
	Data  NotificationData `json:"data"`
}

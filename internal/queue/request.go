package queue

import (
	"fmt"
	"net/url"

	"github.com/gripnet/grip/internal/errs"
)

// Method enumerates the request types a host may ask for
type Method int64

const (
	MethodGet Method = 0
)

// ParseMethod maps a host method code to a Method
func ParseMethod(code int64) (Method, error) {
	switch Method(code) {
	case MethodGet:
		return MethodGet, nil
	default:
		return 0, errs.InvalidInput("parse method", fmt.Sprintf("invalid request type %d", code))
	}
}

// String returns the HTTP verb for m
func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	default:
		return fmt.Sprintf("Method(%d)", int64(m))
	}
}

// Request is an immutable description of one network call.
// The zero value is not usable; build requests with NewRequest.
type Request struct {
	id     int64
	method Method
	uri    *url.URL
}

// NewRequest validates method and rawURI and returns a Request correlated by id.
// rawURI must be an absolute http or https URI with a host.
func NewRequest(id int64, method Method, rawURI string) (Request, error) {
	if _, err := ParseMethod(int64(method)); err != nil {
		return Request{}, err
	}

	u, err := url.Parse(rawURI)
	if err != nil {
		return Request{}, errs.InvalidInput("parse uri", fmt.Sprintf("URI parsing error: %s", rawURI))
	}
	if !u.IsAbs() || u.Host == "" {
		return Request{}, errs.InvalidInput("parse uri", fmt.Sprintf("URI is not absolute: %s", rawURI))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Request{}, errs.InvalidInput("parse uri", fmt.Sprintf("unsupported URI scheme %q", u.Scheme))
	}

	return Request{id: id, method: method, uri: u}, nil
}

// ID returns the caller-assigned correlation id
func (r Request) ID() int64 { return r.id }

// Method returns the request method
func (r Request) Method() Method { return r.method }

// URI returns a copy of the target URI
func (r Request) URI() *url.URL {
	if r.uri == nil {
		return nil
	}
	u := *r.uri
	return &u
}

func (r Request) String() string {
	return fmt.Sprintf("#%d %s %s", r.id, r.method, r.uri)
}

// Response is the outcome of a request that reached the remote end.
// Failed requests never produce a Response.
type Response struct {
	Request Request
	Status  int
	Body    []byte
}

// ID returns the correlation id of the originating request
func (r *Response) ID() int64 { return r.Request.ID() }

// Callback receives a completed response on the draining goroutine
type Callback func(*Response)

// Completion pairs a response with the callback captured at submission
type Completion struct {
	Response *Response
	Callback Callback
}

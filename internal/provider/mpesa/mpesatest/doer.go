// Package mpesatest provides a scripted HTTP doer for exercising the Daraja client.
package mpesatest

import (
	"io"
	"net/http"
	"strings"
	"sync"
)

const (
	TokenPath = "/oauth/v1/generate"
	STKPath   = "/mpesa/stkpush/v1/processrequest"
	B2CPath   = "/mpesa/b2c/v1/paymentrequest"
)

type Response struct {
	Status int
	Body   string
}

// Request is a recorded outbound call.
type Request struct {
	Method string
	Host   string
	Path   string
	Header http.Header
	Body   string
}

// Doer answers requests by URL path. Each path holds a queue of responses;
// the last one repeats once the queue drains.
type Doer struct {
	mu        sync.Mutex
	responses map[string][]Response
	after     map[string]func()
	requests  []Request
}

func NewDoer() *Doer {
	return &Doer{responses: make(map[string][]Response), after: make(map[string]func())}
}

// After runs fn once a request to path has been answered upstream and
// before the response reaches the caller.
func (d *Doer) After(path string, fn func()) *Doer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.after[path] = fn
	return d
}

// On queues responses for path.
func (d *Doer) On(path string, responses ...Response) *Doer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[path] = append(d.responses[path], responses...)
	return d
}

// WithToken scripts a successful OAuth exchange.
func (d *Doer) WithToken(token string) *Doer {
	return d.On(TokenPath, Response{Status: http.StatusOK, Body: `{"access_token":"` + token + `","expires_in":"3599"}`})
}

func (d *Doer) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}

	d.mu.Lock()
	d.requests = append(d.requests, Request{
		Method: req.Method,
		Host:   req.URL.Host,
		Path:   req.URL.Path,
		Header: req.Header.Clone(),
		Body:   body,
	})
	queue := d.responses[req.URL.Path]
	resp := Response{Status: http.StatusNotFound, Body: `{"errorMessage":"no scripted response"}`}
	if len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			d.responses[req.URL.Path] = queue[1:]
		}
	}
	hook := d.after[req.URL.Path]
	d.mu.Unlock()

	if hook != nil {
		hook()
	}

	return &http.Response{
		StatusCode: resp.Status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(resp.Body)),
		Request:    req,
	}, nil
}

func (d *Doer) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// Calls counts requests sent to path.
func (d *Doer) Calls(path string) int {
	n := 0
	for _, r := range d.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

package engine

import (
	"net/http"

	"github.com/tidwall/sjson"
)

// Plugins customize requests and error bodies per mock domain.
type Plugins interface {
	// ReloadRequest may rewrite an incoming request before a mock is looked up.
	ReloadRequest(domain string, req Request) Request
	// UpdateLiveRequest may rewrite the request sent to the live origin.
	UpdateLiveRequest(domain string, req *http.Request) error
	// MockError is the body of the 404 answered when no mock exists and the
	// live environment is off.
	MockError(domain string, req Request) []byte
}

// NopPlugins leaves requests untouched and answers a JSON error.
type NopPlugins struct{}

func (NopPlugins) ReloadRequest(_ string, req Request) Request { return req }

func (NopPlugins) UpdateLiveRequest(string, *http.Request) error { return nil }

func (NopPlugins) MockError(domain string, req Request) []byte {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "error", "mock not found")
	body, _ = sjson.SetBytes(body, "mockDomain", domain)
	body, _ = sjson.SetBytes(body, "method", req.Method)
	if req.URL != nil {
		body, _ = sjson.SetBytes(body, "url", req.URL.String())
	}
	return body
}

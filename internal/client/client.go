// Package client holds one typed client per upstream risk service. Each
// client is a stateless request/response mapping: it builds the URL from an
// injected base, issues the call with a bounded timeout, validates the
// response shape and normalizes it into internal/model types with safe
// defaults. No retries and no caching happen at this layer; both belong to
// the aggregator and the cache respectively.
package client

import (
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// DefaultTimeout bounds every upstream call so a hung backend cannot occupy
// an aggregation cycle indefinitely.
const DefaultTimeout = 15 * time.Second

// Config is the per-service connection configuration. Base URLs are injected
// rather than read from ambient globals so tests can point at fakes.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

func newHTTP(cfg Config) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// unwrapEnvelope validates the `{success, data}` envelope used by the
// screening and assessment services and returns the data node.
func unwrapEnvelope(body []byte, endpoint string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &MalformedResponseError{Endpoint: endpoint, Detail: "response body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.Get("success").Bool() {
		return gjson.Result{}, &MalformedResponseError{Endpoint: endpoint, Detail: "envelope success flag is false or missing"}
	}
	data := root.Get("data")
	if !data.Exists() {
		return gjson.Result{}, &MalformedResponseError{Endpoint: endpoint, Detail: "envelope has no data field"}
	}
	return data, nil
}

// contentID derives a stable identifier from record content, for upstreams
// that omit or regenerate ids between polls.
func contentID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(parts, "|"))).String()
}

// parseHealth reads the minimal `{status, last_updated}` health document
// every upstream exposes at its root.
func parseHealth(body []byte, endpoint string) (map[string]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: "health body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	out := map[string]string{
		"status":       root.Get("status").String(),
		"last_updated": root.Get("last_updated").String(),
	}
	if out["last_updated"] == "" {
		out["last_updated"] = root.Get("timestamp").String()
	}
	return out, nil
}

// Package mock holds the persisted request/response pair and its on-disk codec.
package mock

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one recorded request/response pair. ID never changes after creation.
type Record struct {
	ID             string
	URL            string
	Method         string
	AppendTime     time.Time
	UpdateTime     time.Time
	HTTPStatus     int
	ResponseTime   float64 // simulated latency in seconds
	Scenario       string
	RequestHeader  map[string]string
	ResponseHeader map[string]string
	RequestBody    Body
	ResponseBody   Body

	// FilePath is set once the record has been written or read from disk.
	FilePath string
}

// New creates a record with a fresh ID and both timestamps set to now.
func New(rawURL, method string) *Record {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Record{
		ID:             uuid.NewString(),
		URL:            rawURL,
		Method:         strings.ToUpper(method),
		AppendTime:     now,
		UpdateTime:     now,
		RequestHeader:  map[string]string{},
		ResponseHeader: map[string]string{},
		RequestBody:    NullBody(),
		ResponseBody:   NullBody(),
	}
}

// Clone returns an independent copy; editing the copy never affects the receiver.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.RequestHeader = cloneHeader(r.RequestHeader)
	c.ResponseHeader = cloneHeader(r.ResponseHeader)
	return &c
}

func cloneHeader(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Path returns the URL path of the record, "/" when the URL has none.
func (r *Record) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Query returns the raw query string of the record URL.
func (r *Record) Query() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.RawQuery
}

// QueryItems returns the query items of the record URL in their original order.
func (r *Record) QueryItems() []QueryItem {
	return ParseQueryItems(r.Query())
}

// ExpectedFileName is the file name the record must have on disk.
func (r *Record) ExpectedFileName() string {
	return FileName(r.Path(), r.Scenario, r.ID)
}

// IsFilePathViolated reports whether the stored file no longer matches the
// record's path, scenario or method. Records never written are not violated.
func (r *Record) IsFilePathViolated() bool {
	if r.FilePath == "" {
		return false
	}
	if filepath.Base(r.FilePath) != r.ExpectedFileName() {
		return true
	}
	return filepath.Base(filepath.Dir(r.FilePath)) != strings.ToUpper(r.Method)
}

// QueryItem is a single key=value pair from a query string.
type QueryItem struct {
	Key   string
	Value string
}

// ParseQueryItems splits a raw query keeping order and duplicates.
func ParseQueryItems(rawQuery string) []QueryItem {
	if rawQuery == "" {
		return nil
	}
	var items []QueryItem
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		items = append(items, QueryItem{Key: key, Value: value})
	}
	return items
}

package mock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

type fileMetaData struct {
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	AppendTime   time.Time `json:"appendTime"`
	UpdateTime   time.Time `json:"updateTime"`
	HTTPStatus   int       `json:"httpStatus"`
	ResponseTime float64   `json:"responseTime"`
	Scenario     string    `json:"scenario"`
	ID           string    `json:"id"`
}

type fileRecord struct {
	MetaData       fileMetaData      `json:"metaData"`
	RequestHeader  map[string]string `json:"requestHeader"`
	ResponseHeader map[string]string `json:"responseHeader"`
	RequestBody    Body              `json:"requestBody"`
	ResponseBody   Body              `json:"responseBody"`
}

// Encode serialises a record into the mock file format.
func Encode(r *Record) ([]byte, error) {
	fr := fileRecord{
		MetaData: fileMetaData{
			URL:          r.URL,
			Method:       r.Method,
			AppendTime:   r.AppendTime,
			UpdateTime:   r.UpdateTime,
			HTTPStatus:   r.HTTPStatus,
			ResponseTime: r.ResponseTime,
			Scenario:     r.Scenario,
			ID:           r.ID,
		},
		RequestHeader:  nonNilHeader(r.RequestHeader),
		ResponseHeader: nonNilHeader(r.ResponseHeader),
		RequestBody:    r.RequestBody,
		ResponseBody:   r.ResponseBody,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, r.ID, err)
	}
	return buf.Bytes(), nil
}

// Decode fully parses a mock file.
func Decode(data []byte) (*Record, error) {
	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	r := &Record{
		ID:             fr.MetaData.ID,
		URL:            fr.MetaData.URL,
		Method:         fr.MetaData.Method,
		AppendTime:     fr.MetaData.AppendTime,
		UpdateTime:     fr.MetaData.UpdateTime,
		HTTPStatus:     fr.MetaData.HTTPStatus,
		ResponseTime:   fr.MetaData.ResponseTime,
		Scenario:       fr.MetaData.Scenario,
		RequestHeader:  nonNilHeader(fr.RequestHeader),
		ResponseHeader: nonNilHeader(fr.ResponseHeader),
		RequestBody:    normalizeBody(fr.RequestBody),
		ResponseBody:   normalizeBody(fr.ResponseBody),
	}
	return r, nil
}

var errLazy = errors.New("lazy decode not applicable")

// DecodeLazy extracts the fields by scanning the document instead of
// unmarshalling it. Any shape it does not understand falls back to Decode,
// and both paths produce the same record.
func DecodeLazy(data []byte) (*Record, error) {
	r, err := decodeLazy(data)
	if err != nil {
		return Decode(data)
	}
	return r, nil
}

const (
	keyURL            = "metaData.url"
	keyMethod         = "metaData.method"
	keyAppendTime     = "metaData.appendTime"
	keyUpdateTime     = "metaData.updateTime"
	keyHTTPStatus     = "metaData.httpStatus"
	keyResponseTime   = "metaData.responseTime"
	keyScenario       = "metaData.scenario"
	keyID             = "metaData.id"
	keyRequestHeader  = "requestHeader"
	keyResponseHeader = "responseHeader"
	keyRequestBody    = "requestBody"
	keyResponseBody   = "responseBody"
)

func decodeLazy(data []byte) (*Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, errLazy
	}
	if meta := gjson.GetBytes(data, "metaData"); meta.Exists() && !meta.IsObject() && meta.Type != gjson.Null {
		return nil, errLazy
	}

	res := gjson.GetManyBytes(data,
		keyURL, keyMethod, keyAppendTime, keyUpdateTime, keyHTTPStatus, keyResponseTime,
		keyScenario, keyID, keyRequestHeader, keyResponseHeader, keyRequestBody, keyResponseBody,
	)

	r := &Record{}
	var err error
	strs := []*string{&r.URL, &r.Method}
	for i, dst := range strs {
		if *dst, err = lazyString(res[i]); err != nil {
			return nil, err
		}
	}
	if r.AppendTime, err = lazyTime(res[2]); err != nil {
		return nil, err
	}
	if r.UpdateTime, err = lazyTime(res[3]); err != nil {
		return nil, err
	}
	if r.HTTPStatus, err = lazyInt(res[4]); err != nil {
		return nil, err
	}
	if r.ResponseTime, err = lazyFloat(res[5]); err != nil {
		return nil, err
	}
	if r.Scenario, err = lazyString(res[6]); err != nil {
		return nil, err
	}
	if r.ID, err = lazyString(res[7]); err != nil {
		return nil, err
	}
	if r.RequestHeader, err = lazyHeader(res[8]); err != nil {
		return nil, err
	}
	if r.ResponseHeader, err = lazyHeader(res[9]); err != nil {
		return nil, err
	}
	r.RequestBody = lazyBody(res[10])
	r.ResponseBody = lazyBody(res[11])
	return r, nil
}

func lazyString(res gjson.Result) (string, error) {
	switch {
	case !res.Exists(), res.Type == gjson.Null:
		return "", nil
	case res.Type == gjson.String:
		return res.Str, nil
	default:
		return "", errLazy
	}
}

func lazyTime(res gjson.Result) (time.Time, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return time.Time{}, nil
	}
	if res.Type != gjson.String {
		return time.Time{}, errLazy
	}
	t, err := time.Parse(time.RFC3339, res.Str)
	if err != nil {
		return time.Time{}, errLazy
	}
	return t, nil
}

func lazyInt(res gjson.Result) (int, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return 0, nil
	}
	if res.Type != gjson.Number {
		return 0, errLazy
	}
	n, err := strconv.Atoi(res.Raw)
	if err != nil {
		return 0, errLazy
	}
	return n, nil
}

func lazyFloat(res gjson.Result) (float64, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return 0, nil
	}
	if res.Type != gjson.Number {
		return 0, errLazy
	}
	f, err := strconv.ParseFloat(res.Raw, 64)
	if err != nil {
		return 0, errLazy
	}
	return f, nil
}

func lazyHeader(res gjson.Result) (map[string]string, error) {
	out := map[string]string{}
	if !res.Exists() || res.Type == gjson.Null {
		return out, nil
	}
	if !res.IsObject() {
		return nil, errLazy
	}
	var err error
	res.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String {
			err = errLazy
			return false
		}
		out[key.Str] = value.Str
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lazyBody(res gjson.Result) Body {
	if !res.Exists() {
		return NullBody()
	}
	return bodyFromRaw([]byte(res.Raw))
}

// ResponseBodyOf returns only the response body of an encoded mock.
func ResponseBodyOf(data []byte) (Body, error) {
	if gjson.ValidBytes(data) {
		return lazyBody(gjson.GetBytes(data, keyResponseBody)), nil
	}
	r, err := Decode(data)
	if err != nil {
		return Body{}, err
	}
	return r.ResponseBody, nil
}

// ReadFile loads the mock stored at path. lazy selects DecodeLazy.
func ReadFile(path string, lazy bool) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}

	decode := Decode
	if lazy {
		decode = DecodeLazy
	}
	r, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.FilePath = path
	return r, nil
}

func nonNilHeader(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

func normalizeBody(b Body) Body {
	if b.kind == "" {
		return NullBody()
	}
	return b
}

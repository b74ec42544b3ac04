package schemas

import (
	"strconv"
	"strings"
)

// StatusOK is the value of the vendor "status" field on success. The vendor
// reports it as a string, independent of the HTTP status code.
const StatusOK = "200"

// VendorResponse is a decoded vendor JSON object.
type VendorResponse map[string]interface{}

// fieldExtractor looks up a named field at one particular nesting level.
type fieldExtractor func(resp VendorResponse, field string) string

// extractionOrder is the ordered list of places the vendor has been seen to put
// task fields. The first non-empty match wins. The API is unversioned, so a new
// nesting shape would silently miss here and surface as a missing token or url.
var extractionOrder = []fieldExtractor{
	topLevel,
	nestedUnder("data"),
	nestedUnder("result"),
}

func topLevel(resp VendorResponse, field string) string {
	return stringify(resp[field])
}

func nestedUnder(key string) fieldExtractor {
	return func(resp VendorResponse, field string) string {
		inner, ok := resp[key].(map[string]interface{})
		if !ok {
			return ""
		}
		return stringify(inner[field])
	}
}

// Lookup returns the first non-empty value of field across the known nesting shapes.
func (r VendorResponse) Lookup(field string) string {
	for _, extract := range extractionOrder {
		if v := extract(r, field); v != "" {
			return v
		}
	}
	return ""
}

// Status returns the vendor status field as a string.
func (r VendorResponse) Status() string {
	return stringify(r["status"])
}

// Message returns the vendor's human-readable message, if any.
func (r VendorResponse) Message() string {
	return stringify(r["message"])
}

// OK reports whether the vendor signalled success.
func (r VendorResponse) OK() bool {
	return r.Status() == StatusOK
}

// Token returns the task token wherever the vendor placed it.
func (r VendorResponse) Token() string {
	return r.Lookup("token")
}

// URL returns the result url wherever the vendor placed it.
func (r VendorResponse) URL() string {
	return r.Lookup("url")
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return ""
	default:
		return ""
	}
}

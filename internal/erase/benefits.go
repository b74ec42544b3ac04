package erase

import (
	"math"
	"strconv"
	"strings"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

const (
	benefitInSize = "in_size"
	benefitInEdge = "in_edge"
)

// benefits indexes subscriptions[0].benefits by their "key".
func benefits(resp schemas.VendorResponse) map[string]map[string]interface{} {
	out := map[string]map[string]interface{}{}
	subs, ok := resp["subscriptions"].([]interface{})
	if !ok || len(subs) == 0 {
		return out
	}
	first, ok := subs[0].(map[string]interface{})
	if !ok {
		return out
	}
	items, _ := first["benefits"].([]interface{})
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if key, ok := item["key"].(string); ok && key != "" {
			out[key] = item
		}
	}
	return out
}

// parseInt accepts JSON numbers and numeric strings. Anything else is absent.
func parseInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// checkBenefits enforces the vendor's upload size and max edge limits. A
// limit that is missing, unparsable or non-positive is not enforced, and edge
// limits need both dimensions.
func checkBenefits(resp schemas.VendorResponse, size int64, width, height *int) *Error {
	b := benefits(resp)

	if limit, ok := parseInt(b[benefitInSize]["limit"]); ok && limit > 0 && size > limit {
		return newError(KindQuota, nil,
			"image size %.2fMB exceeds the %.2fMB limit",
			float64(size)/1024/1024, float64(limit)/1024/1024)
	}

	if width == nil || height == nil || *width <= 0 || *height <= 0 {
		return nil
	}
	edge := *width
	if *height > edge {
		edge = *height
	}
	if threshold, ok := parseInt(b[benefitInEdge]["threshold"]); ok && threshold > 0 && int64(edge) > threshold {
		return newError(KindQuota, nil, "image edge %dpx exceeds the %dpx limit", edge, threshold)
	}
	return nil
}

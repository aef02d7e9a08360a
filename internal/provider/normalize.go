package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// statusCategoryTable maps explicit HTTP-like status codes to categories.
// A status hit always wins over message pattern matching.
var statusCategoryTable = map[int]ErrorCategory{
	400: CategoryInvalidInput,
	401: CategoryProviderError,
	403: CategoryContentFiltered,
	404: CategoryInvalidInput,
	408: CategoryTimeout,
	429: CategoryRateLimited,
	500: CategoryProviderError,
	502: CategoryNetworkError,
	503: CategoryProviderError,
	504: CategoryTimeout,
}

// messagePatterns are checked in order against the extracted message text;
// the first match decides the category.
var messagePatterns = []struct {
	re       *regexp.Regexp
	category ErrorCategory
}{
	{regexp.MustCompile(`(?i)rate.?limit|too many requests|quota|throttl`), CategoryRateLimited},
	{regexp.MustCompile(`(?i)safety|content.?(policy|filter)|blocked|moderation|nsfw|prohibited`), CategoryContentFiltered},
	{regexp.MustCompile(`(?i)invalid|malformed|validation|bad request|unsupported|missing required`), CategoryInvalidInput},
	{regexp.MustCompile(`(?i)network|connection|dns|unreachable|socket|broken pipe|reset by peer`), CategoryNetworkError},
	{regexp.MustCompile(`(?i)timeout|timed out|deadline`), CategoryTimeout},
}

// HTTPStatusCarrier is implemented by provider error types that know the
// HTTP status of the failed call.
type HTTPStatusCarrier interface {
	HTTPStatus() int
}

// ProviderCodeCarrier is implemented by provider error types that carry a
// provider-assigned error code string.
type ProviderCodeCarrier interface {
	ProviderCode() string
}

// Nested map shapes deeper than this are not probed further; extraction
// degrades to whatever has been found so far.
const maxExtractDepth = 4

// extraction is the intermediate result the typed extractors fill in.
type extraction struct {
	status    int
	statusOK  bool
	message   string
	messageOK bool
	code      string
	codeOK    bool
}

// An extractor inspects the raw value for one facet and reports whether it
// found it. Extractors run in order with first-match-wins per facet.
type extractor func(value any, ex *extraction, seen map[uintptr]bool, depth int)

var extractors = []extractor{
	extractFromError,
	extractFromString,
	extractFromBytes,
	extractFromMap,
}

// Normalize maps an arbitrary provider error value to the canonical taxonomy.
// Classification order: explicit status code via the fixed table, then ordered
// message pattern matching, then Unknown. Retryability is derived from the
// category alone. The walker tolerates strings, error values, nested
// {error:{message,code}} maps and cyclic shapes; cycles terminate via a
// visited set and classification degrades to best effort.
func Normalize(raw any) *NormalizedError {
	ex := extraction{}
	seen := make(map[uintptr]bool)
	for _, fn := range extractors {
		fn(raw, &ex, seen, 0)
	}

	message := ex.message
	if !ex.messageOK {
		if raw == nil {
			message = "unknown provider error"
		} else {
			// Maps are walked above, so a plain %v here cannot recurse
			// into a cycle.
			if reflect.ValueOf(raw).Kind() == reflect.Map {
				message = fmt.Sprintf("unclassifiable provider error (%T)", raw)
			} else {
				message = fmt.Sprintf("%v", raw)
			}
		}
	}

	category := CategoryUnknown
	switch {
	case ex.statusOK:
		if mapped, ok := statusCategoryTable[ex.status]; ok {
			category = mapped
			break
		}
		fallthrough
	default:
		if matched, ok := matchMessage(message); ok {
			category = matched
		}
	}

	ne := &NormalizedError{
		Category:     category,
		Message:      message,
		Retryable:    Retryable(category),
		ProviderCode: ex.code,
	}
	if err, ok := raw.(error); ok {
		ne.Err = err
	}
	return ne
}

func matchMessage(message string) (ErrorCategory, bool) {
	for _, p := range messagePatterns {
		if p.re.MatchString(message) {
			return p.category, true
		}
	}
	return CategoryUnknown, false
}

func extractFromError(value any, ex *extraction, seen map[uintptr]bool, depth int) {
	err, ok := value.(error)
	if !ok {
		return
	}

	if !ex.messageOK {
		ex.message = err.Error()
		ex.messageOK = true
	}

	var sc HTTPStatusCarrier
	if !ex.statusOK && errors.As(err, &sc) {
		if s := sc.HTTPStatus(); s >= 100 && s <= 599 {
			ex.status = s
			ex.statusOK = true
		}
	}

	var pc ProviderCodeCarrier
	if !ex.codeOK && errors.As(err, &pc) {
		if c := pc.ProviderCode(); c != "" {
			ex.code = c
			ex.codeOK = true
		}
	}
}

func extractFromString(value any, ex *extraction, seen map[uintptr]bool, depth int) {
	s, ok := value.(string)
	if !ok || ex.messageOK {
		return
	}
	if s != "" {
		ex.message = s
		ex.messageOK = true
	}
}

// extractFromBytes treats raw bytes as a JSON error body, the shape providers
// hand back on non-2xx responses.
func extractFromBytes(value any, ex *extraction, seen map[uintptr]bool, depth int) {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		return
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return
	}
	extractFromMap(decoded, ex, seen, depth)
}

func extractFromMap(value any, ex *extraction, seen map[uintptr]bool, depth int) {
	m, ok := value.(map[string]any)
	if !ok || depth > maxExtractDepth {
		return
	}

	// Cyclic shapes must not loop the walker.
	ptr := reflect.ValueOf(m).Pointer()
	if seen[ptr] {
		return
	}
	seen[ptr] = true

	if !ex.statusOK {
		for _, key := range []string{"status", "statusCode", "status_code"} {
			if s, ok := intValue(m[key]); ok && s >= 100 && s <= 599 {
				ex.status = s
				ex.statusOK = true
				break
			}
		}
	}

	if !ex.messageOK {
		for _, key := range []string{"message", "detail", "msg"} {
			if s, ok := m[key].(string); ok && s != "" {
				ex.message = s
				ex.messageOK = true
				break
			}
		}
	}

	if !ex.codeOK {
		switch c := m["code"].(type) {
		case string:
			if c != "" {
				ex.code = c
				ex.codeOK = true
			}
		case int, int32, int64, float64:
			// Numeric codes in the HTTP range double as a status when none
			// was found through an explicit status key.
			if s, ok := intValue(c); ok {
				ex.code = strconv.Itoa(s)
				ex.codeOK = true
				if !ex.statusOK && s >= 100 && s <= 599 {
					ex.status = s
					ex.statusOK = true
				}
			}
		}
	}

	// "error" may be a plain message or a nested {error:{message,code}} shape.
	switch nested := m["error"].(type) {
	case string:
		if !ex.messageOK && nested != "" {
			ex.message = nested
			ex.messageOK = true
		}
	case map[string]any:
		extractFromMap(nested, ex, seen, depth+1)
	}
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		s, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return s, true
	default:
		return 0, false
	}
}

package httpscenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	vhttp "github.com/wesleyorama2/vuramp/internal/http"
)

// extractor pulls one named value out of a response.
type extractor struct {
	name   string
	source string
	path   string
}

// apply returns the extracted value. A missing header or JSON path is an
// error.
func (x extractor) apply(resp *vhttp.Response) (string, error) {
	switch x.source {
	case "status":
		return strconv.Itoa(resp.StatusCode), nil
	case "header":
		value := resp.GetHeader(x.path)
		if value == "" {
			return "", fmt.Errorf("header %q not present", x.path)
		}
		return value, nil
	case "body":
		if x.path == "" {
			return resp.BodyString(), nil
		}
		return extractJSON(resp.Body, x.path)
	default:
		return "", fmt.Errorf("unknown extraction source %q", x.source)
	}
}

// extractJSON resolves a JSONPath expression ($.users[0].name) or a native
// gjson path (users.0.name) against a JSON document.
func extractJSON(body []byte, path string) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON body")
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("response body is not valid JSON")
	}

	result := gjson.GetBytes(body, toGjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// toGjsonPath converts a JSONPath expression to gjson syntax.
func toGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// Bracketed keys: ['name'] and ["name"]
	for _, q := range []string{"'", "\""} {
		path = strings.ReplaceAll(path, "["+q, ".")
		path = strings.ReplaceAll(path, q+"]", "")
	}

	// Index access: [0] -> .0
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	return strings.TrimPrefix(path, ".")
}

package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract reads one value per rule from a JSON body. Rules map a variable
// name to a JSONPath such as $.order.id. Every missing path is reported.
func Extract(body []byte, rules map[string]string) (map[string]any, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, errInvalidJSON
	}

	out := make(map[string]any, len(rules))
	var errs []error
	for name, path := range rules {
		v := gjson.GetBytes(body, convertJSONPath(path))
		if !v.Exists() {
			errs = append(errs, fmt.Errorf("%s: path %q not found", name, path))
			continue
		}
		out[name] = v.Value()
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

var errInvalidJSON = errors.New("invalid JSON in response body")

// Item is one object pulled out of a JSON array.
type Item struct {
	ID    string
	Name  string
	Price float64
}

// ExtractItems reads the objects at arrayPath (e.g. $.products) and returns
// their id, name and price fields. Objects without an id are skipped.
// Non-numeric prices read as 0 so corrupted records never fail a journey.
func ExtractItems(body []byte, arrayPath string) ([]Item, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidJSON
	}
	arr := gjson.GetBytes(body, convertJSONPath(arrayPath))
	if !arr.IsArray() {
		return nil, fmt.Errorf("path %q is not an array", arrayPath)
	}

	var items []Item
	arr.ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id")
		if !id.Exists() || id.String() == "" {
			return true
		}
		item := Item{ID: id.String(), Name: v.Get("name").String()}
		if p := v.Get("price"); p.Type == gjson.Number {
			item.Price = p.Float()
		}
		items = append(items, item)
		return true
	})
	return items, nil
}

var bracket = regexp.MustCompile(`\[([^\]]*)\]`)

// convertJSONPath turns a JSONPath into a gjson path:
// $.items[0].id becomes items.0.id and $.data[*].name becomes data.#.name.
func convertJSONPath(path string) string {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
	return bracket.ReplaceAllStringFunc(path, func(m string) string {
		if inner := m[1 : len(m)-1]; inner != "*" {
			return "." + inner
		}
		return ".#"
	})
}

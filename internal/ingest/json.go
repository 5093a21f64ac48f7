package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"guardianpath/internal/normalize"
)

var ErrEmptyPayload = errors.New("empty payload")

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONEvents accepts a single object or an array of objects.
func ParseJSONEvents(data []byte) ([]*normalize.EventFields, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, ErrEmptyPayload
	}
	if trim[0] != '[' {
		fields, err := ParseJSONBytes(trim)
		if err != nil {
			return nil, err
		}
		return []*normalize.EventFields{fields}, nil
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(trim, &list); err != nil {
		return nil, err
	}
	out := make([]*normalize.EventFields, 0, len(list))
	for _, obj := range list {
		out = append(out, ParseJSONMap(obj))
	}
	return out, nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		fields.Extras[strings.ToLower(key)] = jsonString(val)
	}
	assignKnown(fields, fields.Extras)
	return fields
}

// jsonString renders a decoded JSON scalar; large integral numbers such as
// unix milliseconds keep their digits.
func jsonString(v interface{}) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}

package httpclient

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// encodeQuery flattens a payload into query parameters. Maps and structs
// (json tags) are accepted; slices become repeated keys; nil values are
// skipped.
func encodeQuery(payload any) (url.Values, error) {
	values := url.Values{}
	if payload == nil {
		return values, nil
	}
	if v, ok := payload.(url.Values); ok {
		for k, vs := range v {
			values[k] = append([]string(nil), vs...)
		}
		return values, nil
	}

	fields := map[string]any{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &fields,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("query payload must be a map or struct: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addQueryValue(values, k, fields[k])
	}
	return values, nil
}

func addQueryValue(values url.Values, key string, v any) {
	if v == nil {
		return
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		for i := 0; i < rv.Len(); i++ {
			addQueryValue(values, key, rv.Index(i).Interface())
		}
		return
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return
		}
		addQueryValue(values, key, rv.Elem().Interface())
		return
	}
	values.Add(key, fmt.Sprint(v))
}

// Bind decodes a generic response body (as returned by Do) into dst, a
// pointer to a struct or map. Field names follow json tags.
func Bind(data any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

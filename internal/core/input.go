package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Validator is implemented by payload structs with extra rules
type Validator interface {
	Validate() error
}

type payloadField struct {
	name     string
	optional bool
	rest     bool
}

// payloadFields lists the exported fields of a payload struct in order.
// The argument name comes from the mapstructure tag, falling back to the
// lower-cased field name. `arg:"optional"` marks a field that may be
// omitted. A trailing slice field collects the remaining arguments.
func payloadFields(t reflect.Type) []payloadField {
	var fields []payloadField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		fields = append(fields, payloadField{
			name:     name,
			optional: f.Tag.Get("arg") == "optional" || f.Type.Kind() == reflect.Pointer,
		})
	}
	if n := len(fields); n > 0 {
		last := t.Field(lastExported(t))
		if last.Type.Kind() == reflect.Slice && last.Type.Elem().Kind() != reflect.Uint8 {
			fields[n-1].rest = true
		}
	}
	return fields
}

func lastExported(t reflect.Type) int {
	for i := t.NumField() - 1; i >= 0; i-- {
		if t.Field(i).IsExported() && t.Field(i).Tag.Get("mapstructure") != "-" {
			return i
		}
	}
	return -1
}

// payloadUsage renders "<a> <b> [c]" for help and diagnostics
func payloadUsage(factory func() any) string {
	t := reflect.TypeOf(factory())
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return ""
	}
	var parts []string
	for _, f := range payloadFields(t) {
		name := f.name
		if f.rest {
			name += "..."
		}
		if f.optional || f.rest {
			parts = append(parts, "["+name+"]")
		} else {
			parts = append(parts, "<"+name+">")
		}
	}
	return strings.Join(parts, " ")
}

// decodePayload maps args positionally onto the struct returned by
// factory. Surplus arguments are ignored. Errors are user facing.
func decodePayload(factory func() any, args []string) (any, error) {
	target := factory()
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("payload factory must return a pointer to a struct, got %T", target)
	}

	fields := payloadFields(rv.Elem().Type())
	input := make(map[string]any, len(fields))
	for i, f := range fields {
		switch {
		case f.rest:
			if i < len(args) {
				input[f.name] = args[i:]
			}
		case i < len(args):
			input[f.name] = args[i]
		case !f.optional:
			return nil, fmt.Errorf("missing argument <%s>", f.name)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		var merr *mapstructure.Error
		if errors.As(err, &merr) && len(merr.Errors) > 0 {
			return nil, errors.New(strings.Join(merr.Errors, "; "))
		}
		return nil, err
	}

	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return target, nil
}

package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/veltworks/velt/internal/errors"
)

// ParamKind is the closed enumeration of parameter shapes the executor
// accepts. Every parameter is classified exactly once and serialized at a
// single boundary; there is no ad hoc type sniffing downstream.
type ParamKind int

const (
	// KindScalar binds directly: numbers, booleans, plain strings, blobs,
	// timestamps, nil.
	KindScalar ParamKind = iota
	// KindSequence is a slice or array; the engine has no native array
	// type, so it is serialized to JSON text before binding.
	KindSequence
	// KindMapping is a map or already-materialized row; serialized to a
	// JSON object before binding.
	KindMapping
	// KindJSONText is a string that looks like structured text; it is
	// parsed to confirm well-formedness and rejected if it does not parse.
	KindJSONText
)

// String returns the kind name.
func (k ParamKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindJSONText:
		return "json_text"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// classify determines the ParamKind for a value.
func classify(v any) ParamKind {
	switch v.(type) {
	case nil:
		return KindScalar
	case []byte:
		// Byte slices are blobs, not sequences.
		return KindScalar
	case time.Time:
		return KindScalar
	case string:
		if looksStructured(v.(string)) {
			return KindJSONText
		}
		return KindScalar
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return KindSequence
	case reflect.Map:
		return KindMapping
	default:
		return KindScalar
	}
}

// looksStructured reports whether a string appears to be JSON text.
func looksStructured(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// bindValue serializes one parameter for binding. This is the single
// serialization boundary for all parameter kinds.
func bindValue(position int, v any) (any, error) {
	switch classify(v) {
	case KindSequence, KindMapping:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeMalformedParam,
				fmt.Sprintf("parameter %d (%s) could not be serialized: %v", position, classify(v), err))
		}
		return string(data), nil

	case KindJSONText:
		s := v.(string)
		if !json.Valid([]byte(s)) {
			return nil, errors.NewValidationError(errors.CodeMalformedParam,
				fmt.Sprintf("parameter %d looks like structured text but is not well-formed", position))
		}
		return s, nil

	default:
		return v, nil
	}
}

// bindParams serializes all parameters, failing fast before any statement
// execution when one is malformed.
func bindParams(params []any) ([]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	bound := make([]any, len(params))
	for i, p := range params {
		v, err := bindValue(i, p)
		if err != nil {
			return nil, err
		}
		bound[i] = v
	}
	return bound, nil
}

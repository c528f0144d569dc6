package param

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Schema type names understood by Coerce.
const (
	TypeAny     = "any"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// MismatchError reports a value that cannot be converted to the declared type.
type MismatchError struct {
	Want string
	Got  Kind
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("cannot use %s value as %s", e.Got, e.Want)
}

// Coerce converts v to the schema type typ. An empty or unknown type leaves v unchanged.
func Coerce(v Value, typ string) (Value, error) {
	typ = normalizeType(typ)
	switch typ {
	case "", TypeAny:
		return v, nil
	case TypeString:
		switch v.kind {
		case KindString:
			return v, nil
		case KindNumber, KindBool:
			return String(v.String()), nil
		}
	case TypeNumber:
		switch v.kind {
		case KindNumber:
			return v, nil
		case KindString:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64); err == nil {
				return Number(f), nil
			}
		}
	case TypeInteger:
		switch v.kind {
		case KindNumber:
			if v.num == math.Trunc(v.num) {
				return v, nil
			}
		case KindString:
			if i, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64); err == nil {
				return Number(float64(i)), nil
			}
		}
	case TypeBoolean:
		switch v.kind {
		case KindBool:
			return v, nil
		case KindString:
			switch strings.ToLower(strings.TrimSpace(v.str)) {
			case "true", "yes", "1":
				return Bool(true), nil
			case "false", "no", "0":
				return Bool(false), nil
			}
		}
	case TypeArray:
		switch v.kind {
		case KindList:
			return v, nil
		case KindString:
			if parsed, ok := parseJSONText(v.str, '['); ok {
				return parsed, nil
			}
		}
	case TypeObject:
		switch v.kind {
		case KindMap:
			return v, nil
		case KindString:
			if parsed, ok := parseJSONText(v.str, '{'); ok {
				return parsed, nil
			}
		}
	default:
		return v, nil
	}
	return v, &MismatchError{Want: typ, Got: v.kind}
}

func normalizeType(typ string) string {
	switch t := strings.ToLower(strings.TrimSpace(typ)); t {
	case "str", "text", "url":
		return TypeString
	case "int":
		return TypeInteger
	case "float", "double":
		return TypeNumber
	case "bool":
		return TypeBoolean
	case "list":
		return TypeArray
	case "map", "dict":
		return TypeObject
	default:
		return t
	}
}

func parseJSONText(s string, open byte) (Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != open {
		return Value{}, false
	}
	var raw interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Value{}, false
	}
	return FromAny(raw), true
}

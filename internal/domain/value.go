package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
)

// Value is either a number or a string. Requirement targets and reward values
// carry one; on the wire it is encoded as a bare JSON number or string.
type Value struct {
	num    float64
	str    string
	isNum  bool
	isText bool
}

func Numeric(v float64) Value { return Value{num: v, isNum: true} }

func Textual(s string) Value { return Value{str: s, isText: true} }

// Numeric returns the number and true when v holds a number.
func (v Value) Numeric() (float64, bool) { return v.num, v.isNum }

// Text returns the string and true when v holds text.
func (v Value) Text() (string, bool) { return v.str, v.isText }

func (v Value) IsZero() bool { return !v.isNum && !v.isText }

func (v Value) String() string {
	switch {
	case v.isNum:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case v.isText:
		return v.str
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.isNum:
		return json.Marshal(v.num)
	case v.isText:
		return json.Marshal(v.str)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Textual(s)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return errors.New("value must be a number or a string")
		}
		*v = Numeric(f)
		return nil
	}
}

// Schema describes Value to the OpenAPI generator as a number-or-string.
func (Value) Schema(_ huma.Registry) *huma.Schema {
	return &huma.Schema{OneOf: []*huma.Schema{{Type: huma.TypeNumber}, {Type: huma.TypeString}}}
}

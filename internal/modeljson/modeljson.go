// Package modeljson turns free-form model replies into validated structs.
package modeljson

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"ai-orchestrator/internal/domain"
)

var validate = validator.New()

// Validate checks the validate tags of v.
func Validate(v any) error {
	return validate.Struct(v)
}

// Decode copies a loosely typed value into out using its json tags. Single
// values are promoted to slices and numbers given as strings are accepted.
func Decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// Parse extracts the JSON object in reply, decodes it into out and
// validates it. Failures are ValidationFailure errors carrying the raw reply.
func Parse(op, reply string, out any) error {
	var generic map[string]any
	if err := json.Unmarshal([]byte(ExtractObject(reply)), &generic); err != nil {
		return domain.ValidationFailure(op, "model response was not valid JSON", reply)
	}
	if err := Decode(generic, out); err != nil {
		return domain.ValidationFailure(op, "model response did not match the expected schema", reply)
	}
	if err := validate.Struct(out); err != nil {
		return domain.ValidationFailure(op, "model response did not match the expected schema", reply)
	}
	return nil
}

// ExtractObject strips code fences and any prose around the outermost JSON
// object of s.
func ExtractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// applySchema is the wire contract for the apply endpoint. Structural
// checks live here; semantic rules (mobile format, flow-specific
// requirements) are applied after decoding.
const applySchema = `{
  "type": "object",
  "required": ["flow", "hsc_roll", "hsc_board", "hsc_year", "first_name", "last_name", "mobile_number"],
  "properties": {
    "flow": {"type": "string", "enum": ["university", "faculty"]},
    "hsc_roll": {"type": "string", "minLength": 1, "maxLength": 20},
    "hsc_board": {"type": "string", "minLength": 1, "maxLength": 40},
    "hsc_year": {"type": "integer", "minimum": 2000, "maximum": 2100},
    "hsc_registration": {"type": "string", "maxLength": 20},
    "ssc_roll": {"type": "string", "maxLength": 20},
    "ssc_board": {"type": "string", "maxLength": 40},
    "ssc_year": {"type": "integer", "minimum": 2000, "maximum": 2100},
    "ssc_registration": {"type": "string", "maxLength": 20},
    "first_name": {"type": "string", "minLength": 1, "maxLength": 100},
    "last_name": {"type": "string", "minLength": 1, "maxLength": 100},
    "father_name": {"type": "string", "maxLength": 100},
    "mother_name": {"type": "string", "maxLength": 100},
    "date_of_birth": {"type": "string", "maxLength": 10},
    "gender": {"type": "string", "enum": ["", "male", "female", "other"]},
    "email": {"type": "string", "maxLength": 254},
    "mobile_number": {"type": "string"},
    "present_address": {"type": "string", "maxLength": 300},
    "permanent_address": {"type": "string", "maxLength": 300},
    "city": {"type": "string", "maxLength": 100},
    "district": {"type": "string", "maxLength": 100},
    "postal_code": {"type": "string", "maxLength": 10},
    "faculty": {"type": "string", "maxLength": 60},
    "quota": {"type": "string", "maxLength": 60},
    "exam_center": {"type": "string", "maxLength": 100},
    "unit": {"type": "string", "maxLength": 20},
    "payment_amount": {"type": "number", "minimum": 0},
    "photo_path": {"type": "string", "maxLength": 300},
    "signature_path": {"type": "string", "maxLength": 300}
  },
  "additionalProperties": false
}`

var compiledApplySchema = jsonschema.MustCompileString("apply.json", applySchema)

// validateApplyBody checks the raw request body against the apply schema
// before it is decoded into the request struct.
func validateApplyBody(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("request body is not valid JSON: %w", err)
	}
	if err := compiledApplySchema.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("request does not match schema: %s", flattenCauses(ve))
		}
		return err
	}
	return nil
}

func flattenCauses(ve *jsonschema.ValidationError) string {
	leaves := ve.BasicOutput().Errors
	var msgs []string
	for _, l := range leaves {
		if l.Error != "" && l.KeywordLocation != "" {
			msgs = append(msgs, l.InstanceLocation+": "+l.Error)
		}
	}
	if len(msgs) == 0 {
		return ve.Message
	}
	return strings.Join(msgs, "; ")
}

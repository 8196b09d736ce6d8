package api

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/xeipuuv/gojsonschema"
)

// Amounts may be sent as JSON numbers or numeric strings.
const amountType = `{"type": ["number", "string"], "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}`

// IDs may be sent as strings or integers.
const idType = `{"type": ["string", "integer"], "minLength": 1}`

var registerSchema = mustSchema(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["first_name", "last_name", "age", "monthly_income", "phone_number"],
	"properties": {
		"first_name": {"type": "string", "minLength": 1, "maxLength": 100},
		"last_name": {"type": "string", "minLength": 1, "maxLength": 100},
		"age": {"type": "integer"},
		"monthly_income": ` + amountType + `,
		"phone_number": {"type": ["string", "integer"], "minLength": 1, "maxLength": 20}
	}
}`)

var loanRequestSchema = mustSchema(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["customer_id", "loan_amount", "interest_rate", "tenure"],
	"properties": {
		"customer_id": ` + idType + `,
		"loan_amount": ` + amountType + `,
		"interest_rate": ` + amountType + `,
		"tenure": {"type": "integer", "minimum": 1, "maximum": 600}
	}
}`)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// validateBody checks a raw request body against schema and reports the
// first violation as an *InvalidInputError.
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return domain.InvalidInput("body", "is not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	first := errs[0]
	field := first.Field()
	if field == "(root)" || field == "" {
		if prop, ok := first.Details()["property"].(string); ok {
			field = prop
		} else {
			field = "body"
		}
	}
	if first.Type() == "required" {
		return domain.InvalidInput(field, "is required")
	}
	return domain.InvalidInput(field, strings.ToLower(first.Description()))
}

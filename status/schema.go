package status

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// Each schema lists exactly the fields its handler reads. Validation runs
// before any gauge is written, so a rejected message leaves no trace.

const componentSchema = `{
	"type": "object",
	"required": ["instances"],
	"properties": {
		"instances": {"type": "number"}
	}
}`

const ingesterSchema = `{
	"type": "object",
	"required": ["instances", "metrics", "queues"],
	"properties": {
		"instances": {"type": "number"},
		"metrics": {
			"type": "object",
			"required": ["bytes_completed", "bytes_ingested", "files_completed", "submissions_completed", "submissions_ingested"],
			"properties": {
				"bytes_completed": {"type": "number"},
				"bytes_ingested": {"type": "number"},
				"files_completed": {"type": "number"},
				"submissions_completed": {"type": "number"},
				"submissions_ingested": {"type": "number"}
			}
		},
		"queues": {
			"type": "object",
			"additionalProperties": {"type": "number"}
		}
	}
}`

const scalerStatusSchema = `{
	"type": "object",
	"required": ["service_name", "metrics"],
	"properties": {
		"service_name": {"type": "string", "minLength": 1},
		"metrics": {
			"type": "object",
			"required": ["running", "target", "minimum", "maximum", "dynamic_maximum", "queue", "pressure", "duty_cycle"],
			"properties": {
				"running": {"type": "number"},
				"target": {"type": "number"},
				"minimum": {"type": "number"},
				"maximum": {"type": "number"},
				"dynamic_maximum": {"type": "number"},
				"queue": {"type": "number"},
				"pressure": {"type": "number"},
				"duty_cycle": {"type": "number"}
			}
		}
	}
}`

const serviceSchema = `{
	"type": "object",
	"required": ["instances", "service_name", "activity", "queue", "metrics"],
	"properties": {
		"instances": {"type": "number"},
		"service_name": {"type": "string", "minLength": 1},
		"activity": {
			"type": "object",
			"required": ["busy", "idle"],
			"properties": {
				"busy": {"type": "number"},
				"idle": {"type": "number"}
			}
		},
		"queue": {"type": "number"},
		"metrics": {
			"type": "object",
			"required": ["execute", "fail_recoverable", "fail_nonrecoverable"],
			"properties": {
				"execute": {"type": "number"},
				"fail_recoverable": {"type": "number"},
				"fail_nonrecoverable": {"type": "number"}
			}
		}
	}
}`

var schemaSources = map[Category]string{
	CategoryAlerter:      componentSchema,
	CategoryArchive:      componentSchema,
	CategoryDispatcher:   componentSchema,
	CategoryExpiry:       componentSchema,
	CategoryIngester:     ingesterSchema,
	CategoryScaler:       componentSchema,
	CategoryScalerStatus: scalerStatusSchema,
	CategoryService:      serviceSchema,
}

// rootField is how gojsonschema names the document root
const rootField = "(root)"

// MessageError describes why a status message was rejected
type MessageError struct {
	Category Category
	Field    string
	Reason   string
	Err      error
}

// Error implements the error interface
func (e *MessageError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s message: %s", e.Category, e.Reason)
	}
	return fmt.Sprintf("%s message: field %q: %s", e.Category, e.Field, e.Reason)
}

// Unwrap returns the sentinel describing the failure kind
func (e *MessageError) Unwrap() error {
	return e.Err
}

// compileSchemas loads every category schema. The sources are constants, so a
// failure here is a programming error.
func compileSchemas() (map[Category]*gojsonschema.Schema, error) {
	schemas := make(map[Category]*gojsonschema.Schema, len(schemaSources))
	for category, source := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, errors.WrapFatal(err, "Schema", "compileSchemas",
				fmt.Sprintf("compile %s schema", category))
		}
		schemas[category] = schema
	}
	return schemas, nil
}

// validate checks payload against schema and reports the first violation
func validate(schema *gojsonschema.Schema, category Category, payload []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &MessageError{
			Category: category,
			Reason:   "malformed JSON: " + err.Error(),
			Err:      errors.ErrParsingFailed,
		}
	}
	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]
	field := fieldPath(first)
	if first.Type() == "required" {
		return &MessageError{
			Category: category,
			Field:    field,
			Reason:   "required field is missing",
			Err:      errors.ErrMissingField,
		}
	}
	return &MessageError{
		Category: category,
		Field:    field,
		Reason:   first.Description(),
		Err:      errors.ErrInvalidData,
	}
}

// fieldPath returns the dotted path of the offending field, naming the
// missing property itself for required errors.
func fieldPath(desc gojsonschema.ResultError) string {
	field := desc.Field()
	if field == rootField {
		field = ""
	}
	if desc.Type() != "required" {
		return field
	}
	property, _ := desc.Details()["property"].(string)
	switch {
	case property == "":
		return field
	case field == "":
		return property
	case field == property || strings.HasSuffix(field, "."+property):
		return field
	default:
		return field + "." + property
	}
}

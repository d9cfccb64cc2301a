package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformed marks a payload that can never be processed, however often it is redelivered.
var ErrMalformed = errors.New("malformed payload")

const notificationSchemaJSON = `{
  "type": "object",
  "required": ["Records"],
  "properties": {
    "Records": {
      "type": "array",
      "minItems": 1,
      "maxItems": 1,
      "items": {
        "type": "object",
        "required": ["s3"],
        "properties": {
          "s3": {
            "type": "object",
            "required": ["bucket", "object"],
            "properties": {
              "bucket": {
                "type": "object",
                "required": ["name"],
                "properties": {"name": {"type": "string", "minLength": 1}}
              },
              "object": {
                "type": "object",
                "required": ["key"],
                "properties": {
                  "key": {"type": "string", "minLength": 1},
                  "versionId": {"type": "string"},
                  "eTag": {"type": "string"}
                }
              }
            }
          }
        }
      }
    }
  }
}`

const trackingSchemaJSON = `{
  "type": "object",
  "required": ["JobId", "ObjectKey", "BucketName"],
  "properties": {
    "JobId": {"type": "string", "minLength": 1},
    "ObjectKey": {"type": "string", "minLength": 1},
    "BucketName": {"type": "string", "minLength": 1}
  }
}`

var (
	notificationSchema = jsonschema.MustCompileString("notification.json", notificationSchemaJSON)
	trackingSchema     = jsonschema.MustCompileString("tracking.json", trackingSchemaJSON)
)

// validate checks body against schema and wraps any failure in ErrMalformed.
func validate(schema *jsonschema.Schema, body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("%w: decode json: %v", ErrMalformed, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

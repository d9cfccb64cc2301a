package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// ObjectRef identifies one object named by a "new object" notification.
type ObjectRef struct {
	Bucket    string
	Key       string
	VersionID string
	ETag      string
}

// ParseNotification validates an S3 object-created event and returns the object it names.
func ParseNotification(body []byte) (ObjectRef, error) {
	if err := validate(notificationSchema, body); err != nil {
		return ObjectRef{}, err
	}
	var event events.S3Event
	if err := json.Unmarshal(body, &event); err != nil {
		return ObjectRef{}, fmt.Errorf("%w: decode event: %v", ErrMalformed, err)
	}
	rec := event.Records[0].S3
	// Keys arrive form-encoded ("my file.pdf" is "my+file.pdf").
	key, err := url.QueryUnescape(rec.Object.Key)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("%w: object key %q: %v", ErrMalformed, rec.Object.Key, err)
	}
	if strings.TrimSpace(rec.Bucket.Name) == "" || strings.TrimSpace(key) == "" {
		return ObjectRef{}, fmt.Errorf("%w: bucket and key are required", ErrMalformed)
	}
	return ObjectRef{
		Bucket:    rec.Bucket.Name,
		Key:       key,
		VersionID: rec.Object.VersionID,
		ETag:      strings.Trim(rec.Object.ETag, `"`),
	}, nil
}

// Revision names the object content the notification refers to.
func (o ObjectRef) Revision() string {
	switch {
	case o.VersionID != "":
		return o.VersionID
	case o.ETag != "":
		return o.ETag
	}
	return "latest"
}

// IdempotencyKey is a deterministic token for one logical document revision.
// It is 64 hex characters, which also satisfies the analysis service's client request token format.
func (o ObjectRef) IdempotencyKey() string {
	sum := sha256.Sum256([]byte(o.Bucket + "\x00" + o.Key + "\x00" + o.Revision()))
	return hex.EncodeToString(sum[:])
}

// NewNotification builds an object-created event body for one object.
func NewNotification(ref ObjectRef) ([]byte, error) {
	event := events.S3Event{Records: []events.S3EventRecord{{
		EventSource: "aws:s3",
		EventName:   "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: ref.Bucket},
			Object: events.S3Object{
				Key:       url.QueryEscape(ref.Key),
				VersionID: ref.VersionID,
				ETag:      ref.ETag,
			},
		},
	}}}
	return json.Marshal(event)
}

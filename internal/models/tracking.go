package models

import (
	"encoding/json"
	"fmt"
)

// TrackingRecord correlates an analysis job with its source document.
// It carries no status: status is always re-queried from the analysis service.
type TrackingRecord struct {
	JobID      string `json:"JobId"`
	ObjectKey  string `json:"ObjectKey"`
	BucketName string `json:"BucketName"`
}

// ParseTrackingRecord validates and decodes a tracking message body.
func ParseTrackingRecord(body []byte) (TrackingRecord, error) {
	if err := validate(trackingSchema, body); err != nil {
		return TrackingRecord{}, err
	}
	var rec TrackingRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return TrackingRecord{}, fmt.Errorf("%w: decode tracking record: %v", ErrMalformed, err)
	}
	return rec, nil
}

// Body encodes the record as a queue message body.
func (r TrackingRecord) Body() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal tracking record: %w", err)
	}
	return string(b), nil
}

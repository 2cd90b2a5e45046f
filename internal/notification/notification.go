// Package notification extracts object references from storage-change
// notifications in the S3 event shape, as delivered by Lambda triggers,
// SQS queues, and S3-compatible webhook or AMQP targets.
package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/tinytelemetry/hecforward/internal/model"
)

// Parse decodes a notification document and returns its object references in
// record order. A document without Records yields no references and no error.
func Parse(data []byte) ([]model.ObjectRef, error) {
	var ev events.S3Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("notification: decode: %w", err)
	}
	return FromS3Event(ev), nil
}

// FromS3Event converts an already decoded event. Records with an empty
// bucket or key are skipped.
func FromS3Event(ev events.S3Event) []model.ObjectRef {
	if len(ev.Records) == 0 {
		log.Printf("notification: no records in event")
		return nil
	}

	refs := make([]model.ObjectRef, 0, len(ev.Records))
	for i, rec := range ev.Records {
		bucket := rec.S3.Bucket.Name
		key := decodeKey(rec.S3.Object.Key)
		if bucket == "" || key == "" {
			log.Printf("notification: skipping record %d without bucket or key", i)
			continue
		}
		refs = append(refs, model.ObjectRef{Bucket: bucket, Key: key})
	}
	return refs
}

// decodeKey undoes the form encoding S3 applies to keys in notifications
// ("my file.log" arrives as "my+file.log").
func decodeKey(key string) string {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return decoded
}

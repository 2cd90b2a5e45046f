package notification

import (
	"reflect"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/tinytelemetry/hecforward/internal/model"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    []model.ObjectRef
		wantErr bool
	}{
		{
			name: "single record",
			raw:  `{"Records":[{"s3":{"bucket":{"name":"logs"},"object":{"key":"app/2024/01/app.log"}}}]}`,
			want: []model.ObjectRef{{Bucket: "logs", Key: "app/2024/01/app.log"}},
		},
		{
			name: "multiple records keep order",
			raw: `{"Records":[
				{"s3":{"bucket":{"name":"a"},"object":{"key":"1.log"}}},
				{"s3":{"bucket":{"name":"b"},"object":{"key":"2.log"}}}
			]}`,
			want: []model.ObjectRef{{Bucket: "a", Key: "1.log"}, {Bucket: "b", Key: "2.log"}},
		},
		{
			name: "url encoded key",
			raw:  `{"Records":[{"s3":{"bucket":{"name":"logs"},"object":{"key":"my+file%3D1.log"}}}]}`,
			want: []model.ObjectRef{{Bucket: "logs", Key: "my file=1.log"}},
		},
		{
			name: "invalid escape kept raw",
			raw:  `{"Records":[{"s3":{"bucket":{"name":"logs"},"object":{"key":"100%.log"}}}]}`,
			want: []model.ObjectRef{{Bucket: "logs", Key: "100%.log"}},
		},
		{
			name: "missing records",
			raw:  `{"Service":"Amazon S3","Event":"s3:TestEvent"}`,
			want: nil,
		},
		{
			name: "empty records",
			raw:  `{"Records":[]}`,
			want: nil,
		},
		{
			name: "record without key skipped",
			raw:  `{"Records":[{"s3":{"bucket":{"name":"logs"},"object":{}}}]}`,
			want: []model.ObjectRef{},
		},
		{
			name:    "malformed json",
			raw:     `{"Records":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFromS3Event(t *testing.T) {
	t.Parallel()

	ev := events.S3Event{Records: []events.S3EventRecord{{
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: "trail"},
			Object: events.S3Object{Key: "AWSLogs/1.json.gz"},
		},
	}}}
	got := FromS3Event(ev)
	want := []model.ObjectRef{{Bucket: "trail", Key: "AWSLogs/1.json.gz"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FromS3Event = %+v, want %+v", got, want)
	}
	if got[0].Source() != "s3://trail/AWSLogs/1.json.gz" {
		t.Fatalf("Source = %q", got[0].Source())
	}
}

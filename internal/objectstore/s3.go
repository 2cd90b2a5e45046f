// Package objectstore reads notified objects from S3 or an S3-compatible store.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tinytelemetry/hecforward/internal/model"
)

const defaultRegion = "us-east-1"

// S3Config holds S3 client parameters.
type S3Config struct {
	Region       string
	Endpoint     string // optional, for S3-compatible stores
	UseSSL       bool   // scheme for an Endpoint given without one
	PathStyle    bool
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// Getter is the subset of the S3 API the reader uses.
type Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Reader opens objects through the S3 API.
type S3Reader struct {
	client Getter
}

// NewS3Reader builds a reader with static credentials, or anonymous access
// when no access key is configured.
func NewS3Reader(cfg S3Config) (*S3Reader, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	return &S3Reader{client: s3.New(opts)}, nil
}

// NewS3ReaderWithClient wraps an existing client.
func NewS3ReaderWithClient(client Getter) *S3Reader {
	return &S3Reader{client: client}
}

// Open returns the content of ref. Gzip-compressed objects are decompressed
// transparently. The caller must close the returned reader.
func (r *S3Reader) Open(ctx context.Context, ref model.ObjectRef) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", ref.Source(), err)
	}
	body, err := decodeBody(ref.Key, aws.ToString(out.ContentEncoding), out.Body)
	if err != nil {
		out.Body.Close()
		return nil, fmt.Errorf("s3: decode %s: %w", ref.Source(), err)
	}
	return body, nil
}

func clientOptions(cfg S3Config) (s3.Options, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.PathStyle,
		Credentials:  aws.AnonymousCredentials{},
	}

	accessKey := strings.TrimSpace(cfg.AccessKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if accessKey != "" || secretKey != "" {
		if accessKey == "" || secretKey == "" {
			return opts, fmt.Errorf("s3: access key and secret key must be set together")
		}
		opts.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, strings.TrimSpace(cfg.SessionToken))
	}

	if endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return opts, nil
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	scheme := "https://"
	if !useSSL {
		scheme = "http://"
	}
	return scheme + endpoint
}

// ParseURL parses "s3://bucket/key" into an object reference.
func ParseURL(raw string) (model.ObjectRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return model.ObjectRef{}, fmt.Errorf("s3: parse url: %w", err)
	}
	if u.Scheme != "s3" {
		return model.ObjectRef{}, fmt.Errorf("s3: url must use s3:// scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return model.ObjectRef{}, fmt.Errorf("s3: url missing bucket name")
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return model.ObjectRef{}, fmt.Errorf("s3: url missing object key")
	}
	return model.ObjectRef{Bucket: u.Host, Key: key}, nil
}

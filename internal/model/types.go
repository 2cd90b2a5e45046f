package model

import "fmt"

// ObjectRef identifies one stored object announced by a storage notification.
type ObjectRef struct {
	Bucket string
	Key    string
}

// Source returns the event source string attached to every line of the object.
func (r ObjectRef) Source() string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Key)
}

func (r ObjectRef) String() string { return r.Source() }

// Metadata scopes where forwarded events are stored and how they are classified.
// It is supplied once per invocation and attached to every envelope built during it.
type Metadata struct {
	Index      string
	Sourcetype string
	Source     string
}

// WithSource returns a copy of m with Source replaced.
func (m Metadata) WithSource(source string) Metadata {
	m.Source = source
	return m
}

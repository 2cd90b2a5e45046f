// Package pipeline drives one invocation: it reads every notified object,
// splits it into lines and hands each line to a forwarder as an envelope.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/tinytelemetry/hecforward/internal/hec"
	"github.com/tinytelemetry/hecforward/internal/logsource"
	"github.com/tinytelemetry/hecforward/internal/model"
	"golang.org/x/sync/errgroup"
)

// ObjectOpener returns the raw content of one object.
type ObjectOpener interface {
	Open(ctx context.Context, ref model.ObjectRef) (io.ReadCloser, error)
}

// Sink is the forwarder contract the pipeline drives. *hec.Forwarder satisfies it.
type Sink interface {
	Add(ctx context.Context, env hec.Envelope) error
	Flush(ctx context.Context) error
	Stats() hec.Stats
}

// SinkFactory builds a fresh, empty sink.
type SinkFactory func() (Sink, error)

// Options tunes a Pipeline.
type Options struct {
	// Workers > 1 processes objects concurrently, one sink per object.
	// Otherwise all objects share a single sink and batch.
	Workers     int
	MaxLineSize int
}

// Result summarizes one Run.
type Result struct {
	Objects   int `json:"objects"` // objects read to the end
	Failed    int `json:"failed"`  // objects that could not be opened or read completely
	Events    int `json:"events"`  // lines queued for delivery
	Requests  int `json:"requests"`
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
}

func (r *Result) merge(o Result) {
	r.Objects += o.Objects
	r.Failed += o.Failed
	r.Events += o.Events
	r.Requests += o.Requests
	r.Delivered += o.Delivered
	r.Dropped += o.Dropped
}

func (r *Result) addStats(st hec.Stats) {
	r.Requests += st.Requests
	r.Delivered += st.Delivered
	r.Dropped += st.Dropped
}

// Pipeline forwards notified objects line by line.
type Pipeline struct {
	opener  ObjectOpener
	newSink SinkFactory
	meta    model.Metadata
	opts    Options
}

// New creates a pipeline. meta supplies index and sourcetype for every
// envelope; the source is always the object's s3:// URL.
func New(opener ObjectOpener, newSink SinkFactory, meta model.Metadata, opts Options) *Pipeline {
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = model.DefaultMaxLineSize
	}
	return &Pipeline{
		opener:  opener,
		newSink: newSink,
		meta:    meta,
		opts:    opts,
	}
}

// Run forwards every object in refs. Objects that fail to read are logged and
// skipped. The returned error joins every read and delivery failure; the
// Result is valid either way.
func (p *Pipeline) Run(ctx context.Context, refs []model.ObjectRef) (Result, error) {
	if len(refs) == 0 {
		log.Printf("pipeline: no objects to forward")
		return Result{}, nil
	}
	if p.opts.Workers > 1 {
		return p.runConcurrent(ctx, refs)
	}
	return p.runShared(ctx, refs)
}

func (p *Pipeline) runShared(ctx context.Context, refs []model.ObjectRef) (Result, error) {
	sink, err := p.newSink()
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: create forwarder: %w", err)
	}

	var res Result
	var errs []error
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			res.Failed += len(refs) - i
			errs = append(errs, err)
			break
		}
		objRes, objErrs := p.forwardObject(ctx, sink, ref)
		res.merge(objRes)
		errs = append(errs, objErrs...)
	}

	if err := sink.Flush(ctx); err != nil {
		log.Printf("pipeline: final flush: %v", err)
		errs = append(errs, err)
	}
	res.addStats(sink.Stats())
	return res, errors.Join(errs...)
}

func (p *Pipeline) runConcurrent(ctx context.Context, refs []model.ObjectRef) (Result, error) {
	var (
		mu   sync.Mutex
		res  Result
		errs []error
	)
	record := func(r Result, e []error) {
		mu.Lock()
		defer mu.Unlock()
		res.merge(r)
		errs = append(errs, e...)
	}

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(Result{Failed: 1}, []error{err})
				return nil
			}
			sink, err := p.newSink()
			if err != nil {
				record(Result{Failed: 1}, []error{fmt.Errorf("pipeline: create forwarder for %s: %w", ref, err)})
				return nil
			}
			objRes, objErrs := p.forwardObject(ctx, sink, ref)
			if err := sink.Flush(ctx); err != nil {
				log.Printf("pipeline: flush %s: %v", ref, err)
				objErrs = append(objErrs, err)
			}
			objRes.addStats(sink.Stats())
			record(objRes, objErrs)
			return nil
		})
	}
	_ = g.Wait()
	return res, errors.Join(errs...)
}

// forwardObject queues every line of ref on sink. Lines read before a read
// failure stay queued and are delivered with the batch.
func (p *Pipeline) forwardObject(ctx context.Context, sink Sink, ref model.ObjectRef) (Result, []error) {
	var res Result
	var errs []error

	body, err := p.opener.Open(ctx, ref)
	if err != nil {
		log.Printf("pipeline: open %s: %v", ref, err)
		res.Failed = 1
		return res, append(errs, err)
	}
	defer body.Close()

	meta := p.meta.WithSource(ref.Source())
	n, err := logsource.Scan(body, p.opts.MaxLineSize, func(line string) error {
		if err := sink.Add(ctx, hec.NewEnvelope(meta, line)); err != nil {
			log.Printf("pipeline: %v", err)
			errs = append(errs, err)
		}
		return ctx.Err()
	})
	res.Events = n
	if err != nil {
		log.Printf("pipeline: read %s: %v", ref, err)
		res.Failed = 1
		return res, append(errs, fmt.Errorf("pipeline: read %s: %w", ref, err))
	}
	res.Objects = 1
	return res, errs
}

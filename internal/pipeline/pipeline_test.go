package pipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/tinytelemetry/hecforward/internal/hec"
	"github.com/tinytelemetry/hecforward/internal/model"
	"github.com/tinytelemetry/hecforward/internal/notification"
)

type fakeOpener struct {
	objects map[string]string
}

func (o *fakeOpener) Open(_ context.Context, ref model.ObjectRef) (io.ReadCloser, error) {
	data, ok := o.objects[ref.Source()]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

type recordingSink struct {
	mu      sync.Mutex
	adds    []hec.Envelope
	flushes int
}

func (s *recordingSink) Add(_ context.Context, env hec.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds = append(s.adds, env)
	return nil
}

func (s *recordingSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *recordingSink) Stats() hec.Stats { return hec.Stats{} }

type sinkRecorder struct {
	mu    sync.Mutex
	sinks []*recordingSink
}

func (r *sinkRecorder) factory() (Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &recordingSink{}
	r.sinks = append(r.sinks, s)
	return s, nil
}

type countingCollector struct {
	mu     sync.Mutex
	bodies []string
	status int
}

func (c *countingCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, string(body))
	status := c.status
	c.mu.Unlock()
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"text":"Success","code":0}`)
}

func (c *countingCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func forwarderFactory(t *testing.T, status int) (*countingCollector, SinkFactory) {
	t.Helper()
	c := &countingCollector{status: status}
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	p, _ := strconv.Atoi(port)
	cfg := hec.Config{
		Token:        "token",
		Host:         host,
		Port:         p,
		HostIdentity: "lambda-host",
		DisableTLS:   true,
	}
	return c, func() (Sink, error) { return hec.New(cfg) }
}

var testMeta = model.Metadata{Index: "main", Sourcetype: "aws:s3:accesslogs"}

func TestRun_NoRecordsDoesNothing(t *testing.T) {
	refs, err := notification.Parse([]byte(`{"Records":[]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	rec := &sinkRecorder{}
	p := New(&fakeOpener{}, rec.factory, testMeta, Options{})
	res, err := p.Run(context.Background(), refs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != (Result{}) {
		t.Fatalf("Result = %+v, want zero", res)
	}
	if len(rec.sinks) != 0 {
		t.Fatalf("sinks created = %d, want 0", len(rec.sinks))
	}

	collector, factory := forwarderFactory(t, http.StatusOK)
	if _, err := New(&fakeOpener{}, factory, testMeta, Options{}).Run(context.Background(), refs); err != nil {
		t.Fatalf("Run with forwarder: %v", err)
	}
	if collector.count() != 0 {
		t.Fatalf("requests = %d, want 0", collector.count())
	}
}

func TestRun_SingleObjectThreeLines(t *testing.T) {
	ref := model.ObjectRef{Bucket: "logs", Key: "app.log"}
	opener := &fakeOpener{objects: map[string]string{ref.Source(): "a\nb\nc"}}

	rec := &sinkRecorder{}
	res, err := New(opener, rec.factory, testMeta, Options{}).Run(context.Background(), []model.ObjectRef{ref})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.sinks) != 1 {
		t.Fatalf("sinks = %d, want 1", len(rec.sinks))
	}
	sink := rec.sinks[0]
	if len(sink.adds) != 3 || sink.flushes != 1 {
		t.Fatalf("adds = %d flushes = %d, want 3 and 1", len(sink.adds), sink.flushes)
	}
	for i, want := range []string{"a", "b", "c"} {
		env := sink.adds[i]
		if env.Event != want {
			t.Errorf("event %d = %q, want %q", i, env.Event, want)
		}
		if env.Source != "s3://logs/app.log" || env.Index != "main" || env.Sourcetype != "aws:s3:accesslogs" {
			t.Errorf("envelope %d metadata = %+v", i, env)
		}
	}
	if res.Objects != 1 || res.Events != 3 || res.Failed != 0 {
		t.Fatalf("Result = %+v", res)
	}

	collector, factory := forwarderFactory(t, http.StatusOK)
	res, err = New(opener, factory, testMeta, Options{}).Run(context.Background(), []model.ObjectRef{ref})
	if err != nil {
		t.Fatalf("Run with forwarder: %v", err)
	}
	if collector.count() != 1 {
		t.Fatalf("requests = %d, want 1", collector.count())
	}
	if res.Requests != 1 || res.Delivered != 3 {
		t.Fatalf("Result = %+v, want 1 request and 3 delivered", res)
	}
}

func TestRun_SharesOneBatchAcrossObjects(t *testing.T) {
	first := model.ObjectRef{Bucket: "logs", Key: "one.log"}
	second := model.ObjectRef{Bucket: "logs", Key: "two.log"}
	opener := &fakeOpener{objects: map[string]string{
		first.Source():  "1a\n1b\n",
		second.Source(): "2a\n",
	}}

	collector, factory := forwarderFactory(t, http.StatusOK)
	res, err := New(opener, factory, testMeta, Options{}).Run(context.Background(), []model.ObjectRef{first, second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if collector.count() != 1 {
		t.Fatalf("requests = %d, want a single shared batch", collector.count())
	}
	body := collector.bodies[0]
	if !strings.Contains(body, `"source":"s3://logs/one.log"`) || !strings.Contains(body, `"source":"s3://logs/two.log"`) {
		t.Fatalf("batch body missing per-object sources: %s", body)
	}
	if res.Objects != 2 || res.Events != 3 {
		t.Fatalf("Result = %+v", res)
	}
}

func TestRun_ConcurrentUsesOneSinkPerObject(t *testing.T) {
	refs := []model.ObjectRef{
		{Bucket: "logs", Key: "1.log"},
		{Bucket: "logs", Key: "2.log"},
		{Bucket: "logs", Key: "3.log"},
	}
	objects := map[string]string{}
	for _, ref := range refs {
		objects[ref.Source()] = "x\ny\n"
	}

	rec := &sinkRecorder{}
	res, err := New(&fakeOpener{objects: objects}, rec.factory, testMeta, Options{Workers: 2}).Run(context.Background(), refs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.sinks) != 3 {
		t.Fatalf("sinks = %d, want 3", len(rec.sinks))
	}
	for i, s := range rec.sinks {
		if len(s.adds) != 2 || s.flushes != 1 {
			t.Errorf("sink %d adds = %d flushes = %d, want 2 and 1", i, len(s.adds), s.flushes)
		}
		source := s.adds[0].Source
		for _, env := range s.adds {
			if env.Source != source {
				t.Errorf("sink %d mixes objects: %q and %q", i, source, env.Source)
			}
		}
	}
	if res.Objects != 3 || res.Events != 6 {
		t.Fatalf("Result = %+v", res)
	}
}

func TestRun_OpenFailureContinues(t *testing.T) {
	missing := model.ObjectRef{Bucket: "logs", Key: "gone.log"}
	present := model.ObjectRef{Bucket: "logs", Key: "here.log"}
	opener := &fakeOpener{objects: map[string]string{present.Source(): "ok\n"}}

	rec := &sinkRecorder{}
	res, err := New(opener, rec.factory, testMeta, Options{}).Run(context.Background(), []model.ObjectRef{missing, present})
	if err == nil {
		t.Fatal("expected joined error for the missing object")
	}
	if res.Failed != 1 || res.Objects != 1 || res.Events != 1 {
		t.Fatalf("Result = %+v", res)
	}
	if rec.sinks[0].flushes != 1 {
		t.Fatalf("flushes = %d, want 1", rec.sinks[0].flushes)
	}
}

func TestRun_ReadFailureKeepsQueuedLines(t *testing.T) {
	ref := model.ObjectRef{Bucket: "logs", Key: "huge.log"}
	content := "first\n" + strings.Repeat("z", 64) + "\n"
	opener := &fakeOpener{objects: map[string]string{ref.Source(): content}}

	rec := &sinkRecorder{}
	res, err := New(opener, rec.factory, testMeta, Options{MaxLineSize: 16}).Run(context.Background(), []model.ObjectRef{ref})
	if err == nil {
		t.Fatal("expected read error for oversized line")
	}
	if res.Failed != 1 || res.Events != 1 {
		t.Fatalf("Result = %+v", res)
	}
	if len(rec.sinks[0].adds) != 1 || rec.sinks[0].flushes != 1 {
		t.Fatalf("queued line must still be flushed: adds=%d flushes=%d", len(rec.sinks[0].adds), rec.sinks[0].flushes)
	}
}

func TestRun_DeliveryFailureIsReported(t *testing.T) {
	ref := model.ObjectRef{Bucket: "logs", Key: "app.log"}
	opener := &fakeOpener{objects: map[string]string{ref.Source(): "a\nb\n"}}

	collector, factory := forwarderFactory(t, http.StatusInternalServerError)
	res, err := New(opener, factory, testMeta, Options{}).Run(context.Background(), []model.ObjectRef{ref})
	var derr *hec.DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("Run error = %v, want *hec.DeliveryError", err)
	}
	if collector.count() != 1 {
		t.Fatalf("requests = %d, want 1 (no retry)", collector.count())
	}
	if res.Dropped != 2 || res.Delivered != 0 {
		t.Fatalf("Result = %+v, want 2 dropped", res)
	}
}

func TestRun_SinkFactoryError(t *testing.T) {
	ref := model.ObjectRef{Bucket: "logs", Key: "app.log"}
	boom := errors.New("no token")
	p := New(&fakeOpener{}, func() (Sink, error) { return nil, boom }, testMeta, Options{})
	if _, err := p.Run(context.Background(), []model.ObjectRef{ref}); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestRun_CancelledCountsUntriedObjects(t *testing.T) {
	refs := []model.ObjectRef{
		{Bucket: "logs", Key: "1.log"},
		{Bucket: "logs", Key: "2.log"},
		{Bucket: "logs", Key: "3.log"},
	}
	objects := map[string]string{}
	for _, ref := range refs {
		objects[ref.Source()] = "x\n"
	}

	for _, workers := range []int{1, 2} {
		t.Run("workers="+strconv.Itoa(workers), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			rec := &sinkRecorder{}
			p := New(&fakeOpener{objects: objects}, rec.factory, testMeta, Options{Workers: workers})
			res, err := p.Run(ctx, refs)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("Run error = %v, want context.Canceled", err)
			}
			if res.Failed != 3 || res.Objects != 0 || res.Events != 0 {
				t.Fatalf("Result = %+v, want 3 failed", res)
			}
		})
	}
}

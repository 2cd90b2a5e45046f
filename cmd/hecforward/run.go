package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/tinytelemetry/hecforward/internal/hec"
	"github.com/tinytelemetry/hecforward/internal/httpserver"
	"github.com/tinytelemetry/hecforward/internal/model"
	"github.com/tinytelemetry/hecforward/internal/notification"
	"github.com/tinytelemetry/hecforward/internal/objectstore"
	"github.com/tinytelemetry/hecforward/internal/pipeline"
	"github.com/tinytelemetry/hecforward/internal/queue"
	"golang.org/x/sync/errgroup"
)

// newPipeline wires the S3 reader and a forwarder factory. The HEC settings
// are checked once here so a bad config fails before any object is read.
func newPipeline(cfg appConfig) (*pipeline.Pipeline, error) {
	reader, err := objectstore.NewS3Reader(cfg.s3Config())
	if err != nil {
		return nil, err
	}
	hecCfg := cfg.hecConfig()
	probe, err := hec.New(hecCfg)
	if err != nil {
		return nil, err
	}
	log.Printf("hecforward: forwarding to %s as host %q", probe.Endpoint(), probe.HostIdentity())

	newSink := func() (pipeline.Sink, error) { return hec.New(hecCfg) }
	return pipeline.New(reader, newSink, cfg.metadata(), pipeline.Options{
		Workers:     cfg.Workers,
		MaxLineSize: cfg.MaxLineSize,
	}), nil
}

// runLambda serves S3 notifications through the Lambda runtime. Forwarding
// failures are logged and not returned, so the runtime does not retry an
// invocation whose events were partly delivered.
func runLambda(cfg appConfig) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	lambda.Start(func(ctx context.Context, ev events.S3Event) (pipeline.Result, error) {
		res, err := p.Run(ctx, notification.FromS3Event(ev))
		logResult("lambda", res, err)
		return res, nil
	})
	return nil
}

// runOnce forwards the objects of one notification document or of the
// s3:// URLs given as arguments.
func runOnce(cfg appConfig, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	eventPath := fs.String("event", "", "notification JSON file, or - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var refs []model.ObjectRef
	if *eventPath != "" {
		data, err := readEvent(*eventPath)
		if err != nil {
			return err
		}
		parsed, err := notification.Parse(data)
		if err != nil {
			return err
		}
		refs = append(refs, parsed...)
	}
	for _, arg := range fs.Args() {
		ref, err := objectstore.ParseURL(arg)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}
	if *eventPath == "" && len(refs) == 0 {
		return errors.New("run: give -event or at least one s3:// url")
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := p.Run(ctx, refs)
	logResult("run", res, err)
	fmt.Printf("objects=%d failed=%d events=%d requests=%d delivered=%d dropped=%d\n",
		res.Objects, res.Failed, res.Events, res.Requests, res.Delivered, res.Dropped)
	return err
}

func readEvent(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return data, nil
}

// runServe accepts notifications over HTTP until interrupted.
func runServe(cfg appConfig) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	apiServer := httpserver.NewServer(cfg.APIAddr, p)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	printStartupBanner(cfg, "serve", "POST http://"+cfg.APIAddr+"/api/notifications")

	return waitForShutdown(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
}

// runAMQP consumes notifications from an AMQP queue until interrupted.
func runAMQP(cfg appConfig) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	consumer := queue.NewAMQPConsumer(queue.AMQPConfig{
		URL:          cfg.AMQPURL,
		Queue:        cfg.AMQPQueue,
		DrainTimeout: cfg.DrainTimeout,
	}, p)
	if err := consumer.Connect(context.Background()); err != nil {
		return err
	}
	defer consumer.Close()

	printStartupBanner(cfg, "amqp", cfg.AMQPQueue)

	return waitForShutdown(consumer.Run)
}

// runSQS long-polls an SQS queue until interrupted.
func runSQS(cfg appConfig) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	sqsCfg := cfg.sqsConfig()
	consumer, err := queue.NewSQSConsumer(queue.NewSQSClient(sqsCfg), sqsCfg, p)
	if err != nil {
		return err
	}

	printStartupBanner(cfg, "sqs", cfg.SQSQueueURL)

	return waitForShutdown(consumer.Run)
}

// forceExitAfter outlasts the drain timeout given to in-flight messages.
const forceExitAfter = 30 * time.Second

// waitForShutdown runs fn until SIGINT or SIGTERM. A second signal, or a
// stuck shutdown, forces exit.
func waitForShutdown(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(forceExitAfter)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fn(gctx) })
	return g.Wait()
}

func logResult(trigger string, res pipeline.Result, err error) {
	log.Printf("%s: objects=%d failed=%d events=%d requests=%d delivered=%d dropped=%d",
		trigger, res.Objects, res.Failed, res.Events, res.Requests, res.Delivered, res.Dropped)
	if err != nil {
		log.Printf("%s: %v", trigger, err)
	}
}

// configureRuntimeLogger sets timestamped log output, to path when given and
// to stderr otherwise.
func configureRuntimeLogger(path string) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)
	if path == "" {
		return func() {}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("hecforward: log file %s: %v", path, err)
		return func() {}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("hecforward: log file %s: %v", path, err)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}

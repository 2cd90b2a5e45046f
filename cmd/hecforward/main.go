package main

import (
	"flag"
	"fmt"
	"os"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

const usage = `Usage: hecforward [flags] <mode> [mode flags]

Modes:
  lambda   handle S3 notifications as an AWS Lambda function
  run      forward objects once: run [-event file|-] [s3://bucket/key ...]
  serve    accept notifications over HTTP (POST /api/notifications)
  amqp     consume notifications from an AMQP queue
  sqs      long-poll notifications from an SQS queue

Flags:
`

func main() {
	var configPath string
	var showVersion bool
	var printConfig bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/hecforward/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("hecforward - S3 to HTTP Event Collector forwarder\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if printConfig {
		out, err := marshalConfig(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}

	mode := "lambda"
	if flag.NArg() > 0 {
		mode = flag.Arg(0)
	} else if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	cleanupLogger := configureRuntimeLogger(cfg.LogFile)
	defer cleanupLogger()

	if err := runMode(mode, cfg, flag.Args()[min(1, flag.NArg()):]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cleanupLogger()
		os.Exit(1)
	}
}

func runMode(mode string, cfg appConfig, args []string) error {
	switch mode {
	case "lambda":
		return runLambda(cfg)
	case "run":
		return runOnce(cfg, args)
	case "serve":
		return runServe(cfg)
	case "amqp":
		return runAMQP(cfg)
	case "sqs":
		return runSQS(cfg)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

package model

import "time"

// Shared defaults used by the forwarder, the pipeline and the CLI.
const (
	DefaultCollectorPort   = 8088
	DefaultMaxBatchBytes   = 100_000
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultMaxLineSize     = 1024 * 1024 // 1MB
)

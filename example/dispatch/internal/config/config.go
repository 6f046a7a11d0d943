package config

import "time"

const (
	// Upstream configuration. Two instances serve the same API so the
	// round robin router has somewhere to go.
	UpstreamAddrA = "127.0.0.1:8081"
	UpstreamAddrB = "127.0.0.1:8082"
	UpstreamHost  = "users.internal"

	// Credentials shared by the client and the upstream.
	AppID     = "dispatch-example"
	AppSecret = "s3cr3t"
	ClientID  = "example"
	TokenTTL  = 5 * time.Minute

	// Server configuration
	MetricsPort = ":2112"

	// OpenTelemetry configuration
	OTLPEndpoint   = "localhost:4317"
	ServiceName    = "apisdk-dispatch-example"
	ServiceVersion = "0.1.0"

	// Operation intervals
	OperationInterval = 2 * time.Second

	// Share of upstream calls answered with 503.
	FlakyRate = 0.3
)

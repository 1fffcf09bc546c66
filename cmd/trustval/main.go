// Command trustval validates the trust of signing certificates and their
// signatures against a validation policy.
//
// Usage:
//
//	trustval <command> [flags] <args>
//
// Commands:
//
//	validate  Validate signing certificates against the trust anchors
//	policy    Print the effective validation policy
//	version   Show version information
//
// Examples:
//
//	# Validate offline with a CRL
//	trustval validate --trust-anchors root.pem --crl ca.crl signer.pem
//
//	# Validate with online revocation data and JSON output
//	trustval validate --online --json --trust-anchors root.pem signer.pem
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/georgepadayatti/trustval/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/trustval
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.Run(ctx, os.Args[1:])
}

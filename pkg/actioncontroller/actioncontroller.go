// Package actioncontroller implements the Master-side client used to
// fire reconcile() requests at the external Action Controller
// collaborator named in spec.md §1. It is deliberately thin: the
// Action Controller itself is out of scope, this package only owns the
// outbound call and its per-attempt timeout.
package actioncontroller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/piccolo-project/piccolo/pkg/log"
	"github.com/piccolo-project/piccolo/pkg/perrors"
)

// ReconcileClient is the transport-level collaborator a Client talks
// to. In production this is GrpcTransport, which uses pkg/grpcapi's
// JSON codec; tests supply a fake.
type ReconcileClient interface {
	Reconcile(ctx context.Context, packageName string) error
}

// Client adapts a ReconcileClient to the statemanager.ReconcileDispatcher
// interface, applying a fixed per-call timeout (spec §4.4: reconcile
// dispatch is fire-and-forget from the State Manager's point of view;
// the Action Controller call itself still needs a bound).
type Client struct {
	transport ReconcileClient
	timeout   time.Duration
	logger    zerolog.Logger
}

// New constructs a Client. timeout bounds a single Reconcile RPC
// attempt; retries/backoff across attempts are the caller's
// responsibility (pkg/statemanager already retries with its own
// schedule).
func New(transport ReconcileClient, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{transport: transport, timeout: timeout, logger: log.WithComponent("actioncontroller")}
}

// Reconcile implements statemanager.ReconcileDispatcher.
func (c *Client) Reconcile(ctx context.Context, packageName string) error {
	if packageName == "" {
		return perrors.InvalidArgument("package name must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.transport.Reconcile(ctx, packageName); err != nil {
		c.logger.Warn().Err(err).Str("package", packageName).Msg("reconcile dispatch attempt failed")
		return perrors.Unavailable(err, "reconcile package %s", packageName)
	}
	return nil
}

package actioncontroller

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	// Registers the JSON encoding.Codec used across both gRPC
	// boundaries; the Action Controller is external but this process
	// still dials out to it with the same wire format.
	_ "github.com/piccolo-project/piccolo/pkg/grpcapi"
)

// reconcileRequest/reconcileResponse are this package's own, minimal
// message pair; the Action Controller itself is an external
// collaborator (spec.md §1), so only the outbound call shape is owned
// here, not a shared service contract.
type reconcileRequest struct {
	PackageName string `json:"package_name"`
}

type reconcileResponse struct {
	Accepted bool `json:"accepted"`
}

// GrpcTransport dials a real Action Controller endpoint over gRPC using
// the shared JSON codec.
type GrpcTransport struct {
	conn *grpc.ClientConn
}

// DialGrpcTransport connects to addr. tlsCfg may be nil for plaintext
// local use.
func DialGrpcTransport(addr string, tlsCfg *tls.Config) (*GrpcTransport, error) {
	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("actioncontroller: dial %s: %w", addr, err)
	}
	return &GrpcTransport{conn: conn}, nil
}

// Close releases the underlying connection.
func (t *GrpcTransport) Close() error { return t.conn.Close() }

// Reconcile implements ReconcileClient.
func (t *GrpcTransport) Reconcile(ctx context.Context, packageName string) error {
	out := new(reconcileResponse)
	err := t.conn.Invoke(ctx, "/piccolo.ActionControllerService/Reconcile", &reconcileRequest{PackageName: packageName}, out)
	if err != nil {
		return fmt.Errorf("actioncontroller: reconcile %s: %w", packageName, err)
	}
	return nil
}

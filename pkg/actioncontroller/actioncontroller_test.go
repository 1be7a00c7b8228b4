package actioncontroller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piccolo-project/piccolo/pkg/perrors"
)

type fakeTransport struct {
	err    error
	calls  []string
	delay  time.Duration
}

func (f *fakeTransport) Reconcile(ctx context.Context, packageName string) error {
	f.calls = append(f.calls, packageName)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestReconcileDelegatesToTransport(t *testing.T) {
	transport := &fakeTransport{}
	c := New(transport, time.Second)

	require.NoError(t, c.Reconcile(context.Background(), "p1"))
	assert.Equal(t, []string{"p1"}, transport.calls)
}

func TestReconcileRejectsEmptyPackageName(t *testing.T) {
	c := New(&fakeTransport{}, time.Second)
	err := c.Reconcile(context.Background(), "")
	assert.Error(t, err)
}

func TestReconcileWrapsTransportErrorAsUnavailable(t *testing.T) {
	transport := &fakeTransport{err: errors.New("connection refused")}
	c := New(transport, time.Second)

	err := c.Reconcile(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, perrors.KindUnavailable, perrors.KindOf(err))
}

func TestReconcileTimesOutPerAttempt(t *testing.T) {
	transport := &fakeTransport{delay: 50 * time.Millisecond}
	c := New(transport, 5*time.Millisecond)

	err := c.Reconcile(context.Background(), "p1")
	assert.Error(t, err)
}

package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piccolo-project/piccolo/pkg/grpcapi"
)

type fakeArtifactHandler struct {
	handleErr error
	removeErr error
	handled   []string
	removed   []string
}

func (f *fakeArtifactHandler) HandleArtifact(_ context.Context, artifact grpcapi.ArtifactInfo) error {
	f.handled = append(f.handled, artifact.ArtifactID)
	return f.handleErr
}

func (f *fakeArtifactHandler) RemoveArtifact(_ context.Context, artifactID string) error {
	f.removed = append(f.removed, artifactID)
	return f.removeErr
}

func TestNodeServerHandleArtifactWithoutHandlerIsUnavailable(t *testing.T) {
	s := NewNodeServer(nil, nil)
	resp, err := s.HandleArtifact(context.Background(), &grpcapi.HandleArtifactRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpcapi.StatusUnavailable, resp.Status)
}

func TestNodeServerHandleArtifactDelegates(t *testing.T) {
	handler := &fakeArtifactHandler{}
	s := NewNodeServer(handler, nil)

	resp, err := s.HandleArtifact(context.Background(), &grpcapi.HandleArtifactRequest{Artifact: grpcapi.ArtifactInfo{ArtifactID: "a1"}})
	require.NoError(t, err)
	assert.Equal(t, grpcapi.StatusOk, resp.Status)
	assert.Equal(t, []string{"a1"}, handler.handled)
}

func TestNodeServerRemoveArtifactPropagatesError(t *testing.T) {
	handler := &fakeArtifactHandler{removeErr: errors.New("not found")}
	s := NewNodeServer(handler, nil)

	resp, err := s.RemoveArtifact(context.Background(), &grpcapi.RemoveArtifactRequest{ArtifactID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, grpcapi.StatusInternal, resp.Status)
}

func TestNodeServerHealthCheck(t *testing.T) {
	s := NewNodeServer(nil, nil)
	resp, err := s.HealthCheck(context.Background(), &grpcapi.HealthCheckRequest{})
	require.NoError(t, err)
	assert.True(t, resp.Pong)
}

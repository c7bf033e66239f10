package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

type mockService struct {
	name       string
	startError error
	stopError  error
	onStop     func()
	started    bool
	stops      int
}

func (m *mockService) Name() string { return m.name }

func (m *mockService) Start(ctx context.Context) error {
	if m.startError != nil {
		return m.startError
	}
	m.started = true
	return nil
}

func (m *mockService) Stop(ctx context.Context) error {
	m.stops++
	if m.onStop != nil {
		m.onStop()
	}
	return m.stopError
}

func TestManager_StartAndShutdownOrder(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	var order []string
	for _, name := range []string{"storage", "pipeline", "web"} {
		name := name
		mgr.Register(&mockService{name: name, onStop: func() { order = append(order, name) }})
	}

	require.NoError(t, mgr.Start(context.Background()))
	for _, snap := range mgr.Statuses() {
		assert.Equal(t, StatusRunning, snap.Status, snap.Name)
	}

	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, []string{"web", "pipeline", "storage"}, order)
	assert.Equal(t, StatusStopped, mgr.Status("web").Get())
}

func TestManager_StartFailureUnwinds(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	first := &mockService{name: "storage"}
	failing := &mockService{name: "pipeline", startError: errors.New("open failed")}
	never := &mockService{name: "web"}
	mgr.Register(first)
	mgr.Register(failing)
	mgr.Register(never)

	err := mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start pipeline")

	assert.Equal(t, 1, first.stops, "started services are stopped on failure")
	assert.False(t, never.started)
	assert.Equal(t, StatusError, mgr.Status("pipeline").Get())
}

func TestManager_ShutdownTwice(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	svc := &mockService{name: "pipeline"}
	mgr.Register(svc)

	require.NoError(t, mgr.Start(context.Background()))
	require.NoError(t, mgr.Shutdown(context.Background()))
	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, 1, svc.stops)
}

func TestManager_ShutdownCollectsErrors(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "a", stopError: errors.New("stuck")})
	mgr.Register(&mockService{name: "b"})

	require.NoError(t, mgr.Start(context.Background()))
	err := mgr.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop a")
	assert.Equal(t, StatusStopped, mgr.Status("b").Get())
}

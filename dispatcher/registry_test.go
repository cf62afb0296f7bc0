package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courier-rpc/courier/internal/protocol/logging"
)

// Mock config for testing
type mockConfig struct {
	dispatcherSystem string
}

func (m *mockConfig) GetDispatcherSystem() string { return m.dispatcherSystem }
func (m *mockConfig) GetNATSURL() string          { return "" }
func (m *mockConfig) GetNATSName() string         { return "" }
func (m *mockConfig) GetNATSQueueGroup() string   { return "" }
func (m *mockConfig) GetSubjectPrefix() string    { return "" }

// Mock dispatcher
type mockDispatcher struct{}

func (m *mockDispatcher) Add(pattern string, handler RawHandler) error { return nil }

func (m *mockDispatcher) Act(ctx context.Context, pattern string, args map[string]any) (map[string]any, error) {
	return nil, nil
}

func (m *mockDispatcher) Close() error { return nil }

func mockBuilder(ctx context.Context, cfg Config, log logging.ServiceLogger) (Dispatcher, error) {
	return &mockDispatcher{}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	reg.Register("test-dispatcher", mockBuilder)
	assert.True(t, reg.Has("test-dispatcher"))
	assert.Contains(t, reg.Names(), "test-dispatcher")
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()

	caps := Capabilities{
		Name:                "test-dispatcher",
		CrossProcess:        true,
		SupportsQueueGroups: true,
	}

	reg.RegisterWithCapabilities("test-dispatcher", mockBuilder, caps)

	assert.True(t, reg.Has("test-dispatcher"))
	retrievedCaps := reg.GetCapabilities("test-dispatcher")
	assert.Equal(t, "test-dispatcher", retrievedCaps.Name)
	assert.True(t, retrievedCaps.CrossProcess)
	assert.True(t, retrievedCaps.SupportsQueueGroups)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	reg := NewRegistry()
	caps := reg.GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.CrossProcess)
	assert.False(t, caps.SupportsQueueGroups)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-dispatcher", mockBuilder)

	cfg := &mockConfig{dispatcherSystem: "test-dispatcher"}
	ctx := context.Background()

	disp, err := reg.Build(ctx, cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, disp)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	_, err := reg.Build(ctx, nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestRegistry_Build_UnknownDispatcher(t *testing.T) {
	reg := NewRegistry()
	cfg := &mockConfig{dispatcherSystem: "unknown-dispatcher"}
	ctx := context.Background()

	_, err := reg.Build(ctx, cfg, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dispatcher")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()

	expectedErr := errors.New("builder error")
	builder := func(ctx context.Context, cfg Config, log logging.ServiceLogger) (Dispatcher, error) {
		return nil, expectedErr
	}

	reg.Register("failing-dispatcher", builder)
	cfg := &mockConfig{dispatcherSystem: "failing-dispatcher"}
	ctx := context.Background()

	_, err := reg.Build(ctx, cfg, nil)
	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
}

func TestRegistry_Has(t *testing.T) {
	reg := NewRegistry()

	assert.False(t, reg.Has("test-dispatcher"))

	reg.Register("test-dispatcher", mockBuilder)
	assert.True(t, reg.Has("test-dispatcher"))
	assert.False(t, reg.Has("other-dispatcher"))
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()

	assert.Empty(t, reg.Names())

	reg.Register("dispatcher1", mockBuilder)
	reg.Register("dispatcher2", mockBuilder)
	reg.Register("dispatcher3", mockBuilder)

	names := reg.Names()
	assert.Len(t, names, 3)
	assert.Contains(t, names, "dispatcher1")
	assert.Contains(t, names, "dispatcher2")
	assert.Contains(t, names, "dispatcher3")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				reg.Register("dispatcher", mockBuilder)
				reg.Has("dispatcher")
				reg.Names()
				reg.GetCapabilities("dispatcher")
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, reg.Has("dispatcher"))
}

func TestGlobalRegistry(t *testing.T) {
	assert.NotNil(t, DefaultRegistry)
}

func TestBuildWithDefaultRegistry(t *testing.T) {
	cfg := &mockConfig{dispatcherSystem: "nonexistent"}
	ctx := context.Background()

	_, err := Build(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestPackageLevelRegister(t *testing.T) {
	Register("test-pkg-dispatcher", mockBuilder)

	assert.True(t, DefaultRegistry.Has("test-pkg-dispatcher"))
}

func TestPackageLevelRegisterWithCapabilities(t *testing.T) {
	caps := Capabilities{
		Name:         "test-pkg-caps-dispatcher",
		CrossProcess: true,
	}

	RegisterWithCapabilities("test-pkg-caps-dispatcher", mockBuilder, caps)

	assert.True(t, DefaultRegistry.Has("test-pkg-caps-dispatcher"))
	retrievedCaps := DefaultRegistry.GetCapabilities("test-pkg-caps-dispatcher")
	assert.Equal(t, "test-pkg-caps-dispatcher", retrievedCaps.Name)
	assert.True(t, retrievedCaps.CrossProcess)
}

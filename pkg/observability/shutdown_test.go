package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestNewShutdownManagerDefaults(t *testing.T) {
	sm := NewShutdownManager(nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)
}

func TestShutdownRunsFuncsAndStopsServers(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()

	sm := NewShutdownManager(quietLogger(), time.Second, server)
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, int32(3), calls.Load())
	assert.ErrorIs(t, <-served, http.ErrServerClosed)
}

func TestShutdownCollectsErrors(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)
	closeErr := errors.New("close failed")
	sm.RegisterShutdownFunc(func(context.Context) error { return closeErr })
	sm.RegisterShutdownFunc(func(context.Context) error { return nil })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, closeErr)
}

func TestShutdownTimeout(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), 50*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	sm.RegisterShutdownFunc(func(context.Context) error {
		<-release
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestRecoverPanic(t *testing.T) {
	var recovered interface{}
	func() {
		defer RecoverPanic(quietLogger(), "test", func(r interface{}) { recovered = r })
		panic("boom")
	}()
	assert.Equal(t, "boom", recovered)

	called := false
	func() {
		defer RecoverPanic(quietLogger(), "test", func(interface{}) { called = true })
	}()
	assert.False(t, called)
}

package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"statwindow/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddStateStoreCheck(memory.NewMemoryStateStores(), time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["state_stores"])
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailingCheck(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") }, time.Second)
	h.AddCheck("noop", func(context.Context) error { return nil }, 0)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "connection refused", status.Checks["redis"])
	assert.Equal(t, "healthy", status.Checks["noop"])
	assert.False(t, h.IsReady(context.Background()))
}

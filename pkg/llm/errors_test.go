package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limit", errors.New("googleapi: Error 429: rate limit exceeded"), true},
		{"resource exhausted", errors.New("rpc error: resource exhausted"), true},
		{"bad key", errors.New("Error 401: API key not valid"), false},
		{"permission", errors.New("403 permission denied"), false},
		{"bad request", errors.New("400 invalid argument"), false},
		{"server error", errors.New("503 service unavailable"), true},
		{"unknown", errors.New("something odd happened"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			assert.Equal(t, tt.transient, IsTransient(classified))
			assert.True(t, errors.Is(classified, tt.err))
		})
	}
}

func TestClassifyContextErrors(t *testing.T) {
	assert.Equal(t, context.Canceled, Classify(context.Canceled))
	assert.False(t, IsTransient(context.Canceled))
}

func TestIsTransientUnclassifiedDefaults(t *testing.T) {
	assert.True(t, IsTransient(errors.New("plain error")))
	assert.False(t, IsTransient(ErrUnavailable))
}

func TestAvailabilityCache(t *testing.T) {
	provider := NewFakeProvider("ok")
	registry := NewRegistry(provider)
	cache := NewAvailabilityCache(registry, 0) // zero TTL: probe every call

	health := cache.Check(context.Background())
	assert.True(t, health.Available)

	provider.SetHealth(Health{Available: false, Reason: "down"})
	health = cache.Check(context.Background())
	assert.False(t, health.Available)
	assert.Equal(t, "down", health.Reason)
}

func TestRegistryReloadClosesPrevious(t *testing.T) {
	first := NewFakeProvider("a")
	second := NewFakeProvider("b")
	registry := NewRegistry(first)

	assert.NoError(t, registry.Reload(second))
	assert.Same(t, Provider(second), registry.Active())
	assert.Error(t, registry.Reload(nil))
}

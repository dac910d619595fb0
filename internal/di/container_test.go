package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zen/internal/config"
)

func TestBuildContainer(t *testing.T) {
	t.Setenv("ZEN_AUTH_JWT_SECRET", "di-test-secret")
	cfg, err := config.Load("")
	require.NoError(t, err)

	container, err := BuildContainer(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, container.Cleanup()) }()

	assert.NotNil(t, container.Contexts)
	assert.NotNil(t, container.Sessions)
	assert.NotNil(t, container.Store)
	assert.NotNil(t, container.Trail)
	assert.NotNil(t, container.Executor)
	assert.NotNil(t, container.Server)
	assert.NotNil(t, container.Metrics)
}

func TestBuildContainerRejectsBadPolicyPath(t *testing.T) {
	t.Setenv("ZEN_AUTH_JWT_SECRET", "di-test-secret")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Tier.PolicyPath = "/nonexistent/policies.yaml"

	_, err = BuildContainer(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tier policies")
}

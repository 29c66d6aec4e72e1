package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"civicmatch/internal/config"
)

func TestNewSelectsProvider(t *testing.T) {
	cfg := config.Default()

	p, err := New(cfg, Deps{})
	require.NoError(t, err)
	require.Equal(t, "stub", p.Name())

	cfg.Mode = "production"
	cfg.LLM.APIKey = "sk-ant-test"
	p, err = New(cfg, Deps{})
	require.NoError(t, err)
	require.Equal(t, "claude", p.Name())

	cfg.Mode = "fastapi"
	p, err = New(cfg, Deps{})
	require.NoError(t, err)
	require.Equal(t, "backend", p.Name())
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "oracle"
	_, err := New(cfg, Deps{})
	require.ErrorIs(t, err, ErrUnknownMode)

	cfg.Mode = config.ModeLLM
	cfg.LLM.APIKey = ""
	_, err = New(cfg, Deps{})
	require.Error(t, err)
}

func TestPickFamily(t *testing.T) {
	f, ok := pickFamily("CLIMATE", nil)
	require.True(t, ok)
	require.Equal(t, "climate-environment", f.ID)

	f, ok = pickFamily("potholes", nil)
	require.True(t, ok)
	require.True(t, f.generic())

	skipAll := func(string) bool { return true }
	_, ok = pickFamily("climate", skipAll)
	require.False(t, ok)
}

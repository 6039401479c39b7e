package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wine-identify/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c, err := config.Load()
	require.NoError(t, err)
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "wine.db")
	c.Routing.File = filepath.Join(t.TempDir(), "missing-routes.yaml")
	p := c.Providers[config.ProviderAnthropic]
	p.APIKey = "test-key"
	c.Providers[config.ProviderAnthropic] = p

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return c
}

func TestInitPipeline_Wires(t *testing.T) {
	testConfig(t)

	env, err := initPipeline(context.Background(), "identify")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Service)
	assert.NotNil(t, env.Actions)
	assert.NotNil(t, env.Sessions)
	assert.NotNil(t, env.Budget)
	assert.Equal(t, []string{config.ProviderAnthropic}, env.Registry.List())
	assert.NotEmpty(t, env.Router.Config().Tiers)

	ok, err := env.Store.IsCanonical(context.Background(), "ridge")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInitPipeline_StoreCacheBackend(t *testing.T) {
	c := testConfig(t)
	c.Cache.Backend = "store"

	env, err := initPipeline(context.Background(), "identify")
	require.NoError(t, err)
	env.Close()
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Confidence.Suggest = 0.95

	_, err := initPipeline(context.Background(), "identify")
	assert.Error(t, err)
}

func TestCheckCommand(t *testing.T) {
	testConfig(t)

	out, err := runCheck(t)
	require.NoError(t, err)
	assert.Contains(t, out, "config ok")
	assert.Contains(t, out, "fast")
}

func runCheck(t *testing.T) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	checkCmd.SetOut(&buf)
	t.Cleanup(func() { checkCmd.SetOut(nil) })
	err := checkCmd.RunE(checkCmd, nil)
	return buf.String(), err
}

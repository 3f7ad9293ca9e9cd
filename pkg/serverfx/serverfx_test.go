package serverfx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joeydtaylor/steeze-applink/pkg/core"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestListenAddr(t *testing.T) {
	opts := Options{ListenAddrEnv: "TEST_LISTEN_ADDR", DefaultListen: ":3000"}

	t.Setenv("TEST_LISTEN_ADDR", "")
	t.Setenv("PORT", "")
	assert.Equal(t, ":3000", listenAddr(opts))

	t.Setenv("PORT", "8080")
	assert.Equal(t, ":8080", listenAddr(opts))

	t.Setenv("TEST_LISTEN_ADDR", "127.0.0.1:9000")
	assert.Equal(t, "127.0.0.1:9000", listenAddr(opts))
}

func TestFileExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cert.pem")
	assert.False(t, fileExists(""))
	assert.False(t, fileExists(p))
	assert.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	assert.True(t, fileExists(p))
}

func TestProvideHandlersRunsRegistrars(t *testing.T) {
	hs := provideHandlers(handlerDeps{Registrars: []core.Registrar{
		func(hs *core.HandlerSet) { hs.Handle("a", nil) },
		func(hs *core.HandlerSet) { hs.Handle("b", nil) },
	}})
	assert.ElementsMatch(t, []string{"a", "b"}, hs.Names())
}

func TestProvideConfigLoadsManifest(t *testing.T) {
	t.Setenv("TEST_MANIFEST", filepath.Join("..", "..", "manifest.toml"))
	cfg, err := provideConfig(Options{ManifestEnv: "TEST_MANIFEST"}, zaptest.NewLogger(t))
	assert.NoError(t, err)
	assert.Len(t, cfg.AsyncRoutes(), 2)

	t.Setenv("TEST_MANIFEST", filepath.Join(t.TempDir(), "missing.toml"))
	_, err = provideConfig(Options{ManifestEnv: "TEST_MANIFEST"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	base := "admin: " + adminAddr + "\nasset_a: XLM\nasset_b: USDC\n"
	path := writeConfig(t, base+"log_level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, w.Get().LogLevel)

	var (
		mu     sync.Mutex
		levels []zapcore.Level
	)
	w.OnConfigUpdate(func(c Config) {
		mu.Lock()
		levels = append(levels, c.LogLevel)
		mu.Unlock()
	})

	// an invalid file is ignored
	require.NoError(t, os.WriteFile(path, []byte(base+"log_level: loud\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(base+"log_level: debug\n"), 0o644))

	require.Eventually(t, func() bool {
		return w.Get().LogLevel == zapcore.DebugLevel
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, levels)
	assert.Equal(t, zapcore.DebugLevel, levels[len(levels)-1])
}

func TestNewWatcher_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "asset_a: XLM\n")
	_, err := NewWatcher(context.Background(), path, nil)
	require.Error(t, err)
}

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/notifier/pkg/config"
)

func TestLoad(t *testing.T) {
	t.Run("parses env into struct", func(t *testing.T) {
		type parseConfig struct {
			Name    string        `env:"TEST_LOADER_NAME" envDefault:"fallback"`
			Timeout time.Duration `env:"TEST_LOADER_TIMEOUT" envDefault:"5s"`
		}

		t.Setenv("TEST_LOADER_NAME", "notifier")

		var cfg parseConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "notifier", cfg.Name)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("caches per type", func(t *testing.T) {
		type cachedConfig struct {
			Value string `env:"TEST_LOADER_CACHED" envDefault:"first"`
		}

		var first cachedConfig
		require.NoError(t, config.Load(&first))
		assert.Equal(t, "first", first.Value)

		// Changing the environment after the first load must not change the
		// cached configuration.
		t.Setenv("TEST_LOADER_CACHED", "second")

		var second cachedConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "first", second.Value)
	})

	t.Run("nil pointer", func(t *testing.T) {
		type nilConfig struct{}
		var cfg *nilConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})

	t.Run("required variable missing", func(t *testing.T) {
		type requiredConfig struct {
			Token string `env:"TEST_LOADER_REQUIRED,required"`
		}

		var cfg requiredConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		type mustConfig struct {
			Token string `env:"TEST_LOADER_MUST_REQUIRED,required"`
		}

		assert.Panics(t, func() {
			var cfg mustConfig
			config.MustLoad(&cfg)
		})
	})
}

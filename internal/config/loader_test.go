package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/readyroom/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.MaxSessions, convey.ShouldEqual, 1000)
				convey.So(cfg.CaptureWindowMS, convey.ShouldEqual, 2000)
				convey.So(cfg.ModelURL, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("READYROOM_ADDR", ":8080")
			_ = os.Setenv("READYROOM_MAX_SESSIONS", "5")
			_ = os.Setenv("READYROOM_CAPTURE_SAMPLE_RATE", "12.5")
			_ = os.Setenv("READYROOM_ROOMS_URL", "http://rooms.internal:8081")
			_ = os.Setenv("READYROOM_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MaxSessions, convey.ShouldEqual, 5)
				convey.So(cfg.CaptureSampleRate, convey.ShouldEqual, 12.5)
				convey.So(cfg.RoomsURL, convey.ShouldEqual, "http://rooms.internal:8081")
				convey.So(cfg.AllowedOrigins, convey.ShouldResemble, []string{"https://a.example.com", "https://b.example.com"})
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeConfigFile(t, `
# local development
addr: ":9090"
readiness_timeout_ms: 0
worker_count: 3
redis_addr: "localhost:6379"
`)
			_ = os.Setenv("READYROOM_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values merge over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.ReadinessTimeoutMS, convey.ShouldEqual, 0)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "localhost:6379")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			})

			convey.Convey("And env still wins over the file", func() {
				_ = os.Setenv("READYROOM_WORKER_COUNT", "7")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 7)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("READYROOM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the YAML is malformed", func() {
			_ = os.Setenv("READYROOM_CONFIG", writeConfigFile(t, "addr: [unclosed"))
			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a numeric env var is not a number", func() {
			_ = os.Setenv("READYROOM_MAX_SESSIONS", "lots")
			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestConfigValidation(t *testing.T) {
	convey.Convey("Given configs that break a rule", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":             func(c *config.Config) { c.Addr = "" },
			"zero sessions":          func(c *config.Config) { c.MaxSessions = 0 },
			"unknown log level":      func(c *config.Config) { c.LogLevel = "verbose" },
			"tiny capture window":    func(c *config.Config) { c.CaptureWindowMS = 10 },
			"zero sample rate":       func(c *config.Config) { c.CaptureSampleRate = 0 },
			"bad model url":          func(c *config.Config) { c.ModelURL = "not a url" },
			"speech url without key": func(c *config.Config) { c.SpeechURL = "https://speech.example.com" },
			"redis addr without port": func(c *config.Config) {
				c.RedisAddr = "localhost"
			},
		}

		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)

			convey.Convey("When validating with "+name, func() {
				err := cfg.Validate()

				convey.Convey("Then it is rejected as invalid", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}

		convey.Convey("When a speech url comes with a key", func() {
			cfg := config.New()
			cfg.SpeechURL = "https://speech.example.com"
			cfg.SpeechKey = "secret"

			convey.Convey("Then it is accepted", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, config.EnvPrefix) {
			_ = os.Unsetenv(key)
		}
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "readyroom.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

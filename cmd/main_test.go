package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/readyroom/internal/config"
	"github.com/okian/readyroom/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.ModelLoadLatencyMS = 1
	cfg.ReapAfterMS = 0
	cfg.WorkerCount = 1
	return cfg
}

func TestBuildService(t *testing.T) {
	convey.Convey("Given a default configuration", t, func() {
		ctx := context.Background()
		cfg := testConfig()

		convey.Convey("When the service is built", func() {
			svc, closeStore, err := buildService(ctx, cfg, logger.Nop())
			convey.So(err, convey.ShouldBeNil)
			defer closeStore()

			convey.Convey("Then it starts without room release", func() {
				convey.So(svc.Start(ctx), convey.ShouldBeNil)
				defer svc.Stop()
				stats := svc.GetStats()
				convey.So(stats["started"], convey.ShouldBeTrue)
				convey.So(stats["roomRelease"], convey.ShouldBeFalse)
			})
		})

		convey.Convey("When a rooms url is configured", func() {
			cfg.RoomsURL = "http://rooms.invalid"
			svc, closeStore, err := buildService(ctx, cfg, logger.Nop())
			convey.So(err, convey.ShouldBeNil)
			defer closeStore()
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			defer svc.Stop()

			convey.Convey("Then the release pool runs", func() {
				stats := svc.GetStats()
				convey.So(stats["roomRelease"], convey.ShouldBeTrue)
				convey.So(stats["workerCount"], convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When redis is configured", func() {
			mr := miniredis.RunT(t)
			cfg.RedisAddr = mr.Addr()

			svc, closeStore, err := buildService(ctx, cfg, logger.Nop())

			convey.Convey("Then the redis handoff store is connected", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(svc, convey.ShouldNotBeNil)
				closeStore()
			})
		})

		convey.Convey("When redis is unreachable", func() {
			mr := miniredis.RunT(t)
			cfg.RedisAddr = mr.Addr()
			mr.Close()

			_, _, err := buildService(ctx, cfg, logger.Nop())

			convey.Convey("Then building fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestRouter(t *testing.T) {
	convey.Convey("Given the assembled router", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		svc, closeStore, err := buildService(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		defer closeStore()
		h := newRouter(ctx, cfg, svc, logger.Nop())

		serve := func(method, path, body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(method, path, strings.NewReader(body))
			if body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			return w
		}

		convey.Convey("Then the docs and health routes are served", func() {
			convey.So(serve(http.MethodGet, "/healthz", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(serve(http.MethodGet, "/api-docs", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(serve(http.MethodGet, "/openapi.yaml", "").Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("When a session is opened before start", func() {
			w := serve(http.MethodPost, "/sessions", `{"room_id":"r-1","nickname":"mina"}`)
			convey.So(w.Code, convey.ShouldEqual, http.StatusServiceUnavailable)
		})

		convey.Convey("When the service is running", func() {
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			defer svc.Stop()

			w := serve(http.MethodPost, "/sessions", `{"room_id":"r-1","nickname":"mina","interviewer":"Jun"}`)

			convey.Convey("Then a session is opened and can be viewed", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)
				loc := w.Header().Get("Location")
				convey.So(loc, convey.ShouldStartWith, "/sessions/")

				view := serve(http.MethodGet, loc, "")
				convey.So(view.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(view.Body.String(), convey.ShouldContainSubstring, `"room_id":"r-1"`)

				left := serve(http.MethodDelete, loc, "")
				convey.So(left.Code, convey.ShouldEqual, http.StatusAccepted)
			})
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the metrics updaters", t, func() {
		convey.Convey("Then a system refresh does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then a service refresh does not panic", func() {
			svc, closeStore, err := buildService(context.Background(), testConfig(), logger.Nop())
			convey.So(err, convey.ShouldBeNil)
			defer closeStore()
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loops stop with their context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx)
				close(done)
			}()
			cancel()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("system metrics updater did not stop")
			}
		})
	})
}

package simulate

import (
	"bufio"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/readyroom/internal/adapters/http/api"
	service "github.com/okian/readyroom/internal/app"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := service.New(
		service.WithLogger(logger.Nop()),
		service.WithModelLoader(landmark.NewSimulatedLoader(landmark.WithLoadLatency(0), landmark.WithEstimateLatency(0))),
		service.WithCapture(300*time.Millisecond, 50),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	srv := httptest.NewServer(api.NewServer(svc, svc, api.WithLogger(logger.Nop())).Handler(context.Background()))
	t.Cleanup(func() {
		srv.Close()
		svc.Stop()
	})
	return srv
}

func testConfig(url string) *Config {
	return &Config{
		BaseURL:      url,
		Participants: 4,
		Rooms:        2,
		Workers:      2,
		Interviewer:  "Jun",
		FrameRate:    20,
		Timeout:      5 * time.Second,
		SessionLimit: 10 * time.Second,
	}
}

func TestRun(t *testing.T) {
	Convey("Given a running service", t, func() {
		srv := newTestServer(t)
		ctx := context.Background()

		Convey("When every participant starts", func() {
			cfg := testConfig(srv.URL)
			cfg.OutputFile = filepath.Join(t.TempDir(), "out", "results.jsonl")

			stats, err := Run(ctx, cfg)

			Convey("Then every session commits with the chosen interviewer", func() {
				So(err, ShouldBeNil)
				So(stats.Opened, ShouldEqual, 4)
				So(stats.Committed, ShouldEqual, 4)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.Starts, ShouldBeGreaterThanOrEqualTo, 4)
				So(stats.ReadyP95, ShouldBeGreaterThan, 0)
			})

			Convey("And one result line is written per participant", func() {
				f, err := os.Open(cfg.OutputFile)
				So(err, ShouldBeNil)
				defer f.Close()
				lines := 0
				scanner := bufio.NewScanner(f)
				for scanner.Scan() {
					var r Result
					So(json.Unmarshal(scanner.Bytes(), &r), ShouldBeNil)
					So(r.Outcome, ShouldEqual, OutcomeCommitted)
					lines++
				}
				So(lines, ShouldEqual, 4)
			})
		})

		Convey("When every participant leaves", func() {
			cfg := testConfig(srv.URL)
			cfg.LeaveRatio = 1

			stats, err := Run(ctx, cfg)

			Convey("Then every session ends in the lobby without a start", func() {
				So(err, ShouldBeNil)
				So(stats.Left, ShouldEqual, 4)
				So(stats.Committed, ShouldEqual, 0)
				So(stats.Starts, ShouldEqual, 0)
			})
		})
	})
}

func TestRunUnreachable(t *testing.T) {
	Convey("Given no service", t, func() {
		srv := httptest.NewServer(nil)
		url := srv.URL
		srv.Close()

		Convey("Then the health check fails the run", func() {
			_, err := Run(context.Background(), testConfig(url))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "health check")
		})
	})
}

func TestSummarize(t *testing.T) {
	Convey("Given mixed results", t, func() {
		results := []Result{
			{SessionID: "a", Outcome: OutcomeCommitted, Starts: 1, ReadyAfter: 10 * time.Millisecond, Duration: time.Second},
			{SessionID: "b", Outcome: OutcomeCommitted, Starts: 2, ReadyAfter: 30 * time.Millisecond, Duration: 3 * time.Second},
			{SessionID: "c", Outcome: OutcomeLeft, ReadyAfter: 20 * time.Millisecond, Duration: 2 * time.Second},
			{SessionID: "d", Outcome: OutcomeFailed, Duration: 4 * time.Second},
			{Outcome: OutcomeFailed, Error: "open: status 429"},
		}
		stats := &Stats{}
		summarize(results, stats)

		So(stats.Opened, ShouldEqual, 4)
		So(stats.Committed, ShouldEqual, 2)
		So(stats.Left, ShouldEqual, 1)
		So(stats.Failed, ShouldEqual, 2)
		So(stats.Starts, ShouldEqual, 3)
		So(stats.ReadyP50, ShouldEqual, 20*time.Millisecond)
		So(stats.ReadyP95, ShouldEqual, 30*time.Millisecond)
		So(stats.SessionP50, ShouldEqual, 2*time.Second)
		So(stats.SessionP95, ShouldEqual, 4*time.Second)
	})

	Convey("Given no samples", t, func() {
		So(percentile(nil, 95), ShouldEqual, time.Duration(0))
	})
}

func TestEventsURL(t *testing.T) {
	Convey("Given base URLs", t, func() {
		So(newHTTPClient("http://localhost:9080/", time.Second).EventsURL("s1"), ShouldEqual, "ws://localhost:9080/sessions/s1/events")
		So(newHTTPClient("https://rr.example.com", time.Second).EventsURL("s1"), ShouldEqual, "wss://rr.example.com/sessions/s1/events")
	})
}

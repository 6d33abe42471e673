package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/readyroom/internal/adapters/camera"
	"github.com/okian/readyroom/internal/adapters/handoff"
	"github.com/okian/readyroom/internal/adapters/http/api"
	service "github.com/okian/readyroom/internal/app"
	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/internal/domain/readiness"
	"github.com/okian/readyroom/internal/domain/session"
	"github.com/okian/readyroom/internal/domain/video"
	"github.com/okian/readyroom/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type mockDependencies struct {
	mu sync.Mutex

	view        orchestrator.View
	err         error
	handoff     session.Handoff
	interviewer string
	frames      []video.Frame
	reasons     []string
	calls       []string
	notices     chan orchestrator.Notice
}

func newMockDependencies() *mockDependencies {
	return &mockDependencies{
		view: orchestrator.View{
			SessionID: "s-1",
			RoomID:    "room-7",
			Phase:     orchestrator.AwaitingReadiness,
			Readiness: readiness.Snapshot{
				Camera:     readiness.Ready,
				Model:      readiness.Initializing,
				Credential: readiness.Ready,
			},
		},
	}
}

func (m *mockDependencies) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *mockDependencies) OpenSession(_ context.Context, roomID, member, interviewer string) (orchestrator.View, error) {
	if err := m.record("open:" + roomID + ":" + member + ":" + interviewer); err != nil {
		return orchestrator.View{}, err
	}
	return m.view, nil
}

func (m *mockDependencies) View(_ context.Context, id string) (orchestrator.View, error) {
	if err := m.record("view:" + id); err != nil {
		return orchestrator.View{}, err
	}
	v := m.view
	v.Interviewer = m.interviewer
	return v, nil
}

func (m *mockDependencies) SelectInterviewer(_ context.Context, id, name string) error {
	if err := m.record("interviewer:" + id); err != nil {
		return err
	}
	m.interviewer = name
	return nil
}

func (m *mockDependencies) StartCapture(_ context.Context, id string) error {
	return m.record("start:" + id)
}

func (m *mockDependencies) Retry(_ context.Context, id string) error {
	return m.record("retry:" + id)
}

func (m *mockDependencies) Leave(_ context.Context, id string) error {
	return m.record("leave:" + id)
}

func (m *mockDependencies) Handoff(_ context.Context, id string) (session.Handoff, error) {
	if err := m.record("handoff:" + id); err != nil {
		return session.Handoff{}, err
	}
	return m.handoff, nil
}

func (m *mockDependencies) PushFrame(_ context.Context, id string, f video.Frame) error {
	if err := m.record("frame:" + id); err != nil {
		return err
	}
	m.mu.Lock()
	m.frames = append(m.frames, f)
	m.mu.Unlock()
	return nil
}

func (m *mockDependencies) ReportCameraError(_ context.Context, id, reason string) error {
	if err := m.record("camera_error:" + id); err != nil {
		return err
	}
	m.mu.Lock()
	m.reasons = append(m.reasons, reason)
	m.mu.Unlock()
	return nil
}

func (m *mockDependencies) Subscribe(_ context.Context, id string) (<-chan orchestrator.Notice, func(), error) {
	if err := m.record("subscribe:" + id); err != nil {
		return nil, nil, err
	}
	return m.notices, func() {}, nil
}

type mockStats struct{}

func (mockStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true, "sessions": 2}
}

func do(h http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestServer_Sessions(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newMockDependencies()
		h := api.NewServer(deps, mockStats{}).Handler(context.Background())

		Convey("When a session is opened", func() {
			w := do(h, http.MethodPost, "/sessions", "application/json",
				[]byte(`{"room_id":"room-7","nickname":"mina","interviewer":"Jun"}`))

			Convey("Then it returns 201 with the view", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(w.Header().Get("Location"), ShouldEqual, "/sessions/s-1")
				body := decodeBody(w)
				So(body["session_id"], ShouldEqual, "s-1")
				So(body["phase"], ShouldEqual, "awaiting_readiness")
				So(body["camera"], ShouldEqual, "ready")
				So(body["model"], ShouldEqual, "initializing")
				So(deps.calls, ShouldContain, "open:room-7:mina:Jun")
			})
		})

		Convey("When the open request misses a nickname", func() {
			w := do(h, http.MethodPost, "/sessions", "application/json", []byte(`{"room_id":"room-7"}`))

			Convey("Then it is rejected without reaching the service", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody(w)["code"], ShouldEqual, "bad_request")
				So(deps.calls, ShouldBeEmpty)
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(h, http.MethodPost, "/sessions", "application/json", []byte(`{`))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the service is full", func() {
			deps.err = service.ErrTooManySessions
			w := do(h, http.MethodPost, "/sessions", "application/json",
				[]byte(`{"room_id":"room-7","nickname":"mina"}`))
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decodeBody(w)["code"], ShouldEqual, "backpressure")
		})

		Convey("When the interviewer is selected", func() {
			w := do(h, http.MethodPut, "/sessions/s-1/interviewer", "application/json", []byte(`{"interviewer":"Jun"}`))

			Convey("Then the updated view is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["interviewer"], ShouldEqual, "Jun")
			})
		})

		Convey("When start is requested", func() {
			w := do(h, http.MethodPost, "/sessions/s-1/start", "", nil)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(decodeBody(w)["status"], ShouldEqual, "capturing")
			So(deps.calls, ShouldContain, "start:s-1")
		})

		Convey("When start is requested before readiness", func() {
			deps.err = orchestrator.ErrNotReady
			w := do(h, http.MethodPost, "/sessions/s-1/start", "", nil)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decodeBody(w)["code"], ShouldEqual, "not_ready")
		})

		Convey("When retry has nothing to retry", func() {
			deps.err = orchestrator.ErrNothingToRetry
			w := do(h, http.MethodPost, "/sessions/s-1/retry", "", nil)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decodeBody(w)["code"], ShouldEqual, "nothing_to_retry")
		})

		Convey("When the participant leaves", func() {
			w := do(h, http.MethodDelete, "/sessions/s-1", "", nil)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(decodeBody(w)["status"], ShouldEqual, "leaving")
		})

		Convey("When an unknown session is viewed", func() {
			deps.err = service.ErrSessionNotFound
			w := do(h, http.MethodGet, "/sessions/nope", "", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeBody(w)["code"], ShouldEqual, "not_found")
		})

		Convey("When the handoff exists", func() {
			deps.handoff = session.Handoff{
				SessionID:   "s-1",
				Interviewer: "Jun",
				NextProcess: "interview",
				Speech:      &credential.Credential{Token: "tok", Region: "eastus"},
			}
			w := do(h, http.MethodGet, "/sessions/s-1/handoff", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decodeBody(w)
			So(body["interviewer"], ShouldEqual, "Jun")
			speech, ok := body["speech"].(map[string]interface{})
			So(ok, ShouldBeTrue)
			So(speech["token"], ShouldEqual, "tok")
		})

		Convey("When the handoff is not published yet", func() {
			deps.err = handoff.ErrNotFound
			w := do(h, http.MethodGet, "/sessions/s-1/handoff", "", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServer_Frames(t *testing.T) {
	Convey("Given an API server with a small frame limit", t, func() {
		deps := newMockDependencies()
		h := api.NewServer(deps, mockStats{}, api.WithMaxFrameBytes(16)).Handler(context.Background())

		Convey("When a gray8 frame is pushed", func() {
			req := httptest.NewRequest(http.MethodPost, "/sessions/s-1/frames", bytes.NewReader(make([]byte, 12)))
			req.Header.Set("Content-Type", "application/octet-stream")
			req.Header.Set("X-Frame-Width", "4")
			req.Header.Set("X-Frame-Height", "3")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			Convey("Then it is accepted with its geometry", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.frames, ShouldHaveLength, 1)
				So(deps.frames[0].Encoding, ShouldEqual, video.EncodingGray8)
				So(deps.frames[0].Width, ShouldEqual, 4)
				So(deps.frames[0].Height, ShouldEqual, 3)
			})
		})

		Convey("When a gray8 frame lacks its geometry", func() {
			w := do(h, http.MethodPost, "/sessions/s-1/frames", "application/octet-stream", make([]byte, 12))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the frame exceeds the limit", func() {
			w := do(h, http.MethodPost, "/sessions/s-1/frames", "image/jpeg", make([]byte, 64))
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(decodeBody(w)["code"], ShouldEqual, "frame_too_large")
		})

		Convey("When the content type is unsupported", func() {
			w := do(h, http.MethodPost, "/sessions/s-1/frames", "text/plain", []byte("hi"))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body is empty", func() {
			w := do(h, http.MethodPost, "/sessions/s-1/frames", "image/png", nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the camera has no stream", func() {
			deps.err = camera.ErrNoStream
			w := do(h, http.MethodPost, "/sessions/s-1/frames", "image/png", []byte{1, 2, 3})
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decodeBody(w)["code"], ShouldEqual, "no_stream")
		})

		Convey("When a camera error is reported", func() {
			w := do(h, http.MethodPost, "/sessions/s-1/camera-error", "application/json", []byte(`{"reason":"permission_denied"}`))
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(deps.reasons, ShouldResemble, []string{"permission_denied"})
		})

		Convey("When the camera error reason is unknown", func() {
			deps.err = camera.ErrUnknownReason
			w := do(h, http.MethodPost, "/sessions/s-1/camera-error", "application/json", []byte(`{"reason":"gremlins"}`))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestServer_Operational(t *testing.T) {
	Convey("Given an API server", t, func() {
		h := api.NewServer(newMockDependencies(), mockStats{}).Handler(context.Background())

		Convey("Health reports ok", func() {
			w := do(h, http.MethodGet, "/healthz", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["status"], ShouldEqual, "ok")
		})

		Convey("Stats come from the provider", func() {
			w := do(h, http.MethodGet, "/stats", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["sessions"], ShouldEqual, 2.0)
		})

		Convey("Metrics are exposed in the prometheus format", func() {
			w := do(h, http.MethodGet, "/metrics", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/plain")
		})
	})
}

func TestServer_RateLimit(t *testing.T) {
	Convey("Given a server limited to two session requests per minute", t, func() {
		h := api.NewServer(newMockDependencies(), mockStats{}, api.WithRateLimit(2)).Handler(context.Background())

		Convey("The third request from one client is rejected", func() {
			codes := make([]int, 0, 3)
			for i := 0; i < 3; i++ {
				codes = append(codes, do(h, http.MethodGet, "/sessions/s-1", "", nil).Code)
			}
			So(codes[0], ShouldEqual, http.StatusOK)
			So(codes[1], ShouldEqual, http.StatusOK)
			So(codes[2], ShouldEqual, http.StatusTooManyRequests)
		})

		Convey("Health is not limited", func() {
			for i := 0; i < 5; i++ {
				So(do(h, http.MethodGet, "/healthz", "", nil).Code, ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestServer_Events(t *testing.T) {
	Convey("Given a server streaming notices", t, func() {
		deps := newMockDependencies()
		deps.notices = make(chan orchestrator.Notice, 2)
		srv := httptest.NewServer(api.NewServer(deps, mockStats{}).Handler(context.Background()))
		defer srv.Close()
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/s-1/events"

		Convey("When the session emits a notice and finishes", func() {
			deps.notices <- orchestrator.Notice{
				SessionID: "s-1",
				Kind:      orchestrator.NoticeNavigate,
				Phase:     orchestrator.Cancelled,
				Path:      "/lobby",
				At:        time.Now(),
			}
			close(deps.notices)

			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			So(err, ShouldBeNil)
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

			Convey("Then the client reads it and then a normal close", func() {
				_, msg, err := conn.ReadMessage()
				So(err, ShouldBeNil)
				var got map[string]interface{}
				So(json.Unmarshal(msg, &got), ShouldBeNil)
				So(got["kind"], ShouldEqual, "navigate")
				So(got["path"], ShouldEqual, "/lobby")

				_, _, err = conn.ReadMessage()
				So(websocket.IsCloseError(err, websocket.CloseNormalClosure), ShouldBeTrue)
			})
		})

		Convey("When the session is unknown", func() {
			deps.err = service.ErrSessionNotFound
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			So(err, ShouldNotBeNil)
			So(resp, ShouldNotBeNil)
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServer_EventsOrigin(t *testing.T) {
	Convey("Given a server with an origin allow list", t, func() {
		deps := newMockDependencies()
		deps.notices = make(chan orchestrator.Notice)
		srv := httptest.NewServer(api.NewServer(deps, mockStats{},
			api.WithAllowedOrigins([]string{"https://app.example.com"})).Handler(context.Background()))
		defer srv.Close()
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/s-1/events"

		Convey("A foreign origin is refused", func() {
			header := http.Header{"Origin": []string{"https://evil.example.com"}}
			_, resp, err := websocket.DefaultDialer.Dial(url, header)
			So(err, ShouldNotBeNil)
			So(resp.StatusCode, ShouldEqual, http.StatusForbidden)
		})
	})
}

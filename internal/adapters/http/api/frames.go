package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/readyroom/internal/adapters/camera"
	"github.com/okian/readyroom/internal/domain/video"
)

const defaultMaxFrameBytes = 2 << 20

// FrameDependencies feeds the per-session camera.
type FrameDependencies interface {
	PushFrame(ctx context.Context, id string, f video.Frame) error
	ReportCameraError(ctx context.Context, id, reason string) error
}

// FramesHandler accepts camera frames and camera errors from the browser.
type FramesHandler struct {
	deps     FrameDependencies
	maxBytes int64
}

// NewFramesHandler creates a new frames handler.
func NewFramesHandler(deps FrameDependencies) *FramesHandler {
	return &FramesHandler{deps: deps, maxBytes: defaultMaxFrameBytes}
}

type cameraErrorRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// HandleFrame handles POST /sessions/{id}/frames. The body is the frame:
// image/jpeg, image/png, or application/octet-stream for raw gray8 with
// X-Frame-Width and X-Frame-Height.
func (h *FramesHandler) HandleFrame(w http.ResponseWriter, r *http.Request) {
	const op = "api.push_frame"
	frame, err := h.readFrame(w, r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.PushFrame(r.Context(), chi.URLParam(r, "id"), frame); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *FramesHandler) readFrame(w http.ResponseWriter, r *http.Request) (video.Frame, error) {
	var f video.Frame
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return f, fmt.Errorf("content type: %w", err)
	}
	switch mediaType {
	case "image/jpeg":
		f.Encoding = video.EncodingJPEG
	case "image/png":
		f.Encoding = video.EncodingPNG
	case "application/octet-stream":
		f.Encoding = video.EncodingGray8
		if f.Width, err = strconv.Atoi(r.Header.Get("X-Frame-Width")); err != nil {
			return f, fmt.Errorf("X-Frame-Width: %w", err)
		}
		if f.Height, err = strconv.Atoi(r.Header.Get("X-Frame-Height")); err != nil {
			return f, fmt.Errorf("X-Frame-Height: %w", err)
		}
	default:
		return f, fmt.Errorf("unsupported content type %q", mediaType)
	}

	f.Data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return f, camera.ErrFrameTooLarge
		}
		return f, err
	}
	if len(f.Data) == 0 {
		return f, camera.ErrInvalidFrame
	}
	return f, nil
}

// HandleCameraError handles POST /sessions/{id}/camera-error.
func (h *FramesHandler) HandleCameraError(w http.ResponseWriter, r *http.Request) {
	const op = "api.camera_error"
	var req cameraErrorRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.ReportCameraError(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "reported"})
}

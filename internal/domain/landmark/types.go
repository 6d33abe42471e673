// Package landmark wraps a face-landmark model over a live video source and
// performs bounded, one-shot face captures.
package landmark

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/readyroom/internal/domain/video"
)

// Keypoint is one facial landmark in frame pixel coordinates.
type Keypoint struct {
	Name string  `json:"name,omitempty"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

// Box is the face bounding box in pixels.
type Box struct {
	XMin   float64 `json:"x_min"`
	YMin   float64 `json:"y_min"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Face is one detected face.
type Face struct {
	Box       Box        `json:"box"`
	Keypoints []Keypoint `json:"keypoints"`
	Score     float64    `json:"score"`
}

func (f Face) clone() Face {
	out := f
	out.Keypoints = append([]Keypoint(nil), f.Keypoints...)
	return out
}

// Model is a loaded landmark detector. Close releases any compute resources
// the model holds.
type Model interface {
	Estimate(ctx context.Context, frame video.Frame) ([]Face, error)
	Close() error
}

// Loader constructs a Model. Load errors wrap ErrModelLoad.
type Loader interface {
	Load(ctx context.Context) (Model, error)
}

// Capture is the outcome of one bounded capture attempt. An empty capture
// means no face was found before the window elapsed.
type Capture struct {
	Faces    []Face
	FrameSeq uint64
	At       time.Time
}

// Empty reports whether the capture found no face.
func (c Capture) Empty() bool { return len(c.Faces) == 0 }

// FaceSnapshot is the immutable result of a successful capture.
type FaceSnapshot struct {
	faces      []Face
	frameSeq   uint64
	capturedAt time.Time
}

// NewSnapshot freezes a non-empty capture.
func NewSnapshot(c Capture) (*FaceSnapshot, error) {
	if c.Empty() {
		return nil, ErrEmptyCapture
	}
	faces := make([]Face, len(c.Faces))
	for i, f := range c.Faces {
		faces[i] = f.clone()
	}
	return &FaceSnapshot{faces: faces, frameSeq: c.FrameSeq, capturedAt: c.At}, nil
}

// Faces returns a copy of the captured faces.
func (s *FaceSnapshot) Faces() []Face {
	out := make([]Face, len(s.faces))
	for i, f := range s.faces {
		out[i] = f.clone()
	}
	return out
}

func (s *FaceSnapshot) FrameSeq() uint64      { return s.frameSeq }
func (s *FaceSnapshot) CapturedAt() time.Time { return s.capturedAt }

type snapshotJSON struct {
	Faces      []Face    `json:"faces"`
	FrameSeq   uint64    `json:"frame_seq"`
	CapturedAt time.Time `json:"captured_at"`
}

// MarshalJSON implements json.Marshaler.
func (s *FaceSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Faces: s.faces, FrameSeq: s.frameSeq, CapturedAt: s.capturedAt})
}

// UnmarshalJSON implements json.Unmarshaler. Only meant for decoding into a
// fresh value, e.g. when reading a handoff back from a store.
func (s *FaceSnapshot) UnmarshalJSON(b []byte) error {
	var v snapshotJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if len(v.Faces) == 0 {
		return ErrEmptyCapture
	}
	s.faces, s.frameSeq, s.capturedAt = v.Faces, v.FrameSeq, v.CapturedAt
	return nil
}

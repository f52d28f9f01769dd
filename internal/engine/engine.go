// Package engine wraps the ONNX detector and embedder behind the
// process-wide engine mutex spec'd for C1: the models are treated as
// potentially non-reentrant, so every call — direct or nested through a
// higher-level component that already holds the lock — flows through a
// single held-token gate.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/fd-attendance/internal/apperr"
	"github.com/your-org/fd-attendance/internal/config"
	"github.com/your-org/fd-attendance/internal/vision"
)

// Held is a capability token proving the caller already owns the engine
// mutex. It carries no state; its only purpose is to make "I am allowed
// to call into C1 without re-locking" a type-checked fact instead of a
// convention. Obtain one via Engine.Lock; release it via Engine.Unlock.
// Nested callers that are handed a Held by their caller must not lock
// again — stdlib sync.Mutex is not reentrant, so doing so deadlocks.
type Held struct{ _ struct{} }

// Box is a detected face in image pixel coordinates.
type Box struct {
	X, Y, W, H float64
	Landmarks  [5][2]float64
	Score      float64
}

// Engine is the C1 face model adapter: detect + embed, gated by a single
// process-wide mutex (spec §4.1, §5's "engine mutex EM").
type Engine struct {
	mu       sync.Mutex
	detector *vision.Detector
	embedder *vision.Embedder
	minShort int // upscale target: detection inputs are upscaled so min(h,w) >= this
}

// New loads the detection and embedding ONNX sessions described by cfg.
func New(cfg config.VisionConfig) (*Engine, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	newOpts := func() (*ort.SessionOptions, error) {
		opts, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("create session options: %w", err)
		}
		if cfg.IntraOpThreads > 0 {
			if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
				opts.Destroy()
				return nil, fmt.Errorf("set intra_op_threads: %w", err)
			}
		}
		if cfg.InterOpThreads > 0 {
			if err := opts.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
				opts.Destroy()
				return nil, fmt.Errorf("set inter_op_threads: %w", err)
			}
		}
		return opts, nil
	}

	slog.Info("loading detection model", "path", detPath)
	detOpts, err := newOpts()
	if err != nil {
		return nil, err
	}
	det, err := vision.NewDetector(detPath, float32(cfg.DetectionThreshold), detOpts)
	detOpts.Destroy()
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	embOpts, err := newOpts()
	if err != nil {
		det.Close()
		return nil, err
	}
	emb, err := vision.NewEmbedder(embPath, embOpts)
	embOpts.Destroy()
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	minShort := cfg.MinDetectSide
	if minShort <= 0 {
		minShort = 480
	}

	return &Engine{detector: det, embedder: emb, minShort: minShort}, nil
}

func (e *Engine) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}

// Lock acquires the engine mutex and returns a token proving it. Callers
// that will make several C1 calls in sequence (e.g. C9 recognizing every
// box in one frame) should Lock once and pass the Held token down rather
// than locking per-call.
func (e *Engine) Lock(ctx context.Context) Held {
	e.mu.Lock()
	return Held{}
}

// Unlock releases the mutex acquired by Lock. Must be called exactly once
// per Lock, typically via defer.
func (e *Engine) Unlock(Held) {
	e.mu.Unlock()
}

// WithLock runs fn while holding the engine mutex, handing it the token.
// This is the normal entry point: C8's detect+embed and C9's per-frame
// recognize loop each run all their C1 calls inside one WithLock, without
// re-entering the mutex for each box. Lock/Unlock make the same single
// acquisition for callers that cannot wrap their work in a closure.
func (e *Engine) WithLock(ctx context.Context, fn func(h Held) error) error {
	h := e.Lock(ctx)
	defer e.Unlock(h)
	return fn(h)
}

// Detect runs face detection against a decoded image. Input images whose
// shortest side is below minShort are upscaled first; resulting boxes are
// rescaled back into the original image's coordinate system. Returns an
// empty slice (not an error) when no face is found. Requires an engine
// mutex token.
func (e *Engine) Detect(_ Held, img image.Image) ([]Box, error) {
	work, scale := vision.UpscaleWhole(img, e.minShort)
	wBounds := work.Bounds()
	workW, workH := wBounds.Dx(), wBounds.Dy()

	detW, detH := e.detector.InputSize()
	input := vision.PreprocessForDetection(work, detW, detH)

	raw, err := e.detector.Detect(input, workW, workH)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelError, "detect faces", err)
	}

	boxes := make([]Box, 0, len(raw))
	for _, d := range raw {
		b := Box{
			X:     float64(d.BBox[0]) / scale,
			Y:     float64(d.BBox[1]) / scale,
			W:     float64(d.BBox[2]-d.BBox[0]) / scale,
			H:     float64(d.BBox[3]-d.BBox[1]) / scale,
			Score: float64(d.Confidence),
		}
		for i, lm := range d.Landmarks {
			b.Landmarks[i] = [2]float64{float64(lm[0]) / scale, float64(lm[1]) / scale}
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}

// Embed crops the face described by box out of img (a plain box crop;
// no landmark alignment is done), then extracts a unit-length embedding. Requires an engine mutex token.
func (e *Engine) Embed(_ Held, img image.Image, box Box) ([]float32, error) {
	bbox := [4]float32{float32(box.X), float32(box.Y), float32(box.X + box.W), float32(box.Y + box.H)}
	crop := vision.CropFace(img, bbox, 0.0)
	if crop == nil {
		return nil, apperr.New(apperr.ModelError, "degenerate crop region")
	}

	embW, embH := e.embedder.InputSize()
	input := vision.PreprocessForEmbedding(crop, embW, embH)

	vec, err := e.embedder.Extract(input)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelError, "extract embedding", err)
	}
	return vec, nil
}

// CropForEnroll crops the face described by box out of img with the 30%
// margin and square-resize that enrollment photos use, grounded on
// register_db.py's crop_face_image. It does not require the engine
// mutex: it touches no ONNX session.
func CropForEnroll(img image.Image, box Box, size int) []byte {
	bbox := [4]float32{float32(box.X), float32(box.Y), float32(box.X + box.W), float32(box.Y + box.H)}
	crop := vision.CropFace(img, bbox, 0.30)
	if crop == nil {
		return nil
	}
	square := vision.SquareResize(crop, size)
	return vision.EncodeJPEG(square, 92)
}

// DecodeImage decodes JPEG or PNG bytes into an image.Image.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationError, "decode image", err)
	}
	return img, nil
}

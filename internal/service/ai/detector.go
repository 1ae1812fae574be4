package ai

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/zpskt/keen/internal/codec"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
)

// CandidateFloor drops network outputs too weak to be worth reporting.
const CandidateFloor = 0.05

// Detector runs an SSD-style OpenCV DNN. It is not reentrant; share it
// through engine.Serialize.
type Detector struct {
	net        gocv.Net
	modelPath  string
	configPath string
	labels     map[int]string
	logger     *logger.Logger
}

// NewDetector loads the network described by cfg.
func NewDetector(cfg config.ModelConfig, log *logger.Logger) (*Detector, error) {
	d := &Detector{
		modelPath:  cfg.Path,
		configPath: cfg.ConfigPath,
		labels:     cfg.Labels,
		logger:     log,
	}
	if err := d.initializeNet(); err != nil {
		return nil, err
	}
	return d, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (d *Detector) initializeNet() error {
	if _, err := os.Stat(d.modelPath); os.IsNotExist(err) {
		return errors.Errorf("model file not found: %s", d.modelPath)
	}

	if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
		return errors.Errorf("config file not found: %s", d.configPath)
	}

	net := gocv.ReadNet(d.modelPath, d.configPath)
	if net.Empty() {
		return errors.New("failed to load network")
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return errors.New("failed to set preferable backend or target")
	}

	d.net = net
	d.logger.Info("Detection network initialized from %s", d.modelPath)
	return nil
}

// Classify implements engine.Classifier. The image is packed RGB.
func (d *Detector) Classify(_ context.Context, img *codec.Image) ([]model.Candidate, error) {
	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.Pix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to wrap image")
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("image is empty")
	}

	// Input is already RGB, so no channel swap.
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Rows of [batch_id, class_id, confidence, x1, y1, x2, y2], coordinates normalized.
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols, height := float64(img.Width), float64(img.Height)
	var candidates []model.Candidate
	for i := 0; i < rows.Rows(); i++ {
		confidence := float64(rows.GetFloatAt(i, 2))
		if confidence < CandidateFloor {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		candidates = append(candidates, model.Candidate{
			ClassID:    classID,
			Label:      d.label(classID),
			Confidence: confidence,
			Box: model.BBox{
				X1: float64(rows.GetFloatAt(i, 3)) * cols,
				Y1: float64(rows.GetFloatAt(i, 4)) * height,
				X2: float64(rows.GetFloatAt(i, 5)) * cols,
				Y2: float64(rows.GetFloatAt(i, 6)) * height,
			},
		})
	}

	return candidates, nil
}

// Annotate draws box and label on a JPEG and returns the re-encoded JPEG.
func (d *Detector) Annotate(jpeg []byte, box model.BBox, label string) ([]byte, error) {
	red := color.RGBA{R: 255, G: 0, B: 0, A: 0}

	mat, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	defer mat.Close()

	rect := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2))
	if err := gocv.Rectangle(&mat, rect, red, 2); err != nil {
		return nil, errors.Wrap(err, "failed to draw rectangle")
	}
	if err := gocv.PutText(&mat, label, image.Pt(rect.Min.X, rect.Min.Y-5), gocv.FontHersheySimplex, 0.5, red, 1); err != nil {
		return nil, errors.Wrap(err, "failed to draw text")
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode image")
	}
	defer buf.Close()

	annotated := make([]byte, len(buf.GetBytes()))
	copy(annotated, buf.GetBytes())
	return annotated, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	return d.net.Close()
}

func (d *Detector) label(classID int) string {
	if name, ok := d.labels[classID]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", classID)
}

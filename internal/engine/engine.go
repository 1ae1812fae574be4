// Package engine turns raw classifier output into alert decisions.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/zpskt/keen/internal/codec"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/model"
)

// ErrClassifier marks an inference failure or timeout. Callers treat the
// frame as negative and carry on.
var ErrClassifier = errors.New("classifier failure")

// Classifier is the opaque model: one image in, zero or more candidates out.
type Classifier interface {
	Classify(ctx context.Context, img *codec.Image) ([]model.Candidate, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, img *codec.Image) ([]model.Candidate, error)

func (f ClassifierFunc) Classify(ctx context.Context, img *codec.Image) ([]model.Candidate, error) {
	return f(ctx, img)
}

// Serialize guards a non-reentrant classifier so only one call runs at a
// time across all sessions. Waiting for the guard honors ctx.
func Serialize(c Classifier) Classifier {
	return &serialized{inner: c, sem: semaphore.NewWeighted(1)}
}

type serialized struct {
	inner Classifier
	sem   *semaphore.Weighted
}

func (s *serialized) Classify(ctx context.Context, img *codec.Image) ([]model.Candidate, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return s.inner.Classify(ctx, img)
}

// Decision is the outcome of scoring one frame.
type Decision struct {
	Positive bool
	// Confidence of the strongest alert-class candidate, positive or not.
	Confidence float64
	// Box is set only when Positive.
	Box *model.BBox
	// Objects counts candidates above the base threshold by label.
	Objects map[string]int
}

// ObjectNames returns the detected labels in sorted order.
func (d Decision) ObjectNames() []string {
	names := make([]string, 0, len(d.Objects))
	for name := range d.Objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Result attributes the decision to the frame it was scored on.
func (d Decision) Result(f model.Frame) model.DetectionResult {
	return model.DetectionResult{
		Positive:         d.Positive,
		Confidence:       d.Confidence,
		Box:              d.Box,
		FrameTimestampMs: f.TimestampMs,
		SourceID:         f.SourceID,
	}
}

// Engine applies the alert policy on top of a Classifier.
type Engine struct {
	classifier Classifier
	threshold  float64
	escalation float64
	alertClass int
	labels     map[int]string
	timeout    time.Duration
}

// New builds an Engine. The classifier is used as is; wrap it with Serialize
// when it is shared and not safe for concurrent use.
func New(c Classifier, cfg config.DetectionConfig, labels map[int]string) *Engine {
	return &Engine{
		classifier: c,
		threshold:  cfg.Threshold,
		escalation: cfg.EscalationThreshold,
		alertClass: cfg.AlertClass,
		labels:     labels,
		timeout:    cfg.InferenceTimeout,
	}
}

// Score runs the classifier on img and decides. A call that outlives the
// inference timeout is reported as ErrClassifier; the classifier itself is
// left to finish in the background.
func (e *Engine) Score(ctx context.Context, img *codec.Image) (Decision, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type outcome struct {
		candidates []model.Candidate
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		candidates, err := e.classifier.Classify(ctx, img)
		done <- outcome{candidates, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return Decision{}, errors.Wrapf(ErrClassifier, "%v", out.err)
		}
		return e.Decide(out.candidates), nil
	case <-ctx.Done():
		return Decision{}, errors.Wrapf(ErrClassifier, "%v", ctx.Err())
	}
}

// Decide picks the strongest alert-class candidate and calls it positive only
// when its confidence is strictly above the threshold.
func (e *Engine) Decide(candidates []model.Candidate) Decision {
	d := Decision{Objects: make(map[string]int)}

	var best *model.Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.Confidence > e.threshold {
			d.Objects[e.label(c)]++
		}
		if c.ClassID != e.alertClass {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}

	if best == nil {
		return d
	}
	d.Confidence = best.Confidence
	if best.Confidence > e.threshold {
		d.Positive = true
		box := best.Box
		d.Box = &box
	}
	return d
}

// Escalate reports whether a decision clears the stricter threshold that
// gates persistence and external notification.
func (e *Engine) Escalate(d Decision) bool {
	return d.Positive && d.Confidence > e.escalation
}

func (e *Engine) label(c *model.Candidate) string {
	if c.Label != "" {
		return c.Label
	}
	if name, ok := e.labels[c.ClassID]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", c.ClassID)
}

// Sampler decides which frames of a session are scored.
type Sampler struct {
	Interval int
}

// ShouldScore reports whether the frame at 0-based index is scored.
func (s Sampler) ShouldScore(index int64) bool {
	if s.Interval <= 1 {
		return true
	}
	return index%int64(s.Interval) == 0
}

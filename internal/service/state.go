package service

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// State is the position of a session in its frame loop.
type State int32

const (
	StateAwaitingFrame State = iota
	StateScoring
	StatePositive
	StateNegative
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingFrame:
		return "awaiting_frame"
	case StateScoring:
		return "scoring"
	case StatePositive:
		return "positive"
	case StateNegative:
		return "negative"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SamplingMode selects the sampling interval of a session.
type SamplingMode string

const (
	ModePassive     SamplingMode = "passive"
	ModeInteractive SamplingMode = "interactive"
)

// SamplingModeKey is the gRPC metadata key and query parameter naming the mode.
const SamplingModeKey = "sampling-mode"

type modeKey struct{}

// WithSamplingMode tags ctx with a sampling mode.
func WithSamplingMode(ctx context.Context, mode SamplingMode) context.Context {
	return context.WithValue(ctx, modeKey{}, mode)
}

// SamplingModeFrom reads the mode from ctx, falling back to incoming gRPC
// metadata, then to passive.
func SamplingModeFrom(ctx context.Context) SamplingMode {
	if mode, ok := ctx.Value(modeKey{}).(SamplingMode); ok {
		return mode
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(SamplingModeKey); len(values) > 0 && SamplingMode(values[0]) == ModeInteractive {
			return ModeInteractive
		}
	}
	return ModePassive
}

package events

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/model"
)

// Longest a single utterance may take before the synthesizer is killed.
const defaultVoiceTimeout = 10 * time.Second

// ErrUnavailable marks a sink whose dependency is missing at startup.
var ErrUnavailable = errors.New("listener unavailable")

// VoiceListener speaks a short description of each event through a speech
// synthesizer command (espeak compatible flags).
type VoiceListener struct {
	path    string
	rate    int
	voice   string
	timeout time.Duration
	run     func(ctx context.Context, name string, args ...string) error
}

// NewVoiceListener resolves the synthesizer once. It returns ErrUnavailable
// when the command is not installed.
func NewVoiceListener(s config.VoiceSettings) (*VoiceListener, error) {
	command := s.Command
	if command == "" {
		command = "espeak"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "voice: %v", err)
	}
	return &VoiceListener{path: path, rate: s.Rate, voice: s.Voice, timeout: defaultVoiceTimeout, run: runCommand}, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", name, strings.TrimSpace(string(out)))
	}
	return nil
}

func (v *VoiceListener) Name() string { return "voice" }

func (v *VoiceListener) Deliver(ctx context.Context, ev model.DetectionEvent) error {
	args := []string{}
	if v.rate > 0 {
		args = append(args, "-s", strconv.Itoa(v.rate))
	}
	if v.voice != "" && v.voice != "default" {
		args = append(args, "-v", v.voice)
	}
	args = append(args, Utterance(ev))

	timeout := v.timeout
	if timeout <= 0 {
		timeout = defaultVoiceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return v.run(ctx, v.path, args...)
}

// Utterance is the sentence spoken for ev.
func Utterance(ev model.DetectionEvent) string {
	what := "alert"
	if len(ev.Objects) > 0 {
		what = strings.Join(ev.Objects, " and ")
	}
	return fmt.Sprintf("Detected %s on camera %s, confidence %d percent", what, ev.SourceID, int(ev.Confidence*100+0.5))
}

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/metadata"

	"github.com/zpskt/keen/internal/channel"
	"github.com/zpskt/keen/internal/client"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/service"
	"github.com/zpskt/keen/internal/source"
	"github.com/zpskt/keen/internal/source/camera"
)

var opts struct {
	configPath  string
	server      string
	cameraID    string
	source      string
	transport   string
	interactive bool
	replayEvery time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "keen-camera",
	Short: "Stream a camera, RTSP feed, UDP JPEG feed or image directory to the detection server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", os.Getenv("KEEN_CONFIG"), "YAML or JSON config file")
	f.StringVarP(&opts.server, "server", "s", "", "Override client.server_address")
	f.StringVar(&opts.cameraID, "camera-id", "", "Override client.camera_id")
	f.StringVar(&opts.source, "source", "", "Device index, rtsp:// URL, udp://:port or directory of jpegs")
	f.StringVarP(&opts.transport, "transport", "t", "", "grpc or websocket")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "Ask the server for interactive sampling")
	f.DurationVar(&opts.replayEvery, "replay-interval", 100*time.Millisecond, "Pause between frames when replaying a directory")
}

func run(ctx context.Context) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	c := &cfg.Client
	if opts.server != "" {
		c.ServerAddress = opts.server
	}
	if opts.cameraID != "" {
		c.CameraID = opts.cameraID
	}
	if opts.source != "" {
		c.Source = opts.source
	}
	if opts.transport != "" {
		c.Transport = opts.transport
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	src := openSource(*c, log)
	dialer, ctx, err := newDialer(ctx, *c, cfg.Server.MaxFrameBytes)
	if err != nil {
		return err
	}

	log.Info("Streaming %s as %s to %s over %s", c.Source, c.CameraID, c.ServerAddress, c.Transport)
	producer := client.NewProducer(src, dialer, client.LogAlarm{Logger: log}, *c, clock.New(), log)
	if err := producer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openSource(c config.ClientConfig, log *logger.Logger) source.Source {
	if strings.HasPrefix(c.Source, "udp://") {
		return source.NewUDP(strings.TrimPrefix(c.Source, "udp://"), nil)
	}
	if info, err := os.Stat(c.Source); err == nil && info.IsDir() {
		dir := source.NewDirectory(c.Source, c.CameraID, opts.replayEvery)
		dir.Logger = log
		return dir
	}
	return camera.New(c.Source, c.CameraID, c.JPEGQuality)
}

// newDialer returns the dialer for the configured transport and the context
// sessions should be opened with.
func newDialer(ctx context.Context, c config.ClientConfig, maxFrameBytes int) (channel.Dialer, context.Context, error) {
	mode := service.ModePassive
	if opts.interactive {
		mode = service.ModeInteractive
	}

	switch c.Transport {
	case "grpc":
		ctx = metadata.AppendToOutgoingContext(ctx, service.SamplingModeKey, string(mode))
		return &channel.GRPCDialer{Address: c.ServerAddress, MaxFrameBytes: maxFrameBytes}, ctx, nil
	case "websocket":
		u := url.URL{Scheme: "ws", Host: c.ServerAddress, Path: "/api/stream"}
		q := u.Query()
		q.Set("id", c.CameraID)
		q.Set(service.SamplingModeKey, string(mode))
		u.RawQuery = q.Encode()
		return &channel.WebSocketDialer{URL: u.String(), MaxFrameBytes: maxFrameBytes}, ctx, nil
	default:
		return nil, nil, errors.Errorf("unknown transport %q", c.Transport)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

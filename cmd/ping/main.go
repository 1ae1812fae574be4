package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zpskt/keen/internal/channel"
	"github.com/zpskt/keen/internal/codec"
	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/source"
	"github.com/zpskt/keen/internal/wire"
)

var opts struct {
	server   string
	cameraID string
	image    string
	timeout  time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "keen-ping",
	Short: "Check that a detection server answers SingleDetection",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.server, "server", "s", "localhost:50051", "Detection server gRPC address")
	f.StringVar(&opts.cameraID, "camera-id", "ping", "Camera id sent with the frame")
	f.StringVar(&opts.image, "image", "", "Optional directory of jpegs; the first one is scored instead of an empty frame")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Round-trip timeout")
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	frame := model.Frame{TimestampMs: time.Now().UnixMilli(), SourceID: opts.cameraID}
	if opts.image != "" {
		dir := source.NewDirectory(opts.image, opts.cameraID, 0)
		if err := dir.Open(ctx); err != nil {
			return err
		}
		f, err := dir.Read(ctx)
		dir.Close()
		if err != nil {
			return err
		}
		frame = f
	}

	conn, err := grpc.NewClient(opts.server,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(channel.DefaultMaxFrameBytes)),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create client")
	}
	defer conn.Close()

	start := time.Now()
	res, err := channel.NewDetectionClient(conn).SingleDetection(ctx, codec.Encode(frame))
	if err != nil {
		return errors.Wrapf(err, "server %s did not answer", opts.server)
	}
	printResult(res, time.Since(start))
	return nil
}

func printResult(res *wire.DetectionResult, rtt time.Duration) {
	r := codec.ResultOf(res)
	fmt.Printf("✅ %s answered in %s\n", opts.server, rtt.Round(time.Millisecond))
	fmt.Printf("   camera=%s positive=%v confidence=%.2f", r.SourceID, r.Positive, r.Confidence)
	if r.Box != nil {
		fmt.Printf(" bbox=%v", r.Box.Slice())
	}
	fmt.Println()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
)

// Directory replays the JPEG files of a directory in name order. Files named
// <unix-ms>.jpg keep that timestamp, others are stamped when read. Files that
// cannot be read or decoded are skipped with a warning.
type Directory struct {
	Dir      string
	SourceID string
	Interval time.Duration // Pause between frames; zero replays as fast as possible
	Clock    clock.Clock
	Logger   *logger.Logger

	files   []string
	next    int
	skipped int
}

func NewDirectory(dir, sourceID string, interval time.Duration) *Directory {
	return &Directory{Dir: dir, SourceID: sourceID, Interval: interval, Clock: clock.New(), Logger: logger.NewNop()}
}

// Skipped reports how many files were passed over as unreadable.
func (d *Directory) Skipped() int {
	return d.skipped
}

func (d *Directory) Open(_ context.Context) error {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", d.Dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(d.Dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return errors.Errorf("no jpeg files in %s", d.Dir)
	}
	sort.Strings(files)
	d.files = files
	d.next = 0
	return nil
}

func (d *Directory) Read(ctx context.Context) (model.Frame, error) {
	if d.files == nil {
		return model.Frame{}, ErrNotOpen
	}
	if d.next >= len(d.files) {
		return model.Frame{}, io.EOF
	}
	if d.next > 0 && d.Interval > 0 {
		timer := d.Clock.Timer(d.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Frame{}, ctx.Err()
		case <-timer.C:
		}
	}

	for d.next < len(d.files) {
		path := d.files[d.next]
		d.next++
		frame, err := d.load(path)
		if err != nil {
			d.skipped++
			if d.Logger != nil {
				d.Logger.Warning("Skipping %v", err)
			}
			continue
		}
		return frame, nil
	}
	return model.Frame{}, io.EOF
}

func (d *Directory) load(path string) (model.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Frame{}, errors.Wrapf(err, "failed to read %s", path)
	}
	width, height, err := jpegSize(data)
	if err != nil {
		return model.Frame{}, errors.Wrapf(err, "failed to decode %s", path)
	}

	ts := d.Clock.Now().UnixMilli()
	if ms, err := strconv.ParseInt(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), 10, 64); err == nil {
		ts = ms
	}
	return model.Frame{
		ImageBytes:  data,
		Encoding:    model.EncodingJPEG,
		Width:       width,
		Height:      height,
		TimestampMs: ts,
		SourceID:    d.SourceID,
	}, nil
}

func (d *Directory) Close() error {
	d.files = nil
	return nil
}

package model

import "time"

// Encoding identifies how Frame.ImageBytes is laid out.
type Encoding int32

const (
	// EncodingUnknown is the zero value and never valid on the wire.
	EncodingUnknown Encoding = 0
	// EncodingJPEG carries a compressed JPEG image.
	EncodingJPEG Encoding = 1
	// EncodingRawRGB carries width*height*3 bytes of packed RGB pixels.
	EncodingRawRGB Encoding = 2
)

func (e Encoding) String() string {
	switch e {
	case EncodingJPEG:
		return "jpeg"
	case EncodingRawRGB:
		return "raw_rgb"
	default:
		return "unknown"
	}
}

// Frame is one image sample produced by a frame source.
// A Frame is treated as immutable once it has been produced.
type Frame struct {
	ImageBytes  []byte
	Encoding    Encoding
	Width       int
	Height      int
	TimestampMs int64
	SourceID    string
}

// Time returns the frame timestamp as a time.Time.
func (f Frame) Time() time.Time {
	return time.UnixMilli(f.TimestampMs)
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool {
	return len(f.ImageBytes) == 0
}

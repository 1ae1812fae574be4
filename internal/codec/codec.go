// Package codec converts frames to and from their wire representation.
package codec

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/wire"
)

// ErrMalformedFrame is returned when a wire frame cannot be turned into pixels.
var ErrMalformedFrame = errors.New("malformed frame")

// Image is a decoded frame: packed RGB, three bytes per pixel, row-major.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Decoded pairs the frame as received with its decoded pixels.
type Decoded struct {
	Frame model.Frame
	Image *Image
}

// Encode builds the wire message for f. The image bytes are not copied;
// the channel owns them until the message has been sent.
func Encode(f model.Frame) *wire.VideoFrame {
	return &wire.VideoFrame{
		ImageData: f.ImageBytes,
		Timestamp: f.TimestampMs,
		CameraID:  f.SourceID,
		Width:     int32(f.Width),
		Height:    int32(f.Height),
		FrameType: int32(f.Encoding),
	}
}

// FrameOf returns the frame metadata and payload carried by msg without decoding pixels.
func FrameOf(msg *wire.VideoFrame) model.Frame {
	return model.Frame{
		ImageBytes:  msg.ImageData,
		Encoding:    model.Encoding(msg.FrameType),
		Width:       int(msg.Width),
		Height:      int(msg.Height),
		TimestampMs: msg.Timestamp,
		SourceID:    msg.CameraID,
	}
}

// Decode branches on the frame type: JPEG payloads are decompressed, RAW
// payloads must hold exactly width*height*3 bytes and are used as-is.
// Frames with an unset type are decoded as RAW, as producers historically
// only set the type for JPEG.
func Decode(msg *wire.VideoFrame) (*Decoded, error) {
	f := FrameOf(msg)
	switch f.Encoding {
	case model.EncodingJPEG:
		img, err := decodeJPEG(f.ImageBytes)
		if err != nil {
			return nil, err
		}
		return &Decoded{Frame: f, Image: img}, nil
	case model.EncodingRawRGB, model.EncodingUnknown:
		if f.Width <= 0 || f.Height <= 0 {
			return nil, errors.Wrapf(ErrMalformedFrame, "raw frame has invalid size %dx%d", f.Width, f.Height)
		}
		if want := f.Width * f.Height * 3; len(f.ImageBytes) != want {
			return nil, errors.Wrapf(ErrMalformedFrame, "raw frame has %d bytes, expected %d", len(f.ImageBytes), want)
		}
		f.Encoding = model.EncodingRawRGB
		return &Decoded{Frame: f, Image: &Image{Width: f.Width, Height: f.Height, Pix: f.ImageBytes}}, nil
	default:
		return nil, errors.Wrapf(ErrMalformedFrame, "unknown frame type %d", msg.FrameType)
	}
}

func decodeJPEG(data []byte) (*Image, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedFrame, "jpeg: %v", err)
	}
	return FromImage(src), nil
}

// FromImage converts any image.Image into packed RGB.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := &Image{Width: b.Dx(), Height: b.Dy(), Pix: make([]byte, b.Dx()*b.Dy()*3)}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
			i += 3
		}
	}
	return out
}

// RGBA returns the image as an *image.RGBA.
func (img *Image) RGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i, j := 0, 0; i+2 < len(img.Pix); i, j = i+3, j+4 {
		out.Pix[j] = img.Pix[i]
		out.Pix[j+1] = img.Pix[i+1]
		out.Pix[j+2] = img.Pix[i+2]
		out.Pix[j+3] = 0xFF
	}
	return out
}

// CompressRGB encodes packed RGB pixels as a JPEG.
func CompressRGB(img *Image, quality int) ([]byte, error) {
	if len(img.Pix) != img.Width*img.Height*3 {
		return nil, errors.Wrapf(ErrMalformedFrame, "rgb buffer has %d bytes for %dx%d", len(img.Pix), img.Width, img.Height)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img.RGBA(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "jpeg encode")
	}
	return buf.Bytes(), nil
}

// JPEGBytes returns f as JPEG data, compressing RAW frames.
func JPEGBytes(f model.Frame, quality int) ([]byte, error) {
	if f.Encoding == model.EncodingJPEG {
		return f.ImageBytes, nil
	}
	return CompressRGB(&Image{Width: f.Width, Height: f.Height, Pix: f.ImageBytes}, quality)
}

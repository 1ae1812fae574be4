// Package wire holds the messages exchanged on a detection stream.
//
// Both messages are encoded in protobuf wire format so that generated
// clients for video_stream.proto interoperate with this server:
//
//	message VideoFrame {
//	  bytes  image_data = 1;
//	  int64  timestamp  = 2;
//	  string camera_id  = 3;
//	  int32  width      = 4;
//	  int32  height     = 5;
//	  int32  frame_type = 6; // 1 = JPEG, 2 = RAW
//	}
//
//	message DetectionResult {
//	  bool           is_fall         = 1;
//	  float          confidence      = 2;
//	  repeated float bbox            = 3;
//	  int64          frame_timestamp = 4;
//	  string         camera_id       = 5;
//	}
package wire

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Frame types carried in VideoFrame.FrameType.
const (
	FrameTypeJPEG int32 = 1
	FrameTypeRaw  int32 = 2
)

// VideoFrame is one encoded frame sent by a producer.
type VideoFrame struct {
	ImageData []byte
	Timestamp int64
	CameraID  string
	Width     int32
	Height    int32
	FrameType int32
}

// DetectionResult is one scoring outcome sent back to the producer.
type DetectionResult struct {
	IsFall         bool
	Confidence     float32
	BBox           []float32
	FrameTimestamp int64
	CameraID       string
}

// Message is implemented by every type in this package.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

var errTruncated = errors.New("wire: truncated message")

// Marshal encodes the frame in protobuf wire format.
func (m *VideoFrame) Marshal() ([]byte, error) {
	b := make([]byte, 0, len(m.ImageData)+len(m.CameraID)+32)
	if len(m.ImageData) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ImageData)
	}
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Timestamp))
	}
	if m.CameraID != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m.CameraID)
	}
	if m.Width != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Width)))
	}
	if m.Height != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Height)))
	}
	if m.FrameType != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.FrameType)))
	}
	return b, nil
}

// Unmarshal decodes data into m, replacing its contents. Unknown fields are skipped.
func (m *VideoFrame) Unmarshal(data []byte) error {
	*m = VideoFrame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "wire: video frame tag")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errTruncated
			}
			m.ImageData = append([]byte(nil), v...)
			data = data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errTruncated
			}
			m.Timestamp = int64(v)
			data = data[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return errTruncated
			}
			m.CameraID = v
			data = data[n:]
		case (num == 4 || num == 5 || num == 6) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errTruncated
			}
			switch num {
			case 4:
				m.Width = int32(v)
			case 5:
				m.Height = int32(v)
			default:
				m.FrameType = int32(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "wire: video frame field %d", num)
			}
			data = data[n:]
		}
	}
	return nil
}

// Marshal encodes the result in protobuf wire format. BBox is written packed.
func (m *DetectionResult) Marshal() ([]byte, error) {
	b := make([]byte, 0, 32+len(m.CameraID)+4*len(m.BBox))
	if m.IsFall {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.Confidence != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.Confidence))
	}
	if len(m.BBox) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(4*len(m.BBox)))
		for _, v := range m.BBox {
			b = protowire.AppendFixed32(b, math.Float32bits(v))
		}
	}
	if m.FrameTimestamp != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.FrameTimestamp))
	}
	if m.CameraID != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, m.CameraID)
	}
	return b, nil
}

// Unmarshal decodes data into m. Both packed and unpacked bbox encodings are accepted.
func (m *DetectionResult) Unmarshal(data []byte) error {
	*m = DetectionResult{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "wire: detection result tag")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errTruncated
			}
			m.IsFall = protowire.DecodeBool(v)
			data = data[n:]
		case num == 2 && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return errTruncated
			}
			m.Confidence = math.Float32frombits(v)
			data = data[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 || len(v)%4 != 0 {
				return errTruncated
			}
			for len(v) > 0 {
				f, k := protowire.ConsumeFixed32(v)
				m.BBox = append(m.BBox, math.Float32frombits(f))
				v = v[k:]
			}
			data = data[n:]
		case num == 3 && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return errTruncated
			}
			m.BBox = append(m.BBox, math.Float32frombits(v))
			data = data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errTruncated
			}
			m.FrameTimestamp = int64(v)
			data = data[n:]
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return errTruncated
			}
			m.CameraID = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "wire: detection result field %d", num)
			}
			data = data[n:]
		}
	}
	return nil
}

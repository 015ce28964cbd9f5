package passthrough

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameKind identifies one of the broker wire protocol's frame types.
type frameKind byte

const (
	frameResize frameKind = iota + 1
	framePtyInput
	frameShutdown
	frameInitialState
	framePtyOutput
)

// frame is one length-prefixed message on the broker's Unix stream socket:
// a 1-byte kind, a 4-byte big-endian payload length, then the payload.
// Resize carries its (rows, cols) as the first 4 bytes of the payload
// instead of a separate header, keeping the wire format to a single shape.
type frame struct {
	kind    frameKind
	payload []byte
}

func resizeFrame(rows, cols int) frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], uint16(rows))
	binary.BigEndian.PutUint16(payload[2:4], uint16(cols))
	return frame{kind: frameResize, payload: payload}
}

func (f frame) resizeDims() (rows, cols int) {
	return int(binary.BigEndian.Uint16(f.payload[0:2])), int(binary.BigEndian.Uint16(f.payload[2:4]))
}

func writeFrame(w io.Writer, f frame) error {
	header := make([]byte, 5)
	header[0] = byte(f.kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(f.payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(f.payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// maxFramePayload bounds a single frame's payload to guard against a
// corrupt or hostile peer claiming an unbounded length.
const maxFramePayload = 64 << 20

func readFrame(r io.Reader) (frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame{}, err
	}
	kind := frameKind(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFramePayload {
		return frame{}, fmt.Errorf("frame payload too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return frame{kind: kind, payload: payload}, nil
}

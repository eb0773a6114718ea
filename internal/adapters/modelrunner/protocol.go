package modelrunner

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Operations understood by the runner process.
const (
	OpLoad         = "load"
	OpPredictVideo = "predict_video"
	OpPredictForm  = "predict_form"
)

// Model names used in load requests.
const (
	ModelVideo = "video"
	ModelForm  = "form"
)

// maxMessageSize bounds one framed message; a 100-frame 224×224 batch is ~60MB.
const maxMessageSize = 256 << 20

// Request is one framed message to the runner.
type Request struct {
	Op    string `msgpack:"op"`
	Model string `msgpack:"model,omitempty"`
	Path  string `msgpack:"path,omitempty"`
	// Shape and Pixels carry a frame batch as little-endian float32 values
	// in [n, height, width, channels] order.
	Shape  []int     `msgpack:"shape,omitempty"`
	Pixels []byte    `msgpack:"pixels,omitempty"`
	Row    []float64 `msgpack:"row,omitempty"`
}

// Response is one framed message from the runner.
type Response struct {
	OK           bool        `msgpack:"ok"`
	Error        string      `msgpack:"error,omitempty"`
	FeatureNames []string    `msgpack:"feature_names,omitempty"`
	Probs        [][]float32 `msgpack:"probs,omitempty"`
	Label        int         `msgpack:"label"`
	Probability  *float64    `msgpack:"probability,omitempty"`
}

// WriteMessage writes v as a 4-byte big-endian length followed by msgpack.
func WriteMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if len(payload) > maxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload))) //nolint:gosec // bounded by maxMessageSize
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v.
func ReadMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return fmt.Errorf("read length: %w", err)
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return nil
}

// PackPixels flattens float32 values into little-endian bytes.
func PackPixels(values []float32, dst []byte) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// UnpackPixels is the inverse of PackPixels.
func UnpackPixels(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

package frames

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/pkg/logger"
)

// FFmpegDecoder decodes video through ffprobe and ffmpeg subprocesses.
type FFmpegDecoder struct {
	ffmpeg  string
	ffprobe string
	log     logger.Logger
}

// DecoderOption configures an FFmpegDecoder.
type DecoderOption func(*FFmpegDecoder)

// WithDecoderLogger sets the logger used for decoder diagnostics.
func WithDecoderLogger(l logger.Logger) DecoderOption {
	return func(d *FFmpegDecoder) {
		if l != nil {
			d.log = l
		}
	}
}

// NewFFmpegDecoder returns a decoder using the given binaries. Empty paths
// fall back to "ffmpeg" and "ffprobe" on PATH.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string, opts ...DecoderOption) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	d := &FFmpegDecoder{ffmpeg: ffmpegPath, ffprobe: ffprobePath, log: logger.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type probeStream struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
	Tags struct {
		Rotate string `json:"rotate"`
	} `json:"tags"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

// geometry is the coded size of a stream and the clockwise turn, in degrees,
// needed to show it upright.
type geometry struct {
	width  int
	height int
	turn   int
}

// turn reads the display rotation from the legacy rotate tag or, failing
// that, the display matrix. The matrix stores the counter-clockwise angle.
func (s probeStream) turn() int {
	var deg float64
	switch {
	case strings.TrimSpace(s.Tags.Rotate) != "":
		v, err := strconv.ParseFloat(strings.TrimSpace(s.Tags.Rotate), 64)
		if err != nil {
			return 0
		}
		deg = v
	default:
		for _, sd := range s.SideDataList {
			if sd.Rotation != 0 {
				deg = -sd.Rotation
				break
			}
		}
	}
	t := int(math.Round(deg/90)) * 90 % 360
	if t < 0 {
		t += 360
	}
	return t
}

// output returns the frame size after turning.
func (g geometry) output() (int, int) {
	if g.turn == 90 || g.turn == 270 {
		return g.height, g.width
	}
	return g.width, g.height
}

// filter is the explicit transform matching turn. Automatic rotation is
// disabled so the stream geometry is always the one computed here.
func (g geometry) filter() string {
	switch g.turn {
	case 90:
		return "transpose=clock"
	case 180:
		return "hflip,vflip"
	case 270:
		return "transpose=cclock"
	default:
		return ""
	}
}

func (g geometry) args(path string) []string {
	args := []string{"-v", "error", "-noautorotate", "-i", path, "-map", "0:v:0"}
	if f := g.filter(); f != "" {
		args = append(args, "-vf", f)
	}
	return append(args, "-f", "rawvideo", "-pix_fmt", "bgr24", "pipe:1")
}

// Open probes the first video stream and starts a raw BGR24 decode of it,
// turned upright.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (Source, error) {
	const op = "frames.open"

	g, err := d.probe(ctx, path)
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidInput, err)
	}
	w, h := g.output()

	cmd := exec.CommandContext(ctx, d.ffmpeg, g.args(path)...) //nolint:gosec // binary path comes from config
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrInternal, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("start %s: %w", d.ffmpeg, err))
	}

	return &ffmpegSource{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		width:  w,
		height: h,
		log:    d.log,
	}, nil
}

func (d *FFmpegDecoder) probe(ctx context.Context, path string) (geometry, error) {
	cmd := exec.CommandContext(ctx, d.ffprobe, //nolint:gosec // binary path comes from config
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return geometry{}, fmt.Errorf("%w: %s", ErrProbe, strings.TrimSpace(string(ee.Stderr)))
		}
		return geometry{}, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (geometry, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return geometry{}, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	if len(po.Streams) == 0 || po.Streams[0].Width <= 0 || po.Streams[0].Height <= 0 {
		return geometry{}, fmt.Errorf("%w: no video stream", ErrProbe)
	}
	st := po.Streams[0]
	return geometry{width: st.Width, height: st.Height, turn: st.turn()}, nil
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	width  int
	height int
	log    logger.Logger
	read   int

	once    sync.Once
	waitErr error
}

func (s *ffmpegSource) Next(ctx context.Context) (Raw, error) {
	const op = "frames.next"

	if err := ctx.Err(); err != nil {
		return Raw{}, err
	}

	buf := make([]byte, s.width*s.height*3)
	_, err := io.ReadFull(s.stdout, buf)
	switch {
	case err == nil:
		s.read++
		return Raw{Width: s.width, Height: s.height, BGR: buf}, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// A truncated trailing frame is dropped. A decoder failure only
		// fails the stream when it produced nothing.
		werr := s.wait()
		if werr == nil || ctx.Err() != nil {
			return Raw{}, io.EOF
		}
		tail := stderrTail(s.stderr.String())
		if s.read == 0 {
			return Raw{}, failure.WrapKind(op, failure.ErrInvalidInput, fmt.Errorf("%w: %s", ErrDecode, tail))
		}
		s.log.Warn(ctx, "decoder stopped early; keeping frames read so far",
			logger.Int("frames", s.read),
			logger.String("stderr", tail),
			logger.Error(werr),
		)
		return Raw{}, io.EOF
	default:
		return Raw{}, failure.WrapKind(op, failure.ErrInvalidInput, fmt.Errorf("%w: %w", ErrDecode, err))
	}
}

// Close stops the decoder if it is still running and reaps it.
func (s *ffmpegSource) Close() error {
	_ = s.stdout.Close()
	if s.cmd.ProcessState == nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}

// stderrTail keeps the last few hundred bytes of decoder output.
func stderrTail(out string) string {
	const keep = 512
	out = strings.TrimSpace(out)
	if len(out) > keep {
		out = out[len(out)-keep:]
	}
	return out
}

func (s *ffmpegSource) wait() error {
	s.once.Do(func() { s.waitErr = s.cmd.Wait() })
	return s.waitErr
}

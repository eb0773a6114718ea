package modelrunner_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/okian/cognicare/internal/adapters/modelrunner"
	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeRuntime answers framed requests on the far end of a net.Pipe.
type fakeRuntime struct {
	mu        sync.Mutex
	spawns    int
	spawnErr  error
	loadErr   string
	requests  []modelrunner.Request
	handle    func(req modelrunner.Request) (modelrunner.Response, bool)
	features  []string
	lastShape []int
}

func (f *fakeRuntime) Spawn(_ context.Context) (io.ReadWriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.spawns++
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

func (f *fakeRuntime) serve(conn net.Conn) {
	defer conn.Close()
	for {
		var req modelrunner.Request
		if err := modelrunner.ReadMessage(conn, &req); err != nil {
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		handle := f.handle
		f.mu.Unlock()

		resp, reply := f.respond(req, handle)
		if !reply {
			// Simulate a hung runtime: hold the connection without answering.
			continue
		}
		if err := modelrunner.WriteMessage(conn, resp); err != nil {
			return
		}
	}
}

func (f *fakeRuntime) respond(req modelrunner.Request, handle func(modelrunner.Request) (modelrunner.Response, bool)) (modelrunner.Response, bool) {
	f.mu.Lock()
	loadErr, features := f.loadErr, f.features
	if req.Op == modelrunner.OpPredictVideo {
		f.lastShape = req.Shape
	}
	f.mu.Unlock()

	if req.Op == modelrunner.OpLoad {
		if loadErr != "" {
			return modelrunner.Response{OK: false, Error: loadErr}, true
		}
		if req.Model == modelrunner.ModelForm {
			return modelrunner.Response{OK: true, FeatureNames: features}, true
		}
		return modelrunner.Response{OK: true}, true
	}
	if handle != nil {
		return handle(req)
	}
	switch req.Op {
	case modelrunner.OpPredictVideo:
		probs := make([][]float32, req.Shape[0])
		for i := range probs {
			probs[i] = []float32{0.25, 0.75}
		}
		return modelrunner.Response{OK: true, Probs: probs}, true
	case modelrunner.OpPredictForm:
		p := 0.8
		return modelrunner.Response{OK: true, Label: 1, Probability: &p}, true
	}
	return modelrunner.Response{OK: false, Error: "unknown op"}, true
}

func (f *fakeRuntime) shape() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastShape
}

func (f *fakeRuntime) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Op)
	}
	return out
}

func batchOf(n int) *model.FrameBatch {
	b := &model.FrameBatch{Width: 2, Height: 2, Channels: model.Channels}
	for i := 0; i < n; i++ {
		px := make([]float32, 12)
		px[0] = float32(i) / 10
		b.Frames = append(b.Frames, model.Frame{Pixels: px})
	}
	return b
}

func TestProtocol(t *testing.T) {
	Convey("Given a framed request", t, func() {
		var buf bytes.Buffer
		req := modelrunner.Request{Op: modelrunner.OpPredictForm, Row: []float64{1, 0, 36}}
		So(modelrunner.WriteMessage(&buf, req), ShouldBeNil)

		Convey("Then the length prefix matches the payload", func() {
			b := buf.Bytes()
			n := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
			So(n, ShouldEqual, len(b)-4)
		})

		Convey("Then it reads back intact", func() {
			var back modelrunner.Request
			So(modelrunner.ReadMessage(&buf, &back), ShouldBeNil)
			So(back.Op, ShouldEqual, req.Op)
			So(back.Row, ShouldResemble, req.Row)
		})
	})

	Convey("Given an oversized length prefix", t, func() {
		err := modelrunner.ReadMessage(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}), &modelrunner.Response{})
		So(errors.Is(err, modelrunner.ErrMessageTooLarge), ShouldBeTrue)
	})

	Convey("Given a truncated stream", t, func() {
		err := modelrunner.ReadMessage(bytes.NewReader([]byte{0, 0, 0, 9, 1}), &modelrunner.Response{})
		So(err, ShouldNotBeNil)
	})

	Convey("Given float32 pixels", t, func() {
		in := []float32{0, 0.5, 1, 0.003921569}
		packed := modelrunner.PackPixels(in, nil)
		So(packed, ShouldHaveLength, 16)
		So(modelrunner.UnpackPixels(packed), ShouldResemble, in)
	})
}

func TestVideoModel(t *testing.T) {
	ctx := context.Background()

	Convey("Given a runner over a healthy runtime", t, func() {
		rt := &fakeRuntime{}
		r := modelrunner.New(rt, modelrunner.WithVideoModel("ml_models/best_model_fine_tuned.h5"))
		defer r.Close()

		Convey("When two batches are predicted", func() {
			probs, err := r.VideoModel().Predict(ctx, batchOf(3))
			So(err, ShouldBeNil)
			_, err = r.VideoModel().Predict(ctx, batchOf(1))
			So(err, ShouldBeNil)

			Convey("Then the runtime is spawned and loaded once", func() {
				So(probs, ShouldHaveLength, 3)
				So(probs[2], ShouldResemble, []float32{0.25, 0.75})
				So(rt.spawns, ShouldEqual, 1)
				So(rt.ops(), ShouldResemble, []string{"load", "predict_video", "predict_video"})
			})

			Convey("Then the batch shape is sent as n,h,w,c", func() {
				So(rt.shape(), ShouldResemble, []int{1, 2, 2, 3})
			})
		})
	})

	Convey("Given a runtime whose model fails to load", t, func() {
		rt := &fakeRuntime{loadErr: "weights file missing"}
		r := modelrunner.New(rt)
		defer r.Close()

		_, err := r.VideoModel().Predict(ctx, batchOf(1))

		Convey("Then the failure is a service-unavailable condition", func() {
			So(errors.Is(err, modelrunner.ErrModelUnavailable), ShouldBeTrue)
			So(failure.Is(err, failure.ErrUnavailable), ShouldBeTrue)
		})

		Convey("Then the next request retries the load", func() {
			rt.mu.Lock()
			rt.loadErr = ""
			rt.mu.Unlock()
			_, err := r.VideoModel().Predict(ctx, batchOf(1))
			So(err, ShouldBeNil)
		})
	})

	Convey("Given a runtime that cannot be spawned", t, func() {
		rt := &fakeRuntime{spawnErr: errors.New("python3: not found")}
		_, err := modelrunner.New(rt).VideoModel().Predict(ctx, batchOf(1))

		So(errors.Is(err, modelrunner.ErrRunnerUnavailable), ShouldBeTrue)
		So(failure.Is(err, failure.ErrUnavailable), ShouldBeTrue)
	})

	Convey("Given a runtime that raises during inference", t, func() {
		rt := &fakeRuntime{handle: func(modelrunner.Request) (modelrunner.Response, bool) {
			return modelrunner.Response{OK: false, Error: "ValueError: bad shape"}, true
		}}
		r := modelrunner.New(rt)
		defer r.Close()

		_, err := r.VideoModel().Predict(ctx, batchOf(1))

		So(errors.Is(err, modelrunner.ErrPrediction), ShouldBeTrue)
		So(failure.Is(err, failure.ErrInternal), ShouldBeTrue)
	})

	Convey("Given a runtime that answers with the wrong row count", t, func() {
		rt := &fakeRuntime{handle: func(modelrunner.Request) (modelrunner.Response, bool) {
			return modelrunner.Response{OK: true, Probs: [][]float32{{1, 0}}}, true
		}}
		r := modelrunner.New(rt)
		defer r.Close()

		_, err := r.VideoModel().Predict(ctx, batchOf(2))
		So(errors.Is(err, modelrunner.ErrBadResponse), ShouldBeTrue)
	})

	Convey("Given a runtime that hangs", t, func() {
		rt := &fakeRuntime{handle: func(modelrunner.Request) (modelrunner.Response, bool) {
			return modelrunner.Response{}, false
		}}
		r := modelrunner.New(rt)
		defer r.Close()

		tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err := r.VideoModel().Predict(tctx, batchOf(1))

		Convey("Then the deadline surfaces and the connection is replaced", func() {
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)

			rt.mu.Lock()
			rt.handle = nil
			rt.mu.Unlock()
			_, err := r.VideoModel().Predict(ctx, batchOf(1))
			So(err, ShouldBeNil)
			So(rt.spawns, ShouldEqual, 2)
		})
	})

	Convey("Given a closed runner", t, func() {
		r := modelrunner.New(&fakeRuntime{})
		So(r.Close(), ShouldBeNil)
		_, err := r.VideoModel().Predict(ctx, batchOf(1))
		So(errors.Is(err, modelrunner.ErrClosed), ShouldBeTrue)
	})
}

func TestFormModel(t *testing.T) {
	ctx := context.Background()

	Convey("Given a runner with a form model", t, func() {
		rt := &fakeRuntime{features: []string{"A1", "A2", "Age_Mons", "Sex_m", "Sex_f"}}
		r := modelrunner.New(rt, modelrunner.WithFormModel("ml_models/asd_rf_model.pkl"))
		defer r.Close()
		fm := r.FormModel()

		Convey("Then feature names come from the load response", func() {
			names, err := fm.FeatureNames(ctx)
			So(err, ShouldBeNil)
			So(names, ShouldResemble, []string{"A1", "A2", "Age_Mons", "Sex_m", "Sex_f"})
		})

		Convey("Then a row is classified with its probability", func() {
			label, prob, err := fm.Predict(ctx, []float64{1, 0, 36, 1, 0})
			So(err, ShouldBeNil)
			So(label, ShouldEqual, 1)
			So(*prob, ShouldEqual, 0.8)
			So(rt.ops(), ShouldResemble, []string{"load", "predict_form"})
		})
	})

	Convey("Given a form model without probability output", t, func() {
		rt := &fakeRuntime{handle: func(modelrunner.Request) (modelrunner.Response, bool) {
			return modelrunner.Response{OK: true, Label: 0}, true
		}}
		r := modelrunner.New(rt)
		defer r.Close()

		label, prob, err := r.FormModel().Predict(ctx, []float64{0})
		So(err, ShouldBeNil)
		So(label, ShouldEqual, 0)
		So(prob, ShouldBeNil)
	})
}

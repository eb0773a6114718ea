package fusion_test

import (
	"errors"
	"testing"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/fusion"
	"github.com/okian/cognicare/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func ptr(v float64) *float64 { return &v }

func TestFuse(t *testing.T) {
	Convey("Given only a form verdict", t, func() {
		form := &model.FormVerdict{Label: 1, Probability: ptr(0.8)}

		Convey("When fusing", func() {
			out, err := fusion.Fuse(nil, form, nil)

			Convey("Then the form probability becomes a percentage score", func() {
				So(err, ShouldBeNil)
				So(out.Kind, ShouldEqual, model.KindForm)
				So(out.PrimaryLabel, ShouldEqual, "1")
				So(out.Score, ShouldAlmostEqual, 80.0, 1e-9)
				So(out.ScoreAvailable, ShouldBeTrue)
			})
		})

		Convey("When the model exposes no probability", func() {
			out, err := fusion.Fuse(nil, &model.FormVerdict{Label: 0}, nil)

			Convey("Then the score is flagged unavailable", func() {
				So(err, ShouldBeNil)
				So(out.PrimaryLabel, ShouldEqual, "0")
				So(out.Score, ShouldEqual, 0)
				So(out.ScoreAvailable, ShouldBeFalse)
			})
		})
	})

	Convey("Given only a video verdict", t, func() {
		video := &model.VideoVerdict{Label: "Autistic", Confidence: 91.5}

		out, err := fusion.Fuse(video, nil, ptr(40))

		Convey("Then the confidence passes through unchanged and gaze is ignored", func() {
			So(err, ShouldBeNil)
			So(out.Kind, ShouldEqual, model.KindVideo)
			So(out.PrimaryLabel, ShouldEqual, "Autistic")
			So(out.Score, ShouldEqual, 91.5)
		})
	})

	Convey("Given both verdicts and a gaze percentage", t, func() {
		video := &model.VideoVerdict{Label: "Non_Autistic", Confidence: 90.0}
		form := &model.FormVerdict{Label: 1, Probability: ptr(0.7)}

		out, err := fusion.Fuse(video, form, ptr(60.0))

		Convey("Then the video label wins and the blend divides by two", func() {
			So(err, ShouldBeNil)
			So(out.Kind, ShouldEqual, model.KindCombined)
			So(out.PrimaryLabel, ShouldEqual, "Non_Autistic")
			// (0.7*100 + 90 + 60) / 2
			So(out.Score, ShouldAlmostEqual, 110.0, 1e-9)
		})

		Convey("Then absent gaze and probability contribute nothing", func() {
			So(fusion.CombinedScore(90, nil, nil), ShouldEqual, 45.0)
			So(fusion.CombinedScore(90, ptr(0.5), nil), ShouldAlmostEqual, 70.0, 1e-9)
		})
	})

	Convey("Given no verdict at all", t, func() {
		_, err := fusion.Fuse(nil, nil, nil)

		So(errors.Is(err, fusion.ErrNoModality), ShouldBeTrue)
		So(errors.Is(err, failure.ErrInvalidInput), ShouldBeTrue)
	})
}

func TestAggregateFrames(t *testing.T) {
	Convey("Given per-frame probabilities", t, func() {
		probs := [][]float32{
			{0.2, 0.8},
			{0.4, 0.6},
			{0.3, 0.7},
		}

		v, err := fusion.AggregateFrames(probs, fusion.VideoLabels)

		Convey("Then the mean argmax label and percentage are returned", func() {
			So(err, ShouldBeNil)
			So(v.Label, ShouldEqual, "Autistic")
			So(v.Confidence, ShouldAlmostEqual, 70.0, 1e-4)
		})
	})

	Convey("Given a tie", t, func() {
		v, err := fusion.AggregateFrames([][]float32{{0.5, 0.5}}, fusion.VideoLabels)
		So(err, ShouldBeNil)
		So(v.Label, ShouldEqual, "Non_Autistic")
	})

	Convey("Given an empty prediction", t, func() {
		_, err := fusion.AggregateFrames(nil, fusion.VideoLabels)
		So(errors.Is(err, fusion.ErrEmptyPrediction), ShouldBeTrue)
		So(errors.Is(err, failure.ErrNoEvidence), ShouldBeTrue)
	})

	Convey("Given rows wider than the label set", t, func() {
		_, err := fusion.AggregateFrames([][]float32{{0.1, 0.2, 0.7}}, fusion.VideoLabels)
		So(errors.Is(err, fusion.ErrLabelMismatch), ShouldBeTrue)
		So(errors.Is(err, failure.ErrInternal), ShouldBeTrue)
	})
}

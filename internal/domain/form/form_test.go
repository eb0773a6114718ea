package form_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/form"
	"github.com/okian/cognicare/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var columns = []string{
	"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8", "A9", "A10", "Age_Mons",
	"Sex_f", "Sex_m",
	"Ethnicity_Asian", "Ethnicity_White European", "Ethnicity_middle eastern",
	"Jaundice_no", "Jaundice_yes",
	"Family_mem_with_ASD_no", "Family_mem_with_ASD_yes",
}

func validAnswers() *form.Answers {
	return &form.Answers{
		A:         [10]int{1, 0, 1, 1, 0, 0, 1, 1, 0, 1},
		AgeMonths: 28,
		Sex:       "m",
		Ethnicity: "Asian",
		Jaundice:  "yes",
		FamilyASD: "no",
	}
}

func column(name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

type mockModel struct {
	mu        sync.Mutex
	names     []string
	namesErr  error
	nameCalls int
	label     int
	prob      *float64
	err       error
	lastRow   []float64
}

func (m *mockModel) FeatureNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nameCalls++
	return m.names, m.namesErr
}

func (m *mockModel) Predict(ctx context.Context, row []float64) (int, *float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRow = append([]float64(nil), row...)
	return m.label, m.prob, m.err
}

func TestEncoder(t *testing.T) {
	Convey("Given an encoder built from the model columns", t, func() {
		enc, err := form.NewEncoder(columns)
		So(err, ShouldBeNil)

		Convey("When encoding a valid questionnaire", func() {
			out := enc.Encode(validAnswers())

			Convey("Then numeric answers map directly", func() {
				So(out.Vector[column("A1")], ShouldEqual, 1)
				So(out.Vector[column("A2")], ShouldEqual, 0)
				So(out.Vector[column("A10")], ShouldEqual, 1)
				So(out.Vector[column("Age_Mons")], ShouldEqual, 28)
			})

			Convey("Then categorical answers set exactly one column per field", func() {
				So(out.Vector[column("Sex_m")], ShouldEqual, 1)
				So(out.Vector[column("Sex_f")], ShouldEqual, 0)
				So(out.Vector[column("Ethnicity_Asian")], ShouldEqual, 1)
				So(out.Vector[column("Jaundice_yes")], ShouldEqual, 1)
				So(out.Vector[column("Jaundice_no")], ShouldEqual, 0)
				So(out.Vector[column("Family_mem_with_ASD_no")], ShouldEqual, 1)
				So(out.Unmapped, ShouldBeEmpty)
			})
		})

		Convey("When an ethnicity has no column", func() {
			a := validAnswers()
			a.Ethnicity = "Pacifica"
			out := enc.Encode(a)

			Convey("Then the value is reported as unmapped and no ethnicity column is set", func() {
				So(out.Unmapped, ShouldResemble, []form.Unmapped{{Field: "Ethnicity", Value: "Pacifica"}})
				So(out.Vector[column("Ethnicity_Asian")], ShouldEqual, 0)
				So(out.Vector[column("Ethnicity_White European")], ShouldEqual, 0)
				So(out.Vector[column("Ethnicity_middle eastern")], ShouldEqual, 0)
			})
		})

		Convey("When values contain spaces", func() {
			a := validAnswers()
			a.Ethnicity = "White European"
			out := enc.Encode(a)
			So(out.Vector[column("Ethnicity_White European")], ShouldEqual, 1)
		})
	})

	Convey("Given a model that exposes answers only as one-hot columns", t, func() {
		enc, err := form.NewEncoder([]string{"A1_0", "A1_1", "Sex_m"})
		So(err, ShouldBeNil)

		out := enc.Encode(validAnswers())

		Convey("Then numeric values fall back to {field}_{value}", func() {
			So(out.Vector, ShouldResemble, []float64{0, 1, 1})
		})
	})

	Convey("Given no feature names", t, func() {
		_, err := form.NewEncoder(nil)

		So(errors.Is(err, form.ErrMissingFeatureNames), ShouldBeTrue)
		So(errors.Is(err, failure.ErrUnavailable), ShouldBeTrue)
	})
}

func TestAnswersValidate(t *testing.T) {
	Convey("Given questionnaires", t, func() {
		So(validAnswers().Validate(), ShouldBeNil)

		Convey("Then a non-binary answer is rejected", func() {
			a := validAnswers()
			a.A[3] = 2
			err := a.Validate()
			So(errors.Is(err, failure.ErrInvalidInput), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "A4")
		})

		Convey("Then a negative age is rejected", func() {
			a := validAnswers()
			a.AgeMonths = -1
			So(errors.Is(a.Validate(), form.ErrInvalidAnswers), ShouldBeTrue)
		})

		Convey("Then blank categorical values are rejected", func() {
			a := validAnswers()
			a.Sex = "  "
			So(a.Validate(), ShouldNotBeNil)
		})

		Convey("Then yes/no answers accept any case", func() {
			a := validAnswers()
			a.Jaundice = "YES"
			So(a.Validate(), ShouldBeNil)
			a.FamilyASD = "maybe"
			So(a.Validate(), ShouldNotBeNil)
		})

		Convey("Then normalizing lower-cases yes/no answers", func() {
			a := validAnswers()
			a.Jaundice = " Yes "
			a.Sex = " m "
			a.Normalize()
			So(a.Jaundice, ShouldEqual, "yes")
			So(a.Sex, ShouldEqual, "m")
		})
	})
}

func TestClassifier(t *testing.T) {
	Convey("Given a classifier over a mock model", t, func() {
		p := 0.83
		m := &mockModel{names: columns, label: 1, prob: &p}
		c := form.NewClassifier(m)
		ctx := context.Background()

		Convey("When classifying twice", func() {
			v1, enc, err := c.Classify(ctx, validAnswers())
			So(err, ShouldBeNil)
			_, _, err = c.Classify(ctx, validAnswers())
			So(err, ShouldBeNil)

			Convey("Then the verdict comes from the model and names load once", func() {
				So(v1.Label, ShouldEqual, 1)
				So(*v1.Probability, ShouldEqual, 0.83)
				So(m.nameCalls, ShouldEqual, 1)
				So(m.lastRow, ShouldResemble, enc.Vector)
			})
		})

		Convey("When the answers are invalid", func() {
			a := validAnswers()
			a.Jaundice = ""
			_, _, err := c.Classify(ctx, a)

			Convey("Then the model is never consulted", func() {
				So(errors.Is(err, failure.ErrInvalidInput), ShouldBeTrue)
				So(m.nameCalls, ShouldEqual, 0)
			})
		})

		Convey("When the model has no feature names", func() {
			m.names = nil
			_, _, err := c.Classify(ctx, validAnswers())
			So(errors.Is(err, form.ErrMissingFeatureNames), ShouldBeTrue)

			Convey("Then a later load is attempted again", func() {
				m.names = columns
				_, _, err := c.Classify(ctx, validAnswers())
				So(err, ShouldBeNil)
				So(m.nameCalls, ShouldEqual, 2)
			})
		})

		Convey("When the model fails without a kind", func() {
			m.err = errors.New("segfault in estimator")
			_, _, err := c.Classify(ctx, validAnswers())

			Convey("Then it is wrapped as an internal fault", func() {
				So(errors.Is(err, form.ErrPredict), ShouldBeTrue)
				So(errors.Is(err, failure.ErrInternal), ShouldBeTrue)
			})
		})

		Convey("When the model reports itself unavailable", func() {
			m.err = failure.NewKind("modelrunner.load", failure.ErrUnavailable)
			_, _, err := c.Classify(ctx, validAnswers())
			So(errors.Is(err, failure.ErrUnavailable), ShouldBeTrue)
			So(errors.Is(err, failure.ErrInternal), ShouldBeFalse)
		})
	})
}

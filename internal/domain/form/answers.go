// Package form maps the fixed questionnaire onto the tabular model's features.
package form

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/cognicare/internal/domain/failure"
)

// QuestionCount is the number of binary screening answers (A1..A10).
const QuestionCount = 10

// Field names as declared by the tabular model.
const (
	FieldAge       = "Age_Mons"
	FieldSex       = "Sex"
	FieldEthnicity = "Ethnicity"
	FieldJaundice  = "Jaundice"
	FieldFamilyASD = "Family_mem_with_ASD"
)

// Answers is one submitted questionnaire.
type Answers struct {
	A         [QuestionCount]int
	AgeMonths int
	Sex       string
	Ethnicity string
	Jaundice  string
	FamilyASD string
}

// Field is one named questionnaire value. Exactly one of Number or Category
// is meaningful, selected by Categorical.
type Field struct {
	Name        string
	Number      float64
	Category    string
	Categorical bool
}

// QuestionName returns the field name of answer i (0-based).
func QuestionName(i int) string { return "A" + strconv.Itoa(i+1) }

// Fields returns the answers in schema order.
func (a *Answers) Fields() []Field {
	out := make([]Field, 0, QuestionCount+5)
	for i, v := range a.A {
		out = append(out, Field{Name: QuestionName(i), Number: float64(v)})
	}
	out = append(out,
		Field{Name: FieldAge, Number: float64(a.AgeMonths)},
		Field{Name: FieldSex, Category: a.Sex, Categorical: true},
		Field{Name: FieldEthnicity, Category: a.Ethnicity, Categorical: true},
		Field{Name: FieldJaundice, Category: a.Jaundice, Categorical: true},
		Field{Name: FieldFamilyASD, Category: a.FamilyASD, Categorical: true},
	)
	return out
}

// Normalize trims the free-form values and lower-cases the yes/no answers.
func (a *Answers) Normalize() {
	a.Sex = strings.TrimSpace(a.Sex)
	a.Ethnicity = strings.TrimSpace(a.Ethnicity)
	a.Jaundice = strings.ToLower(strings.TrimSpace(a.Jaundice))
	a.FamilyASD = strings.ToLower(strings.TrimSpace(a.FamilyASD))
}

// Validate checks the questionnaire shape. It does not consult the model.
func (a *Answers) Validate() error {
	const op = "form.validate"

	for i, v := range a.A {
		if v != 0 && v != 1 {
			return failure.WrapKind(op, failure.ErrInvalidInput,
				fmt.Errorf("%w: %s must be 0 or 1, got %d", ErrInvalidAnswers, QuestionName(i), v))
		}
	}
	if a.AgeMonths < 0 {
		return failure.WrapKind(op, failure.ErrInvalidInput,
			fmt.Errorf("%w: %s must not be negative", ErrInvalidAnswers, FieldAge))
	}
	for _, f := range []struct{ name, v string }{
		{FieldSex, a.Sex},
		{FieldEthnicity, a.Ethnicity},
	} {
		if strings.TrimSpace(f.v) == "" {
			return failure.WrapKind(op, failure.ErrInvalidInput,
				fmt.Errorf("%w: missing %s", ErrInvalidAnswers, f.name))
		}
	}
	for _, f := range []struct{ name, v string }{
		{FieldJaundice, a.Jaundice},
		{FieldFamilyASD, a.FamilyASD},
	} {
		switch strings.ToLower(strings.TrimSpace(f.v)) {
		case "yes", "no":
		default:
			return failure.WrapKind(op, failure.ErrInvalidInput,
				fmt.Errorf("%w: %s must be yes or no", ErrInvalidAnswers, f.name))
		}
	}
	return nil
}

package form

import (
	"strconv"
	"strings"

	"github.com/okian/cognicare/internal/domain/failure"
)

// Unmapped is a categorical field/value pair with no matching model column.
// Such pairs are ignored when encoding.
type Unmapped struct {
	Field string
	Value string
}

// Encoding is an encoded questionnaire.
type Encoding struct {
	Vector   []float64
	Unmapped []Unmapped
}

// Encoder turns answers into the feature vector the tabular model expects.
// Columns follow the model's declared feature order; categorical fields use
// one-hot columns named {field}_{value}.
type Encoder struct {
	columns []string
	index   map[string]int
}

// NewEncoder builds an encoder from the model's declared feature names.
func NewEncoder(featureNames []string) (*Encoder, error) {
	const op = "form.new_encoder"

	if len(featureNames) == 0 {
		return nil, failure.WrapKind(op, failure.ErrUnavailable, ErrMissingFeatureNames)
	}
	e := &Encoder{
		columns: append([]string(nil), featureNames...),
		index:   make(map[string]int, len(featureNames)),
	}
	for i, name := range e.columns {
		e.index[name] = i
	}
	return e, nil
}

// Columns returns the feature names in model order.
func (e *Encoder) Columns() []string {
	return append([]string(nil), e.columns...)
}

// Encode maps answers onto a zeroed feature row.
func (e *Encoder) Encode(a *Answers) Encoding {
	row := make([]float64, len(e.columns))
	var unmapped []Unmapped

	for _, f := range a.Fields() {
		if !f.Categorical {
			if i, ok := e.index[f.Name]; ok {
				row[i] = f.Number
				continue
			}
		}

		value := f.Category
		if !f.Categorical {
			value = strconv.FormatFloat(f.Number, 'f', -1, 64)
		}
		if !e.setOneHot(row, f.Name, value) {
			unmapped = append(unmapped, Unmapped{Field: f.Name, Value: value})
		}
	}

	return Encoding{Vector: row, Unmapped: unmapped}
}

// setOneHot zeroes every {field}_* column, then sets {field}_{value}. It
// leaves the row untouched when the column does not exist.
func (e *Encoder) setOneHot(row []float64, field, value string) bool {
	target, ok := e.index[field+"_"+value]
	if !ok {
		return false
	}
	prefix := field + "_"
	for i, name := range e.columns {
		if strings.HasPrefix(name, prefix) {
			row[i] = 0
		}
	}
	row[target] = 1
	return true
}

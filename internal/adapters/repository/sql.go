package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
)

// Dialect selects placeholder style and id retrieval for a SQL backend.
type Dialect string

// Supported dialects. Values match the registered database/sql driver names.
const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// recordColumns is the column order shared by insert and select. The "data"
// table is owned by the schema collaborator; this package never migrates it.
var recordColumns = []string{
	"user_email",
	"prediction_type",
	"predicted_class",
	"confidence_probability",
	"score_available",
	"video_label",
	"video_confidence",
	"form_label",
	"form_probability",
	"eye_gaze_percentage",
	"report",
	"archive_url",
	"timestamp",
}

// SQLStore persists records in MySQL or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  logger.Logger
	now     func() time.Time

	insertQuery  string
	updateQuery  string
	historyQuery string
}

// NewSQLStore wraps an open database handle. Pool options are applied by Open.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...Option) *SQLStore {
	o := buildOptions(opts)
	s := &SQLStore{db: db, dialect: dialect, logger: o.logger, now: o.now}
	s.prepareQueries()
	return s
}

func (s *SQLStore) prepareQueries() {
	marks := make([]string, len(recordColumns))
	for i := range marks {
		marks[i] = s.placeholder(i + 1)
	}
	s.insertQuery = fmt.Sprintf("INSERT INTO data (%s) VALUES (%s)",
		strings.Join(recordColumns, ", "), strings.Join(marks, ", "))
	if s.dialect == DialectPostgres {
		s.insertQuery += " RETURNING id"
	}

	s.updateQuery = fmt.Sprintf("UPDATE data SET report = %s WHERE id = %s",
		s.placeholder(1), s.placeholder(2))

	s.historyQuery = fmt.Sprintf("SELECT id, %s FROM data WHERE user_email = %s ORDER BY timestamp DESC, id DESC",
		strings.Join(recordColumns, ", "), s.placeholder(1))
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Insert implements Store.Insert.
func (s *SQLStore) Insert(ctx context.Context, rec *model.AssessmentRecord) (int64, error) {
	const op = "repository.sql.insert"
	if err := validate(op, rec); err != nil {
		return 0, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	args := recordArgs(rec)

	var id int64
	if s.dialect == DialectPostgres {
		if err := s.db.QueryRowContext(ctx, s.insertQuery, args...).Scan(&id); err != nil {
			return 0, s.fail(ctx, op, err)
		}
	} else {
		res, err := s.db.ExecContext(ctx, s.insertQuery, args...)
		if err != nil {
			return 0, s.fail(ctx, op, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, s.fail(ctx, op, err)
		}
	}

	rec.ID = id
	metrics.RecordRecordPersisted()
	return id, nil
}

// UpdateReport implements Store.UpdateReport.
func (s *SQLStore) UpdateReport(ctx context.Context, id int64, report string) error {
	const op = "repository.sql.update_report"

	res, err := s.db.ExecContext(ctx, s.updateQuery, nullString(report), id)
	if err != nil {
		return s.fail(ctx, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(ctx, op, err)
	}
	if n == 0 {
		return invalid(op, ErrNotFound)
	}
	return nil
}

// History implements Store.History.
func (s *SQLStore) History(ctx context.Context, subject model.Subject, limit int) ([]model.AssessmentRecord, error) {
	const op = "repository.sql.history"
	limit, err := clampLimit(op, limit)
	if err != nil {
		return nil, err
	}

	q, args := s.historyQuery, []any{string(subject)}
	if limit > 0 {
		q += " LIMIT " + s.placeholder(2)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	defer rows.Close()

	var out []model.AssessmentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, s.fail(ctx, op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return out, nil
}

// Close implements Store.Close.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) fail(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error(ctx, "database operation failed", logger.String("op", op), logger.Error(err))
	return internal(op, err)
}

func recordArgs(rec *model.AssessmentRecord) []any {
	var (
		videoLabel sql.NullString
		videoConf  sql.NullFloat64
		formLabel  sql.NullInt64
		formProb   sql.NullFloat64
		gaze       sql.NullFloat64
	)
	if rec.Video != nil {
		videoLabel = sql.NullString{String: rec.Video.Label, Valid: true}
		videoConf = sql.NullFloat64{Float64: rec.Video.Confidence, Valid: true}
	}
	if rec.Form != nil {
		formLabel = sql.NullInt64{Int64: int64(rec.Form.Label), Valid: true}
		if rec.Form.Probability != nil {
			formProb = sql.NullFloat64{Float64: *rec.Form.Probability, Valid: true}
		}
	}
	if rec.EyeGaze != nil {
		gaze = sql.NullFloat64{Float64: *rec.EyeGaze, Valid: true}
	}
	return []any{
		string(rec.Subject),
		string(rec.Kind),
		rec.PrimaryLabel,
		rec.Score,
		rec.ScoreAvailable,
		videoLabel,
		videoConf,
		formLabel,
		formProb,
		gaze,
		nullString(rec.Report),
		nullString(rec.ArchiveURL),
		rec.CreatedAt,
	}
}

func scanRecord(rows *sql.Rows) (model.AssessmentRecord, error) {
	var (
		rec        model.AssessmentRecord
		subject    string
		kind       string
		videoLabel sql.NullString
		videoConf  sql.NullFloat64
		formLabel  sql.NullInt64
		formProb   sql.NullFloat64
		gaze       sql.NullFloat64
		report     sql.NullString
		archive    sql.NullString
	)
	if err := rows.Scan(
		&rec.ID, &subject, &kind, &rec.PrimaryLabel, &rec.Score, &rec.ScoreAvailable,
		&videoLabel, &videoConf, &formLabel, &formProb, &gaze,
		&report, &archive, &rec.CreatedAt,
	); err != nil {
		return rec, err
	}

	rec.Subject = model.Subject(subject)
	rec.Kind = model.PredictionKind(kind)
	if videoLabel.Valid {
		rec.Video = &model.VideoVerdict{Label: videoLabel.String, Confidence: videoConf.Float64}
	}
	if formLabel.Valid {
		rec.Form = &model.FormVerdict{Label: int(formLabel.Int64)}
		if formProb.Valid {
			p := formProb.Float64
			rec.Form.Probability = &p
		}
	}
	if gaze.Valid {
		g := gaze.Float64
		rec.EyeGaze = &g
	}
	rec.Report = report.String
	rec.ArchiveURL = archive.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

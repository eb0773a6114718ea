package tracking_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/pkg/tracking"
)

type sink struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (s *sink) hook(e *sentry.Event) *sentry.Event {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *sink) all() []*sentry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*sentry.Event(nil), s.events...)
}

func TestTracker(t *testing.T) {
	ctx := context.Background()

	Convey("Given no DSN", t, func() {
		tr, err := tracking.New(tracking.Config{}, nil)
		So(err, ShouldBeNil)
		So(tr.Enabled(), ShouldBeFalse)
		So(tr.Capture(ctx, errors.New("boom"), nil), ShouldBeFalse)
		So(tr.Flush(0), ShouldBeTrue)
	})

	Convey("Given a nil tracker", t, func() {
		var tr *tracking.Tracker
		So(tr.Capture(ctx, errors.New("boom"), nil), ShouldBeFalse)
	})

	Convey("Given an invalid DSN", t, func() {
		_, err := tracking.New(tracking.Config{DSN: "::not a dsn"}, nil)
		So(errors.Is(err, tracking.ErrInit), ShouldBeTrue)
	})

	Convey("Given an enabled tracker", t, func() {
		s := &sink{}
		tr, err := tracking.New(
			tracking.Config{DSN: "https://public@sentry.invalid/1", Environment: "test"},
			nil,
			tracking.WithBeforeSend(s.hook),
		)
		So(err, ShouldBeNil)
		So(tr.Enabled(), ShouldBeTrue)

		Convey("When capturing an internal fault", func() {
			ok := tr.Capture(ctx, failure.WrapKind("pipeline.persist", failure.ErrInternal, errors.New("disk full")),
				map[string]string{"stage": "persist"})

			Convey("Then one scrubbed event is produced with tags", func() {
				So(ok, ShouldBeTrue)
				events := s.all()
				So(events, ShouldHaveLength, 1)
				So(events[0].Tags["stage"], ShouldEqual, "persist")
				So(events[0].Tags["kind"], ShouldEqual, "internal")
				So(events[0].User, ShouldResemble, sentry.User{})
			})
		})

		Convey("When capturing a user-correctable error", func() {
			ok := tr.Capture(ctx, failure.NewKind("frames.reduce", failure.ErrNoEvidence), nil)
			So(ok, ShouldBeFalse)
			So(s.all(), ShouldBeEmpty)
		})

		Convey("When a panic is recovered", func() {
			So(func() {
				defer tr.Recover()
				panic("worker crashed")
			}, ShouldPanicWith, "worker crashed")
			So(s.all(), ShouldHaveLength, 1)
		})
	})
}

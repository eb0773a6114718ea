package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given a manager built with options", t, func() {
		reg := prometheus.NewRegistry()
		m := NewManager(
			WithNamespace("test"),
			WithSubsystem("unit"),
			WithHistogramBuckets([]float64{1, 2, 3}),
			WithConstLabels(map[string]string{"instance": "a"}),
			WithPrometheusRegistry(reg),
		)

		So(m.namespace, ShouldEqual, "test")
		So(m.subsystem, ShouldEqual, "unit")
		So(m.histogramBuckets, ShouldResemble, []float64{1, 2, 3})
		So(m.constLabels["instance"], ShouldEqual, "a")

		Convey("Then metrics register under the namespace", func() {
			m.recordsPersisted.Inc()
			mfs, err := reg.Gather()
			So(err, ShouldBeNil)

			found := false
			for _, mf := range mfs {
				if mf.GetName() == "test_unit_records_persisted_total" {
					found = true
				}
			}
			So(found, ShouldBeTrue)
		})
	})

	Convey("Given empty option values", t, func() {
		m := NewManager(
			WithNamespace(""),
			WithSubsystem(""),
			WithHistogramBuckets(nil),
			WithPrometheusRegistry(prometheus.NewRegistry()),
		)

		Convey("Then defaults are kept", func() {
			So(m.namespace, ShouldEqual, "cognicare")
			So(m.subsystem, ShouldEqual, "pipeline")
			So(m.histogramBuckets, ShouldResemble, latencyBucketsMs)
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording pipeline runs", func() {
			before := testutil.ToFloat64(globalManager.pipelineRuns.WithLabelValues("combined", "ok"))
			RecordPipelineRun("combined", "ok")
			So(testutil.ToFloat64(globalManager.pipelineRuns.WithLabelValues("combined", "ok")), ShouldEqual, before+1)
		})

		Convey("When recording frame counts", func() {
			examined := testutil.ToFloat64(globalManager.framesExamined)
			usable := testutil.ToFloat64(globalManager.framesUsable)
			RecordFrames(100, 40)
			So(testutil.ToFloat64(globalManager.framesExamined), ShouldEqual, examined+100)
			So(testutil.ToFloat64(globalManager.framesUsable), ShouldEqual, usable+40)
		})

		Convey("When recording unmapped form values", func() {
			RecordFormUnmappedValue("Ethnicity")
			So(testutil.ToFloat64(globalManager.formUnmappedValues.WithLabelValues("Ethnicity")), ShouldBeGreaterThanOrEqualTo, 1)
		})

		Convey("When updating gauges", func() {
			UpdateActiveSessions(3)
			UpdateSubscribedSubjects(2)
			UpdateQueueCapacity(1024)
			UpdateQueueSize(10)
			UpdateQueueUtilization(10.0 / 1024.0)
			UpdateWorkerCount(2)

			So(testutil.ToFloat64(globalManager.activeSessions), ShouldEqual, 3)
			So(testutil.ToFloat64(globalManager.subscribedSubjects), ShouldEqual, 2)
			So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 1024)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 10)
			So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 2)
		})

		Convey("When adjusting the busy worker gauge", func() {
			start := testutil.ToFloat64(globalManager.workerBusy)
			AddWorkerBusy(1)
			So(testutil.ToFloat64(globalManager.workerBusy), ShouldEqual, start+1)
			AddWorkerBusy(-1)
			So(testutil.ToFloat64(globalManager.workerBusy), ShouldEqual, start)
		})

		Convey("When recording histograms and error counters", func() {
			So(func() {
				RecordStageLatency("video", 12.5)
				RecordEyeGaze(60)
				RecordInferenceLatency(800)
				RecordInferenceError("timeout")
				RecordReportLatency(1500)
				RecordReportError("upstream")
				RecordRepositoryError("insert")
				RecordQueueProcessingLatency(0.2)
				RecordHTTPRequest("/forms", "POST", "200")
				RecordHTTPRequestDuration("/forms", "POST", "200", 4)
				RecordErrorByComponent("pipeline", "internal")
				RecordErrorByType("internal", "high")
				RecordErrorByEndpoint("/video", "POST", "no_evidence")
				RecordErrorLatency("pipeline", "internal", 3)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.05)
				RecordNotificationDelivered()
				RecordNotificationFailed()
				RecordNotificationDropped()
				RecordRecordPersisted()
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateInferenceQueueDepth(1)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry exposes the families", func() {
			fams, err := Families()
			So(err, ShouldBeNil)
			So(fams, ShouldContainKey, "cognicare_pipeline_runs_total")
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given many goroutines recording at once", t, func() {
		before := testutil.ToFloat64(globalManager.notificationsDelivered)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				RecordNotificationDelivered()
				RecordStageLatency("fuse", 1)
			}()
		}
		wg.Wait()

		So(testutil.ToFloat64(globalManager.notificationsDelivered), ShouldEqual, before+50)
	})
}

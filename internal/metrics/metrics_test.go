package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRecorder(t *testing.T) {
	Convey("Given a fresh recorder", t, func() {
		r := NewRecorder()

		Convey("When a run is recorded", func() {
			r.CSVRows(10, 2)
			r.RowsInserted("air_quality", 8)
			r.RowsInserted("weather", 30)
			r.RowsInserted("weather", 1)
			r.ValidationFailures("weather", 1)
			at := time.Unix(1700000000, 0)
			r.RunFinished(1500*time.Millisecond, true, at)

			Convey("Then the counters reflect it", func() {
				So(testutil.ToFloat64(r.csvRowsRead), ShouldEqual, 10)
				So(testutil.ToFloat64(r.csvRowsDropped), ShouldEqual, 2)
				So(testutil.ToFloat64(r.rowsInserted.WithLabelValues("air_quality")), ShouldEqual, 8)
				So(testutil.ToFloat64(r.rowsInserted.WithLabelValues("weather")), ShouldEqual, 31)
				So(testutil.ToFloat64(r.validationFailures.WithLabelValues("weather")), ShouldEqual, 1)
				So(testutil.ToFloat64(r.runDuration), ShouldEqual, 1.5)
				So(testutil.ToFloat64(r.lastSuccess), ShouldEqual, 1700000000)
			})
		})

		Convey("When a run fails", func() {
			r.RunFinished(time.Second, false, time.Now())

			Convey("Then the success timestamp is untouched", func() {
				So(testutil.ToFloat64(r.lastSuccess), ShouldEqual, 0)
			})
		})
	})
}

func TestPush(t *testing.T) {
	Convey("Given a Pushgateway", t, func() {
		var gotPath, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			gotPath = req.URL.Path
			b, _ := io.ReadAll(req.Body)
			gotBody = string(b)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		r := NewRecorder()
		r.CSVRows(3, 0)

		Convey("When the recorder pushes", func() {
			err := r.Push(context.Background(), srv.URL, "feature_backfill")

			Convey("Then the metrics arrive under the job", func() {
				So(err, ShouldBeNil)
				So(gotPath, ShouldEqual, "/metrics/job/feature_backfill")
				So(len(gotBody), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When the gateway is down", func() {
			srv.Close()
			err := r.Push(context.Background(), srv.URL, "feature_backfill")

			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
				So(strings.Contains(err.Error(), "error pushing metrics"), ShouldBeTrue)
			})
		})
	})
}

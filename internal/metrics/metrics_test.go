package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating two managers with default options", func() {
			Convey("Then they should not collide on registration", func() {
				So(func() {
					NewManager()
					NewManager()
				}, ShouldNotPanic)
			})
		})

		Convey("When creating with a custom registry and namespace", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithRegistry(registry), WithNamespace("kiosk"), WithHistogramBuckets([]float64{0.01, 0.1, 1}))
			manager.RecordLogin("success")

			Convey("Then the metrics should live in that registry", func() {
				So(manager.Registry(), ShouldEqual, registry)
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				var names []string
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "kiosk_logins_total")
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		m := NewManager()

		Convey("When recording liveness outcomes", func() {
			m.ObserveCheck("blink")
			m.ObserveCheck("blink")
			m.ObserveCheck("no_face")
			m.ObserveEAR(0.31)
			m.ObserveEAR(0.12)

			Convey("Then the counters should follow reasons", func() {
				So(testutil.ToFloat64(m.livenessChecks.WithLabelValues("blink")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.livenessChecks.WithLabelValues("no_face")), ShouldEqual, 1)
				So(testutil.CollectAndCount(m.ear), ShouldEqual, 1)
			})
		})

		Convey("When recording logins, registrations and engine calls", func() {
			m.RecordLogin("no_match")
			m.RecordRegistration("registered")
			m.ObserveEngine("detect", 40*time.Millisecond)

			Convey("Then each lands in its own series", func() {
				So(testutil.ToFloat64(m.logins.WithLabelValues("no_match")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.registrations.WithLabelValues("registered")), ShouldEqual, 1)
				So(testutil.CollectAndCount(m.engineLatency), ShouldEqual, 1)
			})
		})

		Convey("When scraping the handler", func() {
			m.ObserveCheck("blink")
			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			body, _ := io.ReadAll(rec.Body)

			Convey("Then it should expose the kiosk metrics", func() {
				So(rec.Code, ShouldEqual, 200)
				So(strings.Contains(string(body), `facegate_liveness_checks_total{reason="blink"} 1`), ShouldBeTrue)
			})
		})
	})
}

package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/wellness/internal/app"
	"github.com/okian/wellness/internal/adapters/http/api"
	"github.com/okian/wellness/internal/adapters/repository"
	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/scoring"
)

// 2024-03-02 and 2024-03-12, midnight UTC.
const twoWeeksPayload = `{"dailies":[` +
	`{"userId":"ext-1","startTimeInSeconds":1709337600,"steps":8000,"restingHeartRateInBeatsPerMinute":52},` +
	`{"userId":"ext-1","startTimeInSeconds":1710201600,"steps":10000,"restingHeartRateInBeatsPerMinute":55},` +
	`{"userId":"ext-unknown","startTimeInSeconds":1710201600,"steps":1}]}`

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with an HTTP server in front of it", t, func() {
		now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		svc := service.New(service.WithConfig(memoryConfig()), service.WithClock(func() time.Time { return now }))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, err := svc.Store().Create(ctx, model.Connection{UserID: "u1", ExternalAccountID: "ext-1", DeviceType: model.DeviceGarmin})
		So(err, ShouldBeNil)

		deps, err := svc.APIDependencies()
		So(err, ShouldBeNil)
		mux := http.NewServeMux()
		api.NewServer(deps, svc.APIOptions()...).Register(ctx, mux)
		do := func(req *http.Request) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			return w
		}

		Convey("When an unsigned payload is posted while verification is disabled", func() {
			w := do(httptest.NewRequest(http.MethodPost, "/webhooks/garmin", strings.NewReader(twoWeeksPayload)))

			Convey("Then it should be accepted and stored raw", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				n, err := svc.Store().Count(ctx, repository.RawEventFilter{})
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				So(svc.GetStats()["rawEvents"], ShouldEqual, int64(1))
			})

			Convey("And only the linked account's observations should be stored", func() {
				conn, err := svc.Store().ConnectionForUser(ctx, "u1", model.DeviceGarmin)
				So(err, ShouldBeNil)
				obs, err := svc.Store().Observations(ctx, conn.ID, nil, now.AddDate(0, 0, -30), now)
				So(err, ShouldBeNil)
				So(len(obs), ShouldEqual, 4)
			})

			Convey("And the weekly comparison should reflect both weeks", func() {
				w := do(httptest.NewRequest(http.MethodGet, "/insights/weekly?userId=u1", nil))
				So(w.Code, ShouldEqual, http.StatusOK)

				var report scoring.TrendReport
				So(json.Unmarshal(w.Body.Bytes(), &report), ShouldBeNil)
				So(report.Status, ShouldEqual, scoring.StatusOK)

				byMetric := map[string]scoring.Trend{}
				for _, tr := range report.Trends {
					byMetric[tr.MetricType] = tr
				}
				So(byMetric[model.MetricSteps].Direction, ShouldEqual, scoring.DirectionIncreasing)
				So(byMetric[model.MetricSteps].Assessment, ShouldEqual, scoring.AssessmentImproving)
				So(byMetric[model.MetricRestingHeartRate].Assessment, ShouldEqual, scoring.AssessmentDeclining)
				So(byMetric[model.MetricHRV].Status, ShouldEqual, scoring.StatusNoData)
			})

			Convey("And a replay of the same payload should not duplicate observations", func() {
				So(do(httptest.NewRequest(http.MethodPost, "/api/garmin/webhook", strings.NewReader(twoWeeksPayload))).Code, ShouldEqual, http.StatusOK)
				conn, err := svc.Store().ConnectionForUser(ctx, "u1", model.DeviceGarmin)
				So(err, ShouldBeNil)
				obs, err := svc.Store().Observations(ctx, conn.ID, nil, now.AddDate(0, 0, -30), now)
				So(err, ShouldBeNil)
				So(len(obs), ShouldEqual, 4)
			})
		})

		Convey("When insights are requested for a user without a device", func() {
			w := do(httptest.NewRequest(http.MethodGet, "/insights/burnout?userId=nobody", nil))

			Convey("Then the assessment should say so", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var res scoring.BurnoutAssessment
				So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
				So(res.Status, ShouldEqual, scoring.StatusNoDevice)
				So(res.Score, ShouldBeNil)
			})
		})

		Convey("When the stats endpoint is queried", func() {
			w := do(httptest.NewRequest(http.MethodGet, "/stats", nil))

			Convey("Then it should expose service statistics", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var stats map[string]interface{}
				So(json.Unmarshal(w.Body.Bytes(), &stats), ShouldBeNil)
				So(stats["started"], ShouldEqual, true)
				So(stats["storageDriver"], ShouldEqual, "memory")
			})
		})
	})
}

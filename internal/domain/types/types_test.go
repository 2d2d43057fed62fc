package types_test

import (
	"encoding/json"
	"testing"
	"time"

	types "github.com/okian/wellness/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricSummary(t *testing.T) {
	Convey("Given a metric summary without stored points", t, func() {
		s := types.MetricSummary{MetricType: "steps"}

		Convey("When encoded to JSON", func() {
			b, err := json.Marshal(s)
			So(err, ShouldBeNil)

			Convey("Then latest fields should be omitted rather than zero", func() {
				So(string(b), ShouldNotContainSubstring, "latest_value")
				So(string(b), ShouldNotContainSubstring, "latest_at")
				So(string(b), ShouldContainSubstring, `"count":0`)
			})
		})

		Convey("When a latest value of zero is present", func() {
			zero := 0.0
			at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			s.LatestValue = &zero
			s.LatestAt = &at
			b, err := json.Marshal(s)
			So(err, ShouldBeNil)

			Convey("Then the zero should be kept", func() {
				So(string(b), ShouldContainSubstring, `"latest_value":0`)
			})
		})
	})
}

func TestDebugReport(t *testing.T) {
	Convey("Given a debug report for a user without a connection", t, func() {
		r := types.DebugReport{UserID: "u1", Days: 7}

		Convey("Then the connection should encode as null", func() {
			b, err := json.Marshal(r)
			So(err, ShouldBeNil)
			So(string(b), ShouldContainSubstring, `"connection":null`)
		})
	})
}

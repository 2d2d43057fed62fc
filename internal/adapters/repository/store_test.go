package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/wellness/internal/domain/model"
)

// stepClock advances one millisecond per call so received_at is strictly increasing.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock { return &stepClock{now: start} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// exerciseStore runs the behaviour every Store implementation must share.
// Each run uses fresh identifiers so it can target a shared database.
func exerciseStore(t *testing.T, newStore func(opts ...Option) Store) {
	ctx := context.Background()
	run := uuid.NewString()
	clock := newStepClock(time.Now().UTC().Add(-time.Hour).Truncate(time.Second))
	store := newStore(WithClock(clock.Now))

	Convey("Raw events are appended verbatim and paged by keyset", func() {
		marker := "marker-" + run
		var appended []model.RawEvent
		for i := 0; i < 5; i++ {
			body := json.RawMessage(fmt.Sprintf(`{"dailies":[{"userId":%q,"steps":%d}]}`, marker, i))
			ev, err := store.Append(ctx, body)
			So(err, ShouldBeNil)
			So(ev.ID, ShouldNotBeEmpty)
			appended = append(appended, ev)
		}

		f := RawEventFilter{Contains: marker}
		n, err := store.Count(ctx, f)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 5)

		page1, err := store.ListAfter(ctx, f, Cursor{}, 2)
		So(err, ShouldBeNil)
		So(page1, ShouldHaveLength, 2)
		So(page1[0].ID, ShouldEqual, appended[0].ID)

		var decoded map[string]any
		So(json.Unmarshal(page1[0].Payload, &decoded), ShouldBeNil)
		So(decoded["dailies"], ShouldNotBeNil)

		page2, err := store.ListAfter(ctx, f, CursorAfter(page1[1]), 10)
		So(err, ShouldBeNil)
		So(page2, ShouldHaveLength, 3)
		So(page2[2].ID, ShouldEqual, appended[4].ID)

		Convey("And time filters bound the window", func() {
			from := appended[1].ReceivedAt
			to := appended[3].ReceivedAt
			n, err := store.Count(ctx, RawEventFilter{From: &from, To: &to, Contains: marker})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
		})

		Convey("And invalid input is rejected", func() {
			_, err := store.ListAfter(ctx, f, Cursor{}, 0)
			So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
			_, err = store.Append(ctx, json.RawMessage(`{not json`))
			So(errors.Is(err, ErrInvalidPayload), ShouldBeTrue)
		})
	})

	Convey("Connections resolve by vendor account and by user", func() {
		user := "user-" + run
		ext := "ext-" + run
		c, err := store.Create(ctx, model.Connection{
			UserID:            user,
			ExternalAccountID: ext,
			DeviceType:        model.DeviceGarmin,
			Scopes:            []string{"HEALTH_EXPORT"},
		})
		So(err, ShouldBeNil)
		So(c.ID, ShouldNotBeEmpty)

		got, err := store.FindByExternalID(ctx, model.DeviceGarmin, ext)
		So(err, ShouldBeNil)
		So(got.ID, ShouldEqual, c.ID)
		So(got.Scopes, ShouldResemble, []string{"HEALTH_EXPORT"})

		got, err = store.ConnectionForUser(ctx, user, model.DeviceGarmin)
		So(err, ShouldBeNil)
		So(got.ExternalAccountID, ShouldEqual, ext)

		_, err = store.Create(ctx, model.Connection{UserID: user, ExternalAccountID: "other", DeviceType: model.DeviceGarmin})
		So(errors.Is(err, ErrDuplicateConnection), ShouldBeTrue)

		_, err = store.FindByExternalID(ctx, model.DeviceGarmin, "missing-"+run)
		So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)

		So(store.Delete(ctx, c.ID), ShouldBeNil)
		_, err = store.ConnectionForUser(ctx, user, model.DeviceGarmin)
		So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		So(errors.Is(store.Delete(ctx, c.ID), model.ErrNotFound), ShouldBeTrue)
	})

	Convey("Observations upsert on their key", func() {
		conn, err := store.Create(ctx, model.Connection{
			UserID:            "metrics-" + run,
			ExternalAccountID: "metrics-ext-" + run,
			DeviceType:        model.DeviceGarmin,
		})
		So(err, ShouldBeNil)
		day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

		o := model.Observation{
			ConnectionID: conn.ID,
			MetricType:   model.MetricSteps,
			Value:        1000,
			Unit:         "steps",
			Timestamp:    day,
			Source:       model.SourceWebhook,
		}
		So(store.Upsert(ctx, o), ShouldBeNil)
		o.Value = 1200
		o.Source = model.SourceBackfill
		o.Timestamp = day.Add(400 * time.Millisecond)
		So(store.Upsert(ctx, o), ShouldBeNil)
		So(store.Upsert(ctx, model.Observation{
			ConnectionID: conn.ID,
			MetricType:   model.MetricHRV,
			Value:        48,
			Unit:         "ms",
			Timestamp:    day.Add(time.Hour),
		}), ShouldBeNil)

		Convey("Then the last write wins and no duplicate appears", func() {
			obs, err := store.Observations(ctx, conn.ID, []string{model.MetricSteps}, day, day.Add(24*time.Hour))
			So(err, ShouldBeNil)
			So(obs, ShouldHaveLength, 1)
			So(obs[0].Value, ShouldEqual, 1200)
			So(obs[0].Source, ShouldEqual, model.SourceBackfill)
			So(obs[0].Timestamp.Equal(day), ShouldBeTrue)
		})

		Convey("Then an empty type list reads every metric and windows are half-open", func() {
			obs, err := store.Observations(ctx, conn.ID, nil, day, day.Add(time.Hour))
			So(err, ShouldBeNil)
			So(obs, ShouldHaveLength, 1)
			obs, err = store.Observations(ctx, conn.ID, nil, day, day.Add(time.Hour+time.Second))
			So(err, ShouldBeNil)
			So(obs, ShouldHaveLength, 2)
		})

		Convey("Then summaries report counts and the latest point", func() {
			sums, err := store.Summaries(ctx, conn.ID, day, day.Add(24*time.Hour))
			So(err, ShouldBeNil)
			So(sums, ShouldHaveLength, 2)
			So(sums[0].MetricType, ShouldEqual, model.MetricHRV)
			So(*sums[0].LatestValue, ShouldEqual, 48)
			So(sums[1].Count, ShouldEqual, 1)
			So(sums[1].Unit, ShouldEqual, "steps")
		})

		Convey("Then invalid observations are rejected", func() {
			err := store.Upsert(ctx, model.Observation{ConnectionID: conn.ID, Timestamp: day})
			So(errors.Is(err, ErrInvalidObservation), ShouldBeTrue)
		})
	})
}

package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/normalize"
	"github.com/okian/wellness/internal/domain/pipeline"
	"github.com/okian/wellness/internal/domain/resolve"
	. "github.com/smartystreets/goconvey/convey"
)

type connections map[string]string

func (c connections) FindByExternalID(_ context.Context, _ model.DeviceType, id string) (model.Connection, error) {
	conn, ok := c[id]
	if !ok {
		return model.Connection{}, fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}
	return model.Connection{ID: conn, ExternalAccountID: id}, nil
}

type memWriter struct {
	mu     sync.Mutex
	rows   map[model.ObservationKey]model.Observation
	writes int
	failOn string
}

func newMemWriter() *memWriter {
	return &memWriter{rows: map[model.ObservationKey]model.Observation{}}
}

func (w *memWriter) Upsert(_ context.Context, o model.Observation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if o.MetricType == w.failOn {
		return errors.New("write timeout")
	}
	w.rows[o.Key()] = o
	return nil
}

func (w *memWriter) snapshot() map[model.ObservationKey]model.Observation {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[model.ObservationKey]model.Observation, len(w.rows))
	for k, v := range w.rows {
		out[k] = v
	}
	return out
}

const dailyPayload = `{"dailies":[{"userId":"g-1","startTimeInSeconds":1709251200,
	"steps":8000,"activeKilocalories":300,"restingHeartRateInBeatsPerMinute":55}],
	"hrv":[{"userId":"g-1","calendarDate":"2024-03-01","lastNightAvg":62},
	       {"userId":"ghost","calendarDate":"2024-03-01","lastNightAvg":40}]}`

func newProcessor(w pipeline.MetricWriter) *pipeline.Processor {
	factory := resolve.NewFactory(connections{"g-1": "conn-1"})
	return pipeline.NewProcessor(normalize.New(), factory, w,
		pipeline.WithConcurrency(4), pipeline.WithStoreTimeout(time.Second))
}

func TestProcess(t *testing.T) {
	Convey("Given a processor with one linked account", t, func() {
		ctx := context.Background()
		w := newMemWriter()
		p := newProcessor(w)

		Convey("When a payload is processed", func() {
			sum, err := p.Process(ctx, []byte(dailyPayload))

			Convey("Then linked observations are written and unlinked ones dropped", func() {
				So(err, ShouldBeNil)
				So(sum.Wrappers, ShouldEqual, 3)
				So(sum.Extracted, ShouldEqual, 5)
				So(sum.Succeeded, ShouldEqual, 4)
				So(sum.Unresolved, ShouldEqual, 1)
				So(sum.UnresolvedAccounts, ShouldEqual, 1)
				So(sum.Failed, ShouldEqual, 0)
				So(w.snapshot(), ShouldHaveLength, 4)
			})

			Convey("Then observations carry the webhook source", func() {
				for _, o := range w.snapshot() {
					So(o.Source, ShouldEqual, model.SourceWebhook)
					So(o.ConnectionID, ShouldEqual, "conn-1")
				}
			})
		})

		Convey("When the same payload is processed twice", func() {
			_, _ = p.Process(ctx, []byte(dailyPayload))
			first := w.snapshot()
			_, _ = p.Process(ctx, []byte(dailyPayload))

			Convey("Then the stored rows are identical", func() {
				So(w.snapshot(), ShouldResemble, first)
			})
		})

		Convey("When only a steps daily is posted", func() {
			_, err := p.Process(ctx, []byte(`{"dailies":[{"userId":"g-1","calendarDate":"2024-03-01","steps":8000}]}`))
			rows := w.snapshot()

			Convey("Then exactly one steps row exists", func() {
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				for _, o := range rows {
					So(o.MetricType, ShouldEqual, "steps")
					So(o.Value, ShouldEqual, 8000)
					So(o.Unit, ShouldEqual, "steps")
				}
			})
		})

		Convey("When every account is unlinked", func() {
			sum, err := p.Process(ctx, []byte(`{"hrv":[{"userId":"ghost","calendarDate":"2024-03-01","lastNightAvg":40}]}`))

			Convey("Then nothing is written and no error is returned", func() {
				So(err, ShouldBeNil)
				So(sum.Succeeded, ShouldEqual, 0)
				So(w.writes, ShouldEqual, 0)
			})
		})

		Convey("When one metric fails to write", func() {
			w.failOn = "steps"
			sum, err := p.Process(ctx, []byte(dailyPayload))

			Convey("Then siblings are still written", func() {
				So(err, ShouldBeNil)
				So(sum.Failed, ShouldEqual, 1)
				So(sum.Succeeded, ShouldEqual, 3)
				So(w.snapshot(), ShouldHaveLength, 3)
			})
		})

		Convey("When running with backfill source", func() {
			_, _ = p.Process(ctx, []byte(dailyPayload), pipeline.WithSource(model.SourceBackfill))

			Convey("Then rows are tagged accordingly", func() {
				for _, o := range w.snapshot() {
					So(o.Source, ShouldEqual, model.SourceBackfill)
				}
			})
		})
	})
}

func TestProcessDryRun(t *testing.T) {
	Convey("Given the same payload processed for real and as a dry run", t, func() {
		ctx := context.Background()
		live := newMemWriter()
		dry := newMemWriter()

		liveSum, err1 := newProcessor(live).Process(ctx, []byte(dailyPayload))
		drySum, err2 := newProcessor(dry).Process(ctx, []byte(dailyPayload), pipeline.WithDryRun())

		Convey("Then the dry run writes nothing but reports the same counts", func() {
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(dry.writes, ShouldEqual, 0)
			So(drySum, ShouldResemble, liveSum)
		})
	})
}

func TestProcessSharedResolver(t *testing.T) {
	Convey("Given a resolver shared across calls", t, func() {
		ctx := context.Background()
		factory := resolve.NewFactory(connections{"g-1": "conn-1"})
		p := pipeline.NewProcessor(normalize.New(), factory, newMemWriter())
		r := factory.Scope()

		_, _ = p.Process(ctx, []byte(dailyPayload), pipeline.WithResolver(r))
		_, _ = p.Process(ctx, []byte(dailyPayload), pipeline.WithResolver(r))

		Convey("Then each account is looked up once for the whole run", func() {
			So(r.StoreLookups(), ShouldEqual, 2)
		})
	})
}

func TestProcessCanceled(t *testing.T) {
	Convey("Given a canceled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		w := newMemWriter()

		sum, err := newProcessor(w).Process(ctx, []byte(dailyPayload))

		Convey("Then the context error is returned with a partial summary", func() {
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(sum.Extracted, ShouldEqual, 5)
		})
	})
}

func TestSummaryAdd(t *testing.T) {
	Convey("Given two summaries", t, func() {
		a := pipeline.Summary{Extracted: 3, Succeeded: 2, Failed: 1}
		a.Add(pipeline.Summary{Extracted: 4, Succeeded: 4, Unresolved: 1})

		Convey("Then Add sums every field", func() {
			So(a, ShouldResemble, pipeline.Summary{Extracted: 7, Succeeded: 6, Failed: 1, Unresolved: 1})
		})
	})
}

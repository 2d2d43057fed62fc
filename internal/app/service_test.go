package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/wellness/internal/app"
	"github.com/okian/wellness/internal/adapters/repository"
	"github.com/okian/wellness/internal/config"
	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func memoryConfig() *config.Config {
	cfg := config.New()
	cfg.StorageDriver = config.StorageMemory
	return cfg
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should use the default configuration", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Config().StorageDriver, ShouldEqual, config.StorageMemory)
			So(svc.Store(), ShouldBeNil)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		cfg := memoryConfig()
		cfg.WriteConcurrency = 3
		svc := service.New(service.WithConfig(cfg), service.WithLogger(logger.NewNop()), service.WithConfig(nil))

		Convey("Then the configuration should be kept and nil options ignored", func() {
			So(svc.Config(), ShouldEqual, cfg)
		})
	})
}

func TestService_Start(t *testing.T) {
	Convey("Given a new service backed by memory", t, func() {
		svc := service.New(service.WithConfig(memoryConfig()))
		defer svc.Stop()

		Convey("When calling accessors before start", func() {
			_, err := svc.APIDependencies()

			Convey("Then the dependencies should not be available", func() {
				So(err, ShouldEqual, service.ErrNotStarted)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
				So(svc.Store(), ShouldNotBeNil)
				So(svc.Processor(), ShouldNotBeNil)
				So(svc.Resolvers(), ShouldNotBeNil)
			})

			Convey("And it should report signature verification as disabled", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["signatureVerification"], ShouldEqual, false)
				So(stats["sharedCache"], ShouldEqual, false)
				So(stats["rawEvents"], ShouldEqual, int64(0))
			})

			Convey("And a second start should be a no-op", func() {
				store := svc.Store()
				So(svc.Start(ctx), ShouldBeNil)
				So(svc.Store(), ShouldEqual, store)
			})

			Convey("And API dependencies should be wired", func() {
				deps, err := svc.APIDependencies()
				So(err, ShouldBeNil)
				So(deps.Processor, ShouldNotBeNil)
				So(deps.Verifier.Enabled(), ShouldBeFalse)
				So(len(svc.APIOptions()), ShouldEqual, 4)
			})
		})
	})

	Convey("Given a service configured for postgres without a DSN", t, func() {
		cfg := config.New()
		cfg.StorageDriver = config.StoragePostgres
		svc := service.New(service.WithConfig(cfg))

		Convey("When starting the service", func() {
			err := svc.Start(context.Background())

			Convey("Then it should fail to open the store", func() {
				So(err, ShouldEqual, service.ErrMissingDSN)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})

	Convey("Given a secret is configured", t, func() {
		cfg := memoryConfig()
		cfg.GarminConsumerSecret = "secret"
		svc := service.New(service.WithConfig(cfg))
		defer svc.Stop()
		So(svc.Start(context.Background()), ShouldBeNil)

		Convey("Then verification should be enforced", func() {
			deps, err := svc.APIDependencies()
			So(err, ShouldBeNil)
			So(deps.Verifier.Enabled(), ShouldBeTrue)
		})
	})
}

func TestService_Stop(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithConfig(memoryConfig()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := svc.Start(ctx)
		So(err, ShouldBeNil)

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, false)
				So(svc.Store(), ShouldBeNil)
			})

			Convey("And stopping again should not panic", func() {
				So(svc.Stop, ShouldNotPanic)
			})
		})
	})

	Convey("Given a service with an injected store", t, func() {
		store := repository.NewMemory()
		svc := service.New(service.WithConfig(memoryConfig()), service.WithStore(store))
		So(svc.Start(context.Background()), ShouldBeNil)

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then the injected store should still be usable", func() {
				_, err := store.Count(context.Background(), repository.RawEventFilter{})
				So(err, ShouldBeNil)
				So(svc.Store(), ShouldEqual, store)
			})
		})
	})
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]string
	closed  bool
}

func newMapCache() *mapCache { return &mapCache{entries: map[string]string{}} }

func (c *mapCache) Get(_ context.Context, externalID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[externalID]
	return id, ok, nil
}

func (c *mapCache) Set(_ context.Context, externalID, connectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[externalID] = connectionID
	return nil
}

func (c *mapCache) Forget(_ context.Context, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, externalID)
	return nil
}

func (c *mapCache) Close() error {
	c.closed = true
	return nil
}

func (c *mapCache) has(externalID string) bool {
	_, ok, _ := c.Get(context.Background(), externalID)
	return ok
}

func TestService_DeleteConnection(t *testing.T) {
	Convey("Given a started service with a shared connection cache", t, func() {
		ctx := context.Background()
		shared := newMapCache()
		svc := service.New(service.WithConfig(memoryConfig()), service.WithSharedCache(shared), service.WithLogger(logger.NewNop()))
		So(svc.Start(ctx), ShouldBeNil)

		_, err := svc.Store().Create(ctx, model.Connection{UserID: "u1", ExternalAccountID: "ext-1", DeviceType: model.DeviceGarmin})
		So(err, ShouldBeNil)
		payload := []byte(`{"dailies":[{"userId":"ext-1","calendarDate":"2024-03-01","steps":8000}]}`)
		sum, err := svc.Processor().Process(ctx, payload)
		So(err, ShouldBeNil)
		So(sum.Succeeded, ShouldEqual, 1)
		So(shared.has("ext-1"), ShouldBeTrue)

		Convey("When the user's connection is deleted", func() {
			err := svc.DeleteConnection(ctx, "u1")

			Convey("Then the shared cache entry should be dropped", func() {
				So(err, ShouldBeNil)
				So(shared.has("ext-1"), ShouldBeFalse)
			})

			Convey("And later payloads for the account should be unresolved", func() {
				sum, err := svc.Processor().Process(ctx, payload)
				So(err, ShouldBeNil)
				So(sum.Unresolved, ShouldEqual, 1)
				So(sum.Succeeded, ShouldEqual, 0)
			})

			Convey("And deleting again should report not found", func() {
				So(errors.Is(svc.DeleteConnection(ctx, "u1"), model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the service stops", func() {
			svc.Stop()

			Convey("Then the injected cache should stay open", func() {
				So(shared.closed, ShouldBeFalse)
			})
		})
	})

	Convey("Given a service that has not started", t, func() {
		svc := service.New(service.WithConfig(memoryConfig()))

		Convey("Then deleting a connection should fail", func() {
			So(svc.DeleteConnection(context.Background(), "u1"), ShouldEqual, service.ErrNotStarted)
		})
	})
}

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/wellness/internal/backfill"
	"github.com/okian/wellness/internal/domain/pipeline"
	"github.com/okian/wellness/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestParseDate(t *testing.T) {
	convey.Convey("Given date flags", t, func() {
		convey.Convey("Then an empty value should mean no bound", func() {
			d, err := parseDate("")
			convey.So(err, convey.ShouldBeNil)
			convey.So(d, convey.ShouldBeNil)
		})

		convey.Convey("Then a day should parse as UTC midnight", func() {
			d, err := parseDate("2024-03-01")
			convey.So(err, convey.ShouldBeNil)
			convey.So(d.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), convey.ShouldBeTrue)
		})

		convey.Convey("Then other formats should be rejected", func() {
			_, err := parseDate("03/01/2024")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestPrintSummary(t *testing.T) {
	convey.Convey("Given run statistics", t, func() {
		var buf bytes.Buffer
		printSummary(&buf, backfill.Stats{
			Total:       10,
			Processed:   4,
			Batches:     1,
			Summary:     pipeline.Summary{Extracted: 8, Succeeded: 6, Failed: 2},
			DryRun:      true,
			Interrupted: true,
		})

		convey.Convey("Then the summary should show counts and the success rate", func() {
			out := buf.String()
			convey.So(out, convey.ShouldContainSubstring, "(dry run)")
			convey.So(out, convey.ShouldContainSubstring, "4/10 processed")
			convey.So(out, convey.ShouldContainSubstring, "success rate: 75.0%")
			convey.So(out, convey.ShouldContainSubstring, "interrupted")
		})
	})
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the backfill command configured with the memory store", t, func() {
		t.Setenv("WELLNESS_STORAGE_DRIVER", "memory")
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)

		convey.Convey("When running a dry run", func() {
			cmd.SetArgs([]string{"--dry-run", "--batch-size=10", "--start-date=2024-03-01"})
			err := cmd.ExecuteContext(context.Background())

			convey.Convey("Then it should refuse to replay an empty store", func() {
				convey.So(errors.Is(err, errMemoryStore), convey.ShouldBeTrue)
				convey.So(out.String(), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the end date is malformed", func() {
			cmd.SetArgs([]string{"--end-date=tomorrow"})
			err := cmd.ExecuteContext(context.Background())

			convey.Convey("Then the flag should be named in the error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(strings.HasPrefix(err.Error(), "--end-date"), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the batch size is not positive", func() {
			cmd.SetArgs([]string{"--batch-size=0"})
			err := cmd.ExecuteContext(context.Background())

			convey.Convey("Then it should be rejected", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "--batch-size")
			})
		})
	})
}

func TestRootCommandPostgres(t *testing.T) {
	convey.Convey("Given the backfill command configured with an unreachable postgres", t, func() {
		t.Setenv("WELLNESS_STORAGE_DRIVER", "postgres")
		t.Setenv("WELLNESS_DATABASE_DSN", "host=127.0.0.1 port=1 user=wellness dbname=wellness sslmode=disable connect_timeout=1")
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)

		convey.Convey("When running a dry run", func() {
			cmd.SetArgs([]string{"--dry-run"})
			err := cmd.ExecuteContext(context.Background())

			convey.Convey("Then the store should be opened and its failure reported", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, errMemoryStore), convey.ShouldBeFalse)
				convey.So(err.Error(), convey.ShouldContainSubstring, "postgres")
			})
		})
	})
}

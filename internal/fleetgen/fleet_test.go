package fleetgen_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/internal/fleetgen"
)

func TestFleet(t *testing.T) {
	Convey("Given a generated fleet", t, func() {
		ctx := context.Background()
		fleet := fleetgen.New(
			fleetgen.WithSize(500),
			fleetgen.WithSeed(7),
			fleetgen.WithShards(3),
		)

		vins, err := fleet.AllVINs(ctx)
		So(err, ShouldBeNil)

		Convey("Then every generated VIN is well formed and unique", func() {
			So(len(vins), ShouldEqual, fleet.Size())
			seen := make(map[string]bool, len(vins))
			for _, vin := range vins {
				So(model.ValidVIN(vin), ShouldBeTrue)
				So(seen[vin], ShouldBeFalse)
				seen[vin] = true
			}
		})

		Convey("Then generation is deterministic for the same seed", func() {
			twin := fleetgen.New(
				fleetgen.WithSize(500),
				fleetgen.WithSeed(7),
				fleetgen.WithShards(3),
			)
			twinVINs, terr := twin.AllVINs(ctx)
			So(terr, ShouldBeNil)
			So(twinVINs, ShouldResemble, vins)
		})

		Convey("Then a different seed produces a different population", func() {
			other := fleetgen.New(
				fleetgen.WithSize(500),
				fleetgen.WithSeed(8),
			)
			otherVINs, oerr := other.AllVINs(ctx)
			So(oerr, ShouldBeNil)
			So(otherVINs, ShouldNotResemble, vins)
		})

		Convey("When inputs are fetched for a subset", func() {
			want := vins[:5]
			inputs, ferr := fleet.Fetch(ctx, append(append([]string(nil), want...), "5YJSA1E26MF999999"))
			So(ferr, ShouldBeNil)

			Convey("Then known VINs return inputs and unknown VINs are omitted", func() {
				So(inputs, ShouldHaveLength, 5)
				for i, in := range inputs {
					So(in.VIN, ShouldEqual, want[i])
					So(in.Attributes.ModelClass, ShouldNotBeEmpty)
					So(in.ServicingLocation, ShouldNotBeEmpty)
				}
			})
		})

		Convey("When the change feed is read shard by shard", func() {
			since := time.Now().Add(-24 * time.Hour)
			all := make(map[string]int)
			total := 0
			for shard := 0; shard < fleet.Shards(); shard++ {
				changed, cerr := fleet.ChangedVINs(ctx, shard, since)
				So(cerr, ShouldBeNil)
				total += len(changed)
				for _, vin := range changed {
					all[vin]++
				}
			}

			Convey("Then shards report disjoint VIN sets", func() {
				So(len(all), ShouldEqual, total)
				for _, count := range all {
					So(count, ShouldEqual, 1)
				}
			})

			Convey("Then roughly the configured fraction is reported changed", func() {
				So(total, ShouldBeGreaterThan, 0)
				So(total, ShouldBeLessThan, fleet.Size()/2)
			})

			Convey("Then membership is stable across reads", func() {
				again, cerr := fleet.ChangedVINs(ctx, 0, since)
				So(cerr, ShouldBeNil)
				first, ferr := fleet.ChangedVINs(ctx, 0, since)
				So(ferr, ShouldBeNil)
				So(again, ShouldResemble, first)
			})
		})

		Convey("When a shard index is out of range", func() {
			_, err := fleet.ChangedVINs(ctx, fleet.Shards(), time.Now())
			So(err, ShouldNotBeNil)
		})
	})
}

// Package fleetgen provides a deterministic simulated fleet: input
// contracts, a full inventory, and sharded change feeds. It stands in
// for the upstream vehicle data platform in development and tests.
package fleetgen

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// vinAlphabet excludes I, O and Q per the VIN standard.
const vinAlphabet = "ABCDEFGHJKLMNPRSTUVWXYZ0123456789"

// Default fleet shape constants.
const (
	defaultSize        = 10_000
	defaultSeed        = 1
	defaultShards      = 4
	defaultChangeRate  = 0.18
	defaultMissingRate = 0.03
	defaultMaxAgeYears = 14
)

// MeasurementSpec describes one simulated telemetry channel.
type MeasurementSpec struct {
	Name string
	Min  float64
	Max  float64
}

// Fleet is an immutable simulated vehicle population. Generation is
// fully determined by the seed, so tests can rely on exact contents.
type Fleet struct {
	size        int
	seed        int64
	shards      int
	changeRate  float64
	missingRate float64

	modelClasses []string
	powertrains  []string
	regions      []string
	usageClasses []string
	locations    []string
	channels     []MeasurementSpec

	mu    sync.RWMutex
	vins  []string
	byVIN map[string]model.VehicleInput
}

// Option applies a configuration option to the Fleet.
type Option func(*Fleet)

// WithSize sets the vehicle count.
func WithSize(n int) Option {
	return func(f *Fleet) {
		if n > 0 {
			f.size = n
		}
	}
}

// WithSeed sets the generation seed.
func WithSeed(seed int64) Option {
	return func(f *Fleet) { f.seed = seed }
}

// WithShards sets the change feed shard count.
func WithShards(n int) Option {
	return func(f *Fleet) {
		if n > 0 {
			f.shards = n
		}
	}
}

// WithChangeRate sets the fraction of vehicles reported as changed.
func WithChangeRate(r float64) Option {
	return func(f *Fleet) {
		if r >= 0 && r <= 1 {
			f.changeRate = r
		}
	}
}

// WithMissingRate sets the fraction of absent measurements.
func WithMissingRate(r float64) Option {
	return func(f *Fleet) {
		if r >= 0 && r <= 1 {
			f.missingRate = r
		}
	}
}

// WithAttributeSpace sets the cohort key dimensions vehicles draw from.
// These should mirror the catalog's declared attribute space.
func WithAttributeSpace(modelClasses, powertrains, regions, usageClasses []string) Option {
	return func(f *Fleet) {
		if len(modelClasses) > 0 {
			f.modelClasses = modelClasses
		}
		if len(powertrains) > 0 {
			f.powertrains = powertrains
		}
		if len(regions) > 0 {
			f.regions = regions
		}
		if len(usageClasses) > 0 {
			f.usageClasses = usageClasses
		}
	}
}

// WithLocations sets the servicing location pool.
func WithLocations(locations []string) Option {
	return func(f *Fleet) {
		if len(locations) > 0 {
			f.locations = locations
		}
	}
}

// WithChannels sets the telemetry channels generated per vehicle.
func WithChannels(channels []MeasurementSpec) Option {
	return func(f *Fleet) {
		if len(channels) > 0 {
			f.channels = channels
		}
	}
}

// New generates a fleet.
func New(opts ...Option) *Fleet {
	f := &Fleet{
		size:         defaultSize,
		seed:         defaultSeed,
		shards:       defaultShards,
		changeRate:   defaultChangeRate,
		missingRate:  defaultMissingRate,
		modelClasses: []string{"sedan", "suv", "van"},
		powertrains:  []string{"ice", "hybrid", "ev"},
		regions:      []string{"north", "south", "coastal"},
		usageClasses: []string{"light", "moderate", "heavy"},
		locations:    []string{"DEPOT-N1", "DEPOT-S1", "DEPOT-C1", "DEPOT-C2"},
		channels: []MeasurementSpec{
			{Name: "cold_starts_per_week", Min: 0, Max: 40},
			{Name: "avg_load_factor", Min: 0, Max: 1},
			{Name: "vibration_rms", Min: 0, Max: 12},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.generate()
	return f
}

// generate builds the population from the seed.
func (f *Fleet) generate() {
	rng := rand.New(rand.NewSource(f.seed))
	now := time.Now().UTC()

	f.vins = make([]string, 0, f.size)
	f.byVIN = make(map[string]model.VehicleInput, f.size)

	for i := 0; i < f.size; i++ {
		vin := randomVIN(rng)
		if _, dup := f.byVIN[vin]; dup {
			continue
		}

		measurements := make(map[string]model.Measurement, len(f.channels))
		for _, ch := range f.channels {
			if rng.Float64() < f.missingRate {
				continue
			}
			measurements[ch.Name] = model.Measurement{
				Value:     ch.Min + rng.Float64()*(ch.Max-ch.Min),
				Timestamp: now.Add(-time.Duration(rng.Intn(72)) * time.Hour),
			}
		}

		in := model.VehicleInput{
			VIN: vin,
			Attributes: model.Attributes{
				ModelClass: pick(rng, f.modelClasses),
				Powertrain: pick(rng, f.powertrains),
				Region:     pick(rng, f.regions),
				UsageClass: pick(rng, f.usageClasses),
				AgeYears:   rng.Intn(defaultMaxAgeYears + 1),
			},
			Measurements:      measurements,
			ServicingLocation: pick(rng, f.locations),
		}
		f.vins = append(f.vins, vin)
		f.byVIN[vin] = in
	}
}

func randomVIN(rng *rand.Rand) string {
	b := make([]byte, 17)
	for i := range b {
		b[i] = vinAlphabet[rng.Intn(len(vinAlphabet))]
	}
	return string(b)
}

func pick(rng *rand.Rand, vals []string) string {
	return vals[rng.Intn(len(vals))]
}

// Fetch implements the vehicle input source. Unknown VINs are omitted
// from the result, matching upstream contract semantics.
func (f *Fleet) Fetch(_ context.Context, vins []string) ([]model.VehicleInput, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.VehicleInput, 0, len(vins))
	for _, vin := range vins {
		if in, ok := f.byVIN[vin]; ok {
			out = append(out, in)
		}
	}
	return out, nil
}

// AllVINs implements the full refresh inventory.
func (f *Fleet) AllVINs(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.vins))
	copy(out, f.vins)
	return out, nil
}

// Size returns the generated vehicle count, net of VIN collisions.
func (f *Fleet) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vins)
}

// Name implements the change feed source.
func (f *Fleet) Name() string { return "telemetry" }

// Shards implements the change feed source.
func (f *Fleet) Shards() int { return f.shards }

// ChangedVINs reports a deterministic pseudo-random subset of the shard's
// vehicles as changed. Membership depends only on the VIN and the seed.
func (f *Fleet) ChangedVINs(_ context.Context, shard int, _ time.Time) ([]string, error) {
	if shard < 0 || shard >= f.shards {
		return nil, fmt.Errorf("shard %d out of range [0,%d)", shard, f.shards)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	for _, vin := range f.vins {
		h := fnv32a(vin)
		if int(h)%f.shards != shard {
			continue
		}
		// Second hash decides change membership independent of sharding.
		if float64(fnv32a(vin+"/changed")%10_000)/10_000.0 < f.changeRate {
			out = append(out, vin)
		}
	}
	return out, nil
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

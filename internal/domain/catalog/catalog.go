// Package catalog holds versioned cohort definitions and the severity
// table, with atomic hot reload.
//
// A Snapshot is immutable once built. Workers read the snapshot they were
// handed at unit start without locking; reloads swap a fresh snapshot by
// reference and never mutate in place.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/harbinger-io/harbinger/internal/domain/stressor"
	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"

	"sync/atomic"
)

// defaultResultTTL applies when the document does not set result_ttl_hours.
const defaultResultTTL = 26 * time.Hour

// Prior is a cohort's base failure rate with its provenance.
type Prior struct {
	Probability float64
	Provenance  string
	SampleSize  int
}

// Key is one point of the model-class x region x usage-class space.
type Key struct {
	ModelClass string
	Region     string
	UsageClass string
}

// Cohort is an immutable cohort definition within a snapshot.
type Cohort struct {
	ID        string
	Keys      []Key
	Prior     Prior
	Stressors []stressor.Def

	// DefHash fingerprints the definition so the change detector can tell
	// which cohorts a reload actually touched.
	DefHash string
}

// Snapshot is one immutable catalog version: cohorts, key index, default
// cohort, severity table.
type Snapshot struct {
	Version            int
	Hash               string
	Cohorts            map[string]*Cohort
	Default            *Cohort
	Severity           *SeverityTable
	AgeEscalationYears int
	UsageClasses       []string
	ResultTTL          time.Duration

	index map[Key]string
}

// Lookup returns the cohort covering key, or nil when the key lies outside
// the declared attribute space.
func (s *Snapshot) Lookup(key Key) *Cohort {
	id, ok := s.index[key]
	if !ok {
		return nil
	}
	return s.Cohorts[id]
}

// CohortHashes returns id -> definition hash for change detection.
func (s *Snapshot) CohortHashes() map[string]string {
	out := make(map[string]string, len(s.Cohorts))
	for id, c := range s.Cohorts {
		out[id] = c.DefHash
	}
	return out
}

// Catalog loads catalog documents and serves the active snapshot.
type Catalog struct {
	path    string
	active  atomic.Pointer[Snapshot]
	version atomic.Int64
	log     logger.Logger
}

// Option applies a configuration option to the Catalog.
type Option func(*Catalog)

// WithLogger sets a custom logger for the catalog.
func WithLogger(l logger.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a catalog bound to a document path. Call Load before use.
func New(path string, opts ...Option) *Catalog {
	c := &Catalog{
		path: path,
		log:  logger.Get().Named("catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads, validates and atomically activates the document at the
// configured path. On error the previous snapshot (if any) stays active.
func (c *Catalog) Load(ctx context.Context) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	return c.LoadBytes(ctx, data)
}

// LoadBytes validates raw document bytes and activates the snapshot.
func (c *Catalog) LoadBytes(ctx context.Context, data []byte) error {
	doc, err := parseDocument(data)
	if err != nil {
		metrics.RecordCatalogReloadFailure()
		return err
	}

	snap, err := buildSnapshot(doc)
	if err != nil {
		metrics.RecordCatalogReloadFailure()
		return err
	}

	sum := sha256.Sum256(data)
	snap.Hash = hex.EncodeToString(sum[:])
	snap.Version = int(c.version.Add(1))

	c.active.Store(snap)
	metrics.RecordCatalogReload()
	metrics.UpdateCatalogVersion(snap.Version)
	metrics.UpdateCatalogCohorts(len(snap.Cohorts))
	c.log.Info(ctx, "catalog snapshot activated",
		logger.Int("version", snap.Version),
		logger.Int("cohorts", len(snap.Cohorts)),
	)
	return nil
}

// Active returns the current snapshot, or ErrNoActive before first Load.
func (c *Catalog) Active() (*Snapshot, error) {
	snap := c.active.Load()
	if snap == nil {
		return nil, ErrNoActive
	}
	return snap, nil
}

// buildSnapshot validates the document and assembles an immutable snapshot.
func buildSnapshot(doc *document) (*Snapshot, error) {
	if len(doc.Cohorts) == 0 {
		return nil, fmt.Errorf("%w: no cohorts defined", ErrCohortConfiguration)
	}

	space := doc.AttributeSpace
	if len(space.ModelClasses) == 0 || len(space.Regions) == 0 || len(space.UsageClasses) == 0 {
		return nil, fmt.Errorf("%w: attribute_space must declare model_classes, regions and usage_classes", ErrCohortConfiguration)
	}
	declared := make(map[Key]bool)
	for _, mc := range space.ModelClasses {
		for _, r := range space.Regions {
			for _, uc := range space.UsageClasses {
				declared[Key{ModelClass: mc, Region: r, UsageClass: uc}] = false
			}
		}
	}

	snap := &Snapshot{
		Cohorts:            make(map[string]*Cohort, len(doc.Cohorts)),
		index:              make(map[Key]string),
		AgeEscalationYears: doc.AgeEscalationYears,
		UsageClasses:       append([]string(nil), space.UsageClasses...),
		ResultTTL:          defaultResultTTL,
	}
	if doc.ResultTTLHours > 0 {
		snap.ResultTTL = time.Duration(doc.ResultTTLHours) * time.Hour
	}

	for i := range doc.Cohorts {
		cd := &doc.Cohorts[i]
		cohort, err := buildCohort(cd)
		if err != nil {
			return nil, err
		}
		if _, dup := snap.Cohorts[cohort.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate cohort id %q", ErrCohortConfiguration, cohort.ID)
		}
		snap.Cohorts[cohort.ID] = cohort

		for _, key := range cohort.Keys {
			covered, known := declared[key]
			if !known {
				return nil, fmt.Errorf("%w: cohort %q key %+v outside declared attribute space", ErrCohortConfiguration, cohort.ID, key)
			}
			if covered {
				return nil, fmt.Errorf("%w: key %+v covered by both %q and %q", ErrCohortConfiguration, key, snap.index[key], cohort.ID)
			}
			declared[key] = true
			snap.index[key] = cohort.ID
		}
	}

	// Coverage gaps are as fatal as overlaps: the keys must partition the
	// declared space so matching can never tie or miss.
	var gaps []Key
	for key, covered := range declared {
		if !covered {
			gaps = append(gaps, key)
		}
	}
	if len(gaps) > 0 {
		sort.Slice(gaps, func(i, j int) bool {
			if gaps[i].ModelClass != gaps[j].ModelClass {
				return gaps[i].ModelClass < gaps[j].ModelClass
			}
			if gaps[i].Region != gaps[j].Region {
				return gaps[i].Region < gaps[j].Region
			}
			return gaps[i].UsageClass < gaps[j].UsageClass
		})
		return nil, fmt.Errorf("%w: %d uncovered attribute combinations, first %+v", ErrCohortConfiguration, len(gaps), gaps[0])
	}

	if doc.DefaultCohort.ID == "" {
		return nil, fmt.Errorf("%w: default_cohort is required", ErrCohortConfiguration)
	}
	def, err := buildCohort(&doc.DefaultCohort)
	if err != nil {
		return nil, err
	}
	snap.Default = def

	table, err := buildSeverityTable(doc.Severity)
	if err != nil {
		return nil, err
	}
	snap.Severity = table

	return snap, nil
}

// buildCohort validates one cohort definition and binds its stressor
// normalizers against the registry.
func buildCohort(cd *cohortDoc) (*Cohort, error) {
	if cd.ID == "" {
		return nil, fmt.Errorf("%w: cohort without id", ErrCohortConfiguration)
	}
	// Priors of exactly 0 or 1 make the odds conversion undefined.
	if cd.Prior.Probability <= 0 || cd.Prior.Probability >= 1 {
		return nil, fmt.Errorf("%w: cohort %q prior %v must be in (0, 1) exclusive", ErrCohortConfiguration, cd.ID, cd.Prior.Probability)
	}

	cohort := &Cohort{
		ID: cd.ID,
		Prior: Prior{
			Probability: cd.Prior.Probability,
			Provenance:  cd.Prior.Provenance,
			SampleSize:  cd.Prior.SampleSize,
		},
	}
	for _, k := range cd.Keys {
		cohort.Keys = append(cohort.Keys, Key{
			ModelClass: k.ModelClass,
			Region:     k.Region,
			UsageClass: k.UsageClass,
		})
	}

	names := make([]string, 0, len(cd.LikelihoodRatios))
	for name := range cd.LikelihoodRatios {
		names = append(names, name)
	}
	sort.Strings(names)

	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s|%.9f", cd.ID, cd.Prior.Probability)

	for _, name := range names {
		lr := cd.LikelihoodRatios[name]
		if lr.Ratio < 0 {
			return nil, fmt.Errorf("%w: cohort %q stressor %q ratio %v must be >= 0", ErrCohortConfiguration, cd.ID, name, lr.Ratio)
		}
		normalize, err := stressor.Bind(lr.Kind, lr.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: cohort %q stressor %q: %w", ErrCohortConfiguration, cd.ID, name, err)
		}
		cohort.Stressors = append(cohort.Stressors, stressor.Def{
			Name:       name,
			Ratio:      lr.Ratio,
			Definition: lr.Definition,
			Provenance: lr.Provenance,
			Kind:       lr.Kind,
			Params:     lr.Params,
			Normalize:  normalize,
		})
		fmt.Fprintf(hasher, "|%s:%.9f:%s:%+v", name, lr.Ratio, lr.Kind, lr.Params)
	}

	cohort.DefHash = hex.EncodeToString(hasher.Sum(nil))
	return cohort, nil
}

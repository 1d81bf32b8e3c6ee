package health

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/models"
)

const (
	defaultSweepInterval = 30 * time.Second
	probeConcurrency     = 4
	probeUserAgent       = "AutoBolt-Worker/HealthProbe"
)

// Prober runs synthetic reachability checks against directory submission
// URLs on a per-bucket cadence, independently of job processing. Probe
// outcomes feed the same rolling statistics as real attempts, which is how
// an unhealthy directory can recover without job traffic.
type Prober struct {
	monitor *Monitor
	catalog *catalog.Catalog
	config  *common.HealthConfig
	logger  arbor.ILogger
	client  *http.Client

	// loadFn samples the adaptive-concurrency resource proxy (0..1).
	// Cadences stretch above saturatedAbove and shrink below half of it.
	loadFn         func() float64
	saturatedAbove float64

	sweepInterval time.Duration
	scale         float64 // cadence multiplier, bounded by config.CadenceBound
}

// NewProber wires the prober to the monitor it reports into. loadFn may be
// nil, in which case cadences stay at their defaults.
func NewProber(monitor *Monitor, cat *catalog.Catalog, config *common.HealthConfig, saturatedAbove float64, loadFn func() float64, logger arbor.ILogger) *Prober {
	return &Prober{
		monitor:        monitor,
		catalog:        cat,
		config:         config,
		logger:         logger,
		client:         &http.Client{},
		loadFn:         loadFn,
		saturatedAbove: saturatedAbove,
		sweepInterval:  defaultSweepInterval,
		scale:          1.0,
	}
}

// Run blocks until the context is cancelled, sweeping the catalog on a fixed
// interval and probing any directory whose cadence has elapsed.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info().
		Int("directories", p.catalog.Len()).
		Str("cadence_critical", p.config.CadenceCritical.String()).
		Str("cadence_low", p.config.CadenceLow.String()).
		Msg("Health prober started")

	// Spread first probes over a full cadence window instead of probing the
	// whole catalog at startup
	p.seedProbeTimes()

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Health prober stopped")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Prober) seedProbeTimes() {
	now := time.Now().UTC()
	for _, directory := range p.catalog.Directories() {
		record, ok := p.monitor.Record(directory.ID)
		if ok && !record.LastProbeAt.IsZero() {
			continue
		}
		cadence := p.cadenceFor(p.bucketFor(directory))
		if cadence <= 0 {
			continue
		}
		offset := time.Duration(rand.Int63n(int64(cadence)))
		p.monitor.seedProbeTime(directory.ID, now.Add(offset-cadence))
	}
}

func (p *Prober) sweep(ctx context.Context) {
	p.updateScale()

	now := time.Now().UTC()
	var due []*models.Directory
	buckets := make(map[string]models.PriorityBucket)
	for _, directory := range p.catalog.Directories() {
		bucket := p.bucketFor(directory)
		record, ok := p.monitor.Record(directory.ID)
		if ok && !record.LastProbeAt.IsZero() && now.Sub(record.LastProbeAt) < p.cadenceFor(bucket) {
			continue
		}
		due = append(due, directory)
		buckets[directory.ID] = bucket
	}
	if len(due) == 0 {
		return
	}

	p.logger.Debug().Int("due", len(due)).Float64("cadence_scale", p.scale).Msg("Probing directories")

	sem := make(chan struct{}, probeConcurrency)
	var wg sync.WaitGroup
	for _, directory := range due {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		common.SafeGo(p.logger, "health-probe", func() {
			defer wg.Done()
			defer func() { <-sem }()
			obs := p.probe(ctx, directory)
			p.monitor.ObserveProbe(obs, buckets[directory.ID])
		})
	}
	wg.Wait()
}

// bucketFor prefers the bucket stamped on the health record by prior
// selections and falls back to the directory's static composite score.
func (p *Prober) bucketFor(directory *models.Directory) models.PriorityBucket {
	if record, ok := p.monitor.Record(directory.ID); ok && record.Bucket != "" {
		return record.Bucket
	}
	return models.BucketForScore(catalog.Score(directory, p.monitor))
}

func (p *Prober) cadenceFor(bucket models.PriorityBucket) time.Duration {
	var base time.Duration
	switch bucket {
	case models.BucketCritical:
		base = p.config.CadenceCritical
	case models.BucketHigh:
		base = p.config.CadenceHigh
	case models.BucketMedium:
		base = p.config.CadenceMedium
	default:
		base = p.config.CadenceLow
	}
	return time.Duration(float64(base) * p.scale)
}

// updateScale stretches cadences while the resource proxy is saturated and
// shrinks them when the worker is idle, clamped to the configured bound
// around the defaults.
func (p *Prober) updateScale() {
	if p.loadFn == nil {
		return
	}
	load := p.loadFn()
	switch {
	case load > p.saturatedAbove:
		p.scale *= p.config.CadenceStretchFactor
	case load < p.saturatedAbove/2:
		p.scale *= p.config.CadenceShrinkFactor
	default:
		return
	}
	upper := 1 + p.config.CadenceBound
	lower := 1 - p.config.CadenceBound
	if p.scale > upper {
		p.scale = upper
	}
	if p.scale < lower {
		p.scale = lower
	}
}

// probe issues a single reachability check. Any response below 500 counts
// as reachable; transport errors and server errors count as failures.
func (p *Prober) probe(ctx context.Context, directory *models.Directory) models.HealthObservation {
	obs := models.HealthObservation{DirectoryID: directory.ID, Status: models.StatusFailed}

	ctx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directory.SubmissionURL, nil)
	if err != nil {
		p.logger.Debug().Err(err).Str("directory_id", directory.ID).Msg("Probe request build failed")
		return obs
	}
	req.Header.Set("User-Agent", probeUserAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	obs.ResponseTimeMs = float64(time.Since(start).Milliseconds())
	if err != nil {
		p.logger.Debug().Err(err).Str("directory_id", directory.ID).Msg("Probe failed")
		return obs
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusInternalServerError {
		obs.Status = models.StatusSubmitted
	}
	p.logger.Debug().
		Str("directory_id", directory.ID).
		Int("status_code", resp.StatusCode).
		Float64("response_ms", obs.ResponseTimeMs).
		Msg("Probe completed")
	return obs
}

// Package service provides the enrichment pipeline
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"enrichd/internal/core/activity"
	"enrichd/internal/core/bulk"
	"enrichd/internal/core/geo"
	"enrichd/internal/core/identity"
	"enrichd/internal/core/index"
	"enrichd/internal/core/projects"
	"enrichd/internal/core/raw"
	"enrichd/internal/core/rich"
	"enrichd/internal/core/studies"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"
	"enrichd/internal/platform/metrics"
	"enrichd/internal/services/enrich/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the run parameters
type Config struct {
	Kind       string // source kind, see rich.Kinds
	Index      string // enriched index
	MaxBulk    int    // <=0 -> bulk.DefaultMaxItems
	KeywordMax int    // <=0 -> rich.DefaultKeywordMax
	FilterRaw  string

	Identities bool // resolve actors through the directory
	Geocode    bool // geolocate user locations
	GeoIndex   string

	Projects *projects.Index

	// RunStudies runs Studies after enrichment, the enricher defaults when empty
	RunStudies  bool
	Studies     []string
	StudyConfig studies.Config

	// IdentitySource is the directory source used by the activity join
	IdentitySource string
}

// Option configures optional collaborators
type Option func(*Service)

// WithDirectory wires the identity directory
func WithDirectory(d domain.Directory) Option { return func(s *Service) { s.dir = d } }

// WithGeocoder wires the geocoding provider
func WithGeocoder(g geo.Geocoder) Option { return func(s *Service) { s.coder = g } }

// WithActivity wires the auxiliary table and an optional snapshot writer
func WithActivity(t domain.ActivityTable, snap activity.Snapshotter) Option {
	return func(s *Service) { s.table, s.snap = t, snap }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRunIDs overrides run id generation
func WithRunIDs(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// Service runs enrichment passes against one index store
type Service struct {
	store index.Store
	cfg   Config

	dir   domain.Directory
	coder geo.Geocoder
	table domain.ActivityTable
	snap  activity.Snapshotter

	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	last *domain.RunReport
}

var _ domain.RunnerPort = (*Service)(nil)

// New constructs the enrichment service
func New(store index.Store, cfg Config, opts ...Option) *Service {
	if store == nil {
		panic("enrich.Service requires a non nil index store")
	}
	if cfg.MaxBulk <= 0 {
		cfg.MaxBulk = bulk.DefaultMaxItems
	}
	if cfg.IdentitySource == "" {
		cfg.IdentitySource = rich.KindGitHub
	}
	s := &Service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LastRun returns the most recent finished report
func (s *Service) LastRun() (domain.RunReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return domain.RunReport{}, false
	}
	return *s.last, true
}

// Run drains src. When the first record is an activity record the whole run
// joins against the auxiliary table; otherwise every record goes through the enricher
func (s *Service) Run(ctx context.Context, src domain.Source) (domain.RunReport, error) {
	rep := s.begin(domain.ModeEnrich)
	ctx = logger.WithIndex(logger.WithRun(ctx, rep.RunID, s.cfg.Kind), s.cfg.Index)

	first, err := s.next(ctx, src, &rep)
	switch {
	case errors.Is(err, io.EOF):
		err = nil
		logger.C(ctx).Info().Msg("enrich: source is empty")
	case err != nil:
	case first.IsActivity():
		rep.Mode = domain.ModeActivity
		err = s.runActivity(ctx, src, first, &rep)
	default:
		err = s.runEnrich(ctx, src, first, &rep)
	}
	return s.finish(ctx, rep, err)
}

// RunStudies runs studies over the enriched index without reading raw records
func (s *Service) RunStudies(ctx context.Context, names []string) (domain.RunReport, error) {
	rep := s.begin(domain.ModeStudies)
	ctx = logger.WithIndex(logger.WithRun(ctx, rep.RunID, s.cfg.Kind), s.cfg.Index)

	en, err := rich.New(s.cfg.Kind, rich.Options{})
	if err == nil {
		if len(names) == 0 {
			names = en.Studies()
		}
		err = s.studies(ctx, names, &rep)
	}
	return s.finish(ctx, rep, err)
}

func (s *Service) begin(mode string) domain.RunReport {
	return domain.RunReport{
		RunID:     s.newID(),
		Source:    s.cfg.Kind,
		Mode:      mode,
		Index:     s.cfg.Index,
		StartedAt: s.now().UTC(),
	}
}

func (s *Service) finish(ctx context.Context, rep domain.RunReport, err error) (domain.RunReport, error) {
	rep.FinishedAt = s.now().UTC()
	if err != nil {
		rep.Error = err.Error()
	}
	metrics.FinishRun(s.cfg.Kind, err == nil, rep.Took(), rep.FinishedAt)

	lvl := zerolog.InfoLevel
	if err != nil {
		lvl = zerolog.ErrorLevel
	}
	logger.C(ctx).WithLevel(lvl).Err(err).
		Str("mode", rep.Mode).
		Int("records", rep.Records).
		Int("documents", rep.Documents).
		Int("stored", rep.Upload.Stored).
		Int("missing", rep.Upload.Missing()).
		Int("skipped", rep.Skipped.Total()).
		Dur("took", rep.Took()).
		Msg("enrich: run finished")

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	return rep, err
}

// next returns the next readable record, counting and skipping undecodable or
// structurally invalid ones
func (s *Service) next(ctx context.Context, src domain.Source, rep *domain.RunReport) (raw.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return raw.Record{}, err
		}
		rec, err := src.Next(ctx)
		if err == nil {
			rep.Records++
			metrics.RecordRead(s.cfg.Kind)
			return rec, nil
		}
		if errors.Is(err, io.EOF) {
			return raw.Record{}, io.EOF
		}
		if !s.skip(ctx, err, &rep.Skipped) {
			return raw.Record{}, err
		}
	}
}

// skip counts err when it only concerns one record and reports whether to carry on
func (s *Service) skip(ctx context.Context, err error, sk *domain.Skips) bool {
	var reason string
	switch perr.CodeOf(err) {
	case perr.ErrorCodeJSON:
		sk.Decode++
		reason = metrics.ReasonDecode
	case perr.ErrorCodeStructural:
		sk.Structural++
		reason = metrics.ReasonStructural
	case perr.ErrorCodeJoinMiss:
		sk.JoinMiss++
		reason = metrics.ReasonJoinMiss
	default:
		return false
	}
	metrics.RecordSkipped(s.cfg.Kind, reason)
	logger.C(ctx).Debug().Err(err).Str("reason", reason).Msg("enrich: record skipped")
	return true
}

func (s *Service) uploader(ctx context.Context, idx, idField string) *bulk.Uploader {
	return bulk.New(s.store, idx, idField, s.cfg.MaxBulk,
		bulk.WithLogger(*logger.C(ctx)),
		bulk.WithObserver(metrics.ObserveFlush),
	)
}

// drain adds docs produced from every remaining record to b. fn returns the
// documents of one record or an error
func (s *Service) drain(
	ctx context.Context, src domain.Source, first raw.Record, rep *domain.RunReport,
	b *bulk.Batch, fn func(raw.Record) ([]index.Document, error),
) error {
	rec := first
	for {
		docs, err := fn(rec)
		if err != nil && !s.skip(ctx, err, &rep.Skipped) {
			return err
		}
		for _, d := range docs {
			b.Add(ctx, d)
		}
		rep.Documents += len(docs)

		rec, err = s.next(ctx, src, rep)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// closeBatch flushes what is left even when ctx was cancelled mid run
func (s *Service) closeBatch(ctx context.Context, up *bulk.Uploader, b *bulk.Batch, rep *domain.RunReport) {
	b.Close(context.WithoutCancel(ctx))
	rep.Upload = up.Stats()
	if err := up.Discrepancy(); err != nil {
		rep.Warnings = append(rep.Warnings, err.Error())
		logger.C(ctx).Warn().Err(err).Msg("enrich: upload discrepancy")
	}
}

func (s *Service) runEnrich(ctx context.Context, src domain.Source, first raw.Record, rep *domain.RunReport) error {
	log := logger.C(ctx)

	var cache *geo.Cache
	if s.cfg.Geocode && s.coder != nil {
		cache = geo.New(s.store, s.cfg.GeoIndex, s.coder, geo.WithLogger(*log), geo.WithMaxBulk(s.cfg.MaxBulk))
		if err := s.store.PutMapping(ctx, cache.Index(), geo.Mapping()); err != nil {
			return fmt.Errorf("geo mapping: %w", err)
		}
		if _, err := cache.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("enrich: geo cache load failed, starting empty")
		}
	}

	var resolver *identity.Resolver
	if s.cfg.Identities && s.dir != nil {
		resolver = identity.NewResolver(s.dir, s.cfg.Kind, *log)
	}

	en, err := rich.New(s.cfg.Kind, rich.Options{
		KeywordMax: s.cfg.KeywordMax,
		Projects:   s.cfg.Projects,
		Identities: resolver,
		Geo:        cache,
		FilterRaw:  s.cfg.FilterRaw,
		Now:        s.now,
	})
	if err != nil {
		return err
	}
	if err := s.store.PutMapping(ctx, s.cfg.Index, en.Mapping()); err != nil {
		return fmt.Errorf("enriched mapping: %w", err)
	}

	up := s.uploader(ctx, s.cfg.Index, en.IDField())
	b := up.Batch()
	runErr := s.drain(ctx, src, first, rep, b, func(rec raw.Record) ([]index.Document, error) {
		return en.Enrich(ctx, rec)
	})
	s.closeBatch(ctx, up, b, rep)

	if cache != nil {
		if _, err := cache.Persist(context.WithoutCancel(ctx)); err != nil {
			rep.Warnings = append(rep.Warnings, "geo: "+err.Error())
		}
		st := cache.Stats()
		rep.Geo = &st
		metrics.AddGeo(st.Hits, st.Misses, st.ProviderCalls)
	}
	if resolver != nil {
		st := resolver.Stats()
		rep.Identity = &st
		metrics.AddIdentity(s.cfg.Kind, st.Hits, st.Misses, st.Errors)
	}
	if runErr != nil {
		return runErr
	}

	if s.cfg.RunStudies {
		names := s.cfg.Studies
		if len(names) == 0 {
			names = en.Studies()
		}
		return s.studies(ctx, names, rep)
	}
	return nil
}

func (s *Service) runActivity(ctx context.Context, src domain.Source, first raw.Record, rep *domain.RunReport) error {
	log := logger.C(ctx)
	if s.table == nil {
		return perr.InvalidArgf("enrich: activity records need an auxiliary table")
	}

	rows, bad, err := s.table.Rows(ctx)
	if err != nil {
		return fmt.Errorf("activity table: %w", err)
	}
	rep.Skipped.JoinMiss += bad

	t := activity.Aggregate(rows)
	if s.dir != nil {
		if err := t.AttachUsernames(ctx, s.dir, s.cfg.IdentitySource); err != nil {
			return fmt.Errorf("activity usernames: %w", err)
		}
	}
	if s.snap != nil {
		if err := s.snap.Save(ctx, t.Contributors(), s.now().UTC()); err != nil {
			rep.Warnings = append(rep.Warnings, "snapshot: "+err.Error())
			log.Warn().Err(err).Msg("enrich: activity snapshot failed")
		}
	}
	if err := s.store.PutMapping(ctx, s.cfg.Index, activity.Mapping()); err != nil {
		return fmt.Errorf("activity mapping: %w", err)
	}

	up := s.uploader(ctx, s.cfg.Index, "id")
	b := up.Batch()
	runErr := s.drain(ctx, src, first, rep, b, func(rec raw.Record) ([]index.Document, error) {
		d, err := t.Join(rec)
		if err != nil {
			return nil, err
		}
		return []index.Document{d}, nil
	})
	s.closeBatch(ctx, up, b, rep)

	st := t.Stats()
	rep.Activity = &st
	return runErr
}

func (s *Service) studies(ctx context.Context, names []string, rep *domain.RunReport) error {
	if len(names) == 0 {
		return nil
	}
	env := studies.Env{
		Store:      s.store,
		Index:      s.cfg.Index,
		DataSource: s.cfg.Kind,
		MaxBulk:    s.cfg.MaxBulk,
		Log:        *logger.C(ctx),
	}
	res, err := studies.RunAll(ctx, names, env, s.cfg.StudyConfig)
	rep.Studies = res
	for _, r := range res {
		metrics.AddStudy(r.Study, r.Written)
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		rep.Warnings = append(rep.Warnings, "studies: "+err.Error())
	}
	return nil
}

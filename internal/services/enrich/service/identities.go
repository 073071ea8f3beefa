package service

import (
	"context"
	"errors"
	"io"
	"slices"

	"enrichd/internal/core/identity"
	"enrichd/internal/core/rich"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"
	"enrichd/internal/services/enrich/domain"
)

// LoadIdentities extracts every actor identity from src, drops duplicates and
// merges the rest into the directory under the source kind
func (s *Service) LoadIdentities(ctx context.Context, src domain.Source) (domain.IdentityReport, error) {
	rep := domain.IdentityReport{RunID: s.newID(), Source: s.cfg.Kind}
	ctx = logger.WithRun(ctx, rep.RunID, s.cfg.Kind)
	log := logger.C(ctx)

	if s.dir == nil {
		return rep, perr.InvalidArgf("enrich: identity loading needs a directory")
	}
	en, err := rich.New(s.cfg.Kind, rich.Options{})
	if err != nil {
		return rep, err
	}

	var all []identity.Identity
	scratch := domain.RunReport{}
	for {
		rec, err := s.next(ctx, src, &scratch)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.identityReport(rep, scratch), err
		}
		for id := range en.Identities(rec) {
			all = append(all, id)
		}
	}
	rep = s.identityReport(rep, scratch)
	rep.Extracted = len(all)

	unique := slices.Collect(identity.Dedup(slices.Values(all)))
	rep.Unique = len(unique)

	rep.Added, err = s.dir.Merge(ctx, s.cfg.Kind, unique)
	log.Info().
		Int("records", rep.Records).
		Int("extracted", rep.Extracted).
		Int("unique", rep.Unique).
		Int("added", rep.Added).
		Err(err).
		Msg("enrich: identities loaded")
	return rep, err
}

func (s *Service) identityReport(rep domain.IdentityReport, scratch domain.RunReport) domain.IdentityReport {
	rep.Records = scratch.Records
	rep.Skipped = scratch.Skipped
	return rep
}

// Package bulk batches documents into an index store and accounts for partial failures
package bulk

import (
	"context"
	"iter"

	"enrichd/internal/core/index"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"
)

// DefaultMaxItems is the batch size used when none is configured
const DefaultMaxItems = 1000

// Stats accumulates flush outcomes over the uploader's lifetime
type Stats struct {
	Flushes   int `json:"flushes"`
	Attempted int `json:"attempted"`
	Stored    int `json:"stored"`
}

// Missing is how many attempted documents were not stored
func (s Stats) Missing() int { return s.Attempted - s.Stored }

// Observer is told about every flush
type Observer func(index string, attempted, stored int)

// Option configures an Uploader
type Option func(*Uploader)

// WithLogger sets the uploader logger
func WithLogger(l logger.Logger) Option { return func(u *Uploader) { u.log = l } }

// WithObserver registers a flush observer
func WithObserver(o Observer) Option { return func(u *Uploader) { u.obs = append(u.obs, o) } }

// Uploader writes documents to one index in batches of at most max items.
// Flush failures are logged and counted, never returned
type Uploader struct {
	store   index.Store
	index   string
	idField string
	max     int
	log     logger.Logger
	obs     []Observer
	stats   Stats
}

// New returns an uploader for indexName keyed by idField; maxItems <= 0 uses DefaultMaxItems
func New(store index.Store, indexName, idField string, maxItems int, opts ...Option) *Uploader {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	u := &Uploader{store: store, index: indexName, idField: idField, max: maxItems}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Index returns the target index name
func (u *Uploader) Index() string { return u.index }

// MaxItems returns the batch bound
func (u *Uploader) MaxItems() int { return u.max }

// Stats returns the accumulated counters
func (u *Uploader) Stats() Stats { return u.stats }

// Discrepancy returns a partial upload error when some attempted documents were not stored
func (u *Uploader) Discrepancy() error {
	if u.stats.Attempted == u.stats.Stored {
		return nil
	}
	return perr.WithOp(perr.PartialUploadf("%s: %d/%d documents missing",
		u.index, u.stats.Missing(), u.stats.Attempted), "bulk.Upload")
}

// Upload writes docs in batches and returns how many were stored
func (u *Uploader) Upload(ctx context.Context, docs []index.Document) int {
	b := u.Batch()
	total := 0
	for _, d := range docs {
		total += b.Add(ctx, d)
	}
	return total + b.Close(ctx)
}

// UploadSync drains seq through a batch and returns the stored total
func (u *Uploader) UploadSync(ctx context.Context, seq iter.Seq[index.Document]) int {
	b := u.Batch()
	total := 0
	for d := range seq {
		if ctx.Err() != nil {
			break
		}
		total += b.Add(ctx, d)
	}
	return total + b.Close(ctx)
}

// Batch returns an empty streaming batch bound to u
func (u *Uploader) Batch() *Batch {
	return &Batch{u: u, buf: make([]index.Document, 0, u.max)}
}

// flush sends docs and returns the stored count
func (u *Uploader) flush(ctx context.Context, docs []index.Document) int {
	if len(docs) == 0 {
		return 0
	}
	send := docs[:0:0]
	for _, d := range docs {
		if index.DocID(d, u.idField) != "" {
			send = append(send, d)
		}
	}
	if skipped := len(docs) - len(send); skipped > 0 {
		u.log.Warn().Str("index", u.index).Int("skipped", skipped).Msg("bulk: documents without id")
	}

	stored := 0
	if len(send) > 0 {
		n, err := u.store.BulkIndex(ctx, u.index, send, u.idField)
		if err != nil {
			u.log.Error().Err(err).Str("index", u.index).Int("attempted", len(docs)).Int("stored", n).Msg("bulk: flush failed")
		}
		stored = max(0, min(n, len(send)))
	}

	u.stats.Flushes++
	u.stats.Attempted += len(docs)
	u.stats.Stored += stored
	if stored != len(docs) {
		u.log.Warn().Str("index", u.index).Int("attempted", len(docs)).Int("stored", stored).Msg("bulk: partial flush")
	} else {
		u.log.Debug().Str("index", u.index).Int("stored", stored).Msg("bulk: flushed")
	}
	for _, o := range u.obs {
		o(u.index, len(docs), stored)
	}
	return stored
}

// Batch buffers documents for one uploader; not safe for concurrent use
type Batch struct {
	u   *Uploader
	buf []index.Document
}

// Len returns the number of buffered documents
func (b *Batch) Len() int { return len(b.buf) }

// Add buffers d and flushes when the batch is full. It returns the stored
// count of that flush, 0 when nothing was flushed
func (b *Batch) Add(ctx context.Context, d index.Document) int {
	b.buf = append(b.buf, d)
	if len(b.buf) >= b.u.max {
		return b.Flush(ctx)
	}
	return 0
}

// Flush sends buffered documents and returns the stored count
func (b *Batch) Flush(ctx context.Context) int {
	n := b.u.flush(ctx, b.buf)
	b.buf = b.buf[:0]
	return n
}

// Close flushes any remainder
func (b *Batch) Close(ctx context.Context) int { return b.Flush(ctx) }

// Package rawindex pages raw records out of a raw index ordered by metadata__timestamp
package rawindex

import (
	"context"
	"io"

	"enrichd/internal/core/index"
	"enrichd/internal/core/raw"
	perr "enrichd/internal/platform/errors"
)

// DefaultPageSize is the number of hits fetched per Search call
const DefaultPageSize = 1000

// Options narrows what is read
type Options struct {
	Index    string
	PageSize int

	// Origin keeps only records of one origin when set
	Origin string
	// Since keeps records whose metadata__timestamp is >= Since when set
	Since any
}

// Reader yields raw records page by page
type Reader struct {
	store index.Store
	opts  Options
	query index.Query

	page []index.Hit
	pos  int
	from int
	done bool
	read int
}

// New returns a Reader over opts.Index
func New(store index.Store, opts Options) *Reader {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	q := index.MatchAll()
	if opts.Origin != "" {
		q = index.Term("origin", opts.Origin)
	}
	if opts.Since != nil {
		q = q.Between("metadata__timestamp", opts.Since, nil)
	}
	q = q.SortedBy("metadata__timestamp", index.Asc)
	return &Reader{store: store, opts: opts, query: q}
}

// Next returns the next record, io.EOF when the index is exhausted. A hit that is
// not a valid record is returned as an error and the reader moves on
func (r *Reader) Next(ctx context.Context) (raw.Record, error) {
	for r.pos >= len(r.page) {
		if r.done {
			return raw.Record{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return raw.Record{}, err
		}
		hits, err := r.store.Search(ctx, r.opts.Index, r.query, r.opts.PageSize, r.from)
		if err != nil {
			return raw.Record{}, perr.WithOp(err, "rawindex.Next")
		}
		r.page, r.pos = hits, 0
		r.from += len(hits)
		if len(hits) < r.opts.PageSize {
			r.done = true
		}
	}
	h := r.page[r.pos]
	r.pos++
	r.read++
	rec, err := raw.FromDocument(h.Source)
	if err != nil {
		return raw.Record{}, perr.WithField(err, h.ID)
	}
	return rec, nil
}

// Read returns how many hits were consumed
func (r *Reader) Read() int { return r.read }

// Close releases nothing; it keeps Reader interchangeable with file sources
func (r *Reader) Close() error { return nil }

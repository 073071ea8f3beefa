// Package rawfile streams raw records from JSON-lines dumps, plain or gzip
package rawfile

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"enrichd/internal/core/raw"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"
)

const (
	maxScanTokenSize = 32 * 1024 * 1024
	sampleRawMax     = 2048
)

var gzipMagic = []byte{0x1f, 0x8b}

// Reader yields one raw.Record per line. Blank lines are skipped; a line that does
// not decode is returned as an error and the reader moves on to the next line
type Reader struct {
	r       io.ReadCloser
	gz      *gzip.Reader
	sc      *bufio.Scanner
	err     error
	line    int
	records int
	bytes   int64
	sampled bool
	log     logger.Logger
}

// Open opens path, "-" meaning stdin
func Open(path string) (*Reader, error) {
	if path == "-" {
		return New(io.NopCloser(os.Stdin))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rawfile: open %s: %w", path, err)
	}
	return New(f)
}

// New wraps r, sniffing the gzip magic bytes
func New(r io.ReadCloser) (*Reader, error) {
	br := bufio.NewReader(r)
	rd := &Reader{r: r, log: *logger.Named("rawfile")}

	var src io.Reader = br
	if head, _ := br.Peek(len(gzipMagic)); bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			if cerr := r.Close(); cerr != nil {
				return nil, cerr
			}
			return nil, fmt.Errorf("rawfile: gzip: %w", err)
		}
		rd.gz = gz
		src = gz
	}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 512*1024), maxScanTokenSize)
	rd.sc = sc
	return rd, nil
}

// Next returns the next record, io.EOF when done
func (rd *Reader) Next(ctx context.Context) (raw.Record, error) {
	if rd.err != nil {
		return raw.Record{}, rd.err
	}
	for {
		if err := ctx.Err(); err != nil {
			return raw.Record{}, err
		}
		if !rd.sc.Scan() {
			if err := rd.sc.Err(); err != nil {
				rd.err = fmt.Errorf("rawfile: line %d: %w", rd.line+1, err)
				return raw.Record{}, rd.err
			}
			rd.err = io.EOF
			return raw.Record{}, io.EOF
		}
		rd.line++
		line := bytes.TrimSpace(rd.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		rd.bytes += int64(len(line) + 1)

		rec, err := raw.Decode(line)
		if err != nil {
			return raw.Record{}, perr.WithField(err, fmt.Sprintf("line %d", rd.line))
		}
		rd.records++
		if !rd.sampled {
			rd.sampled = true
			rd.log.Debug().
				Int("line_bytes", len(line)).
				Str("sample_raw", truncateUTF8(line, sampleRawMax)).
				Msg("rawfile: sample raw line")
		}
		return rec, nil
	}
}

// Close closes the gzip stream and the underlying reader
func (rd *Reader) Close() error {
	var errs []error
	if rd.gz != nil {
		if err := rd.gz.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			errs = append(errs, err)
		}
	}
	if rd.r != nil {
		errs = append(errs, rd.r.Close())
	}
	return errors.Join(errs...)
}

// Stats returns records decoded and uncompressed bytes read so far
func (rd *Reader) Stats() (records int, bytes int64) {
	return rd.records, rd.bytes
}

// truncateUTF8 cuts b to at most max bytes on a UTF-8 boundary, adding an ellipsis
func truncateUTF8(b []byte, max int) string {
	if max <= 0 || len(b) <= max {
		return string(b)
	}
	i := max
	for i > 0 && (b[i]&0xC0) == 0x80 {
		i--
	}
	if i <= 0 {
		i = max
	}
	return string(b[:i]) + "..."
}

// Package geo keeps a cache-aside map from free-text locations to coordinates.
// A Cache belongs to one run: it is loaded from the geolocation index at start,
// filled from the geocoder as records are enriched and persisted back at the end
package geo

import (
	"context"
	"math"
	"strconv"
	"strings"

	"enrichd/internal/core/bulk"
	"enrichd/internal/core/index"
	"enrichd/internal/platform/logger"
	pstrings "enrichd/internal/platform/strings"
)

const (
	// DefaultIndex is where resolved locations are kept between runs
	DefaultIndex = "github_geolocations"

	// PageSize is the read page used by Load
	PageSize = 100
)

// Point is a resolved coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Doc renders p as a geo_point value
func (p Point) Doc() map[string]any { return map[string]any{"lat": p.Lat, "lon": p.Lon} }

func (p Point) valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Geocoder resolves an address. ok is false when the provider has no result
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat, lon float64, ok bool, err error)
}

// Stats counts cache outcomes for one run
type Stats struct {
	Hits          int `json:"hits"`
	Misses        int `json:"misses"`
	ProviderCalls int `json:"provider_calls"`
	Unresolvable  int `json:"unresolvable"`
	Loaded        int `json:"loaded"`
	Persisted     int `json:"persisted"`
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the cache logger
func WithLogger(l logger.Logger) Option { return func(c *Cache) { c.log = l } }

// WithMaxBulk bounds the batches Persist writes
func WithMaxBulk(n int) Option { return func(c *Cache) { c.maxBulk = n } }

// Cache is not safe for concurrent use
type Cache struct {
	store        index.Store
	index        string
	coder        Geocoder
	log          logger.Logger
	maxBulk      int
	points       map[string]Point
	order        []string
	unresolvable map[string]struct{}
	stats        Stats
}

// New returns an empty cache over indexName; a nil coder resolves nothing new
func New(store index.Store, indexName string, coder Geocoder, opts ...Option) *Cache {
	if indexName == "" {
		indexName = DefaultIndex
	}
	c := &Cache{
		store:        store,
		index:        indexName,
		coder:        coder,
		maxBulk:      bulk.DefaultMaxItems,
		points:       map[string]Point{},
		unresolvable: map[string]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Index returns the backing index name
func (c *Cache) Index() string { return c.index }

// Mapping is the geolocation index layout
func Mapping() index.Mapping {
	return index.Mapping{
		"id":          index.Keyword,
		"location":    index.Keyword,
		"lat":         index.Double,
		"lon":         index.Double,
		"geolocation": index.GeoPoint,
	}
}

// Len returns the number of resolved locations held
func (c *Cache) Len() int { return len(c.points) }

// Stats returns the counters accumulated so far
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Unresolvable = len(c.unresolvable)
	return s
}

// Get returns the point for location. Blank locations never reach the provider;
// a location the provider could not resolve is not asked for again
func (c *Cache) Get(ctx context.Context, location string) (Point, bool) {
	if strings.TrimSpace(location) == "" {
		return Point{}, false
	}
	if p, ok := c.points[location]; ok {
		c.stats.Hits++
		return p, true
	}
	c.stats.Misses++
	if _, ok := c.unresolvable[location]; ok {
		return Point{}, false
	}
	if c.coder == nil {
		c.unresolvable[location] = struct{}{}
		return Point{}, false
	}

	c.stats.ProviderCalls++
	lat, lon, ok, err := c.coder.Geocode(ctx, location)
	p := Point{Lat: lat, Lon: lon}
	switch {
	case err != nil:
		c.log.Debug().Err(err).Str("location", location).Msg("geo: geocode failed")
	case !ok:
		c.log.Debug().Str("location", location).Msg("geo: no geocode result")
	case !p.valid():
		c.log.Debug().Str("location", location).Float64("lat", lat).Float64("lon", lon).Msg("geo: malformed geocode result")
	default:
		c.put(location, p)
		return p, true
	}
	c.unresolvable[location] = struct{}{}
	return Point{}, false
}

// Load reads the geolocation index page by page until an empty page and
// returns how many locations were added
func (c *Cache) Load(ctx context.Context) (int, error) {
	loaded := 0
	for from := 0; ; from += PageSize {
		hits, err := c.store.Search(ctx, c.index, index.MatchAll().SortedBy("id", index.Asc), PageSize, from)
		if err != nil {
			return loaded, err
		}
		if len(hits) == 0 {
			break
		}
		for _, h := range hits {
			loc, p, ok := fromDoc(h.Source)
			if !ok {
				c.log.Debug().Str("id", h.ID).Msg("geo: skipping malformed cache document")
				continue
			}
			if _, dup := c.points[loc]; dup {
				continue
			}
			c.put(loc, p)
			loaded++
		}
	}
	c.stats.Loaded += loaded
	c.log.Info().Str("index", c.index).Int("locations", loaded).Msg("geo: cache loaded")
	return loaded, nil
}

// Persist writes every resolved location back to the index and returns the stored count.
// A partial upload is reported as an error after everything was attempted
func (c *Cache) Persist(ctx context.Context) (int, error) {
	up := bulk.New(c.store, c.index, "id", c.maxBulk, bulk.WithLogger(c.log))
	b := up.Batch()
	stored := 0
	for _, loc := range c.order {
		stored += b.Add(ctx, Document(loc, c.points[loc]))
	}
	stored += b.Close(ctx)
	c.stats.Persisted += stored
	c.log.Info().Str("index", c.index).Int("stored", stored).Int("attempted", len(c.order)).Msg("geo: cache persisted")
	return stored, up.Discrepancy()
}

func (c *Cache) put(loc string, p Point) {
	if _, ok := c.points[loc]; !ok {
		c.order = append(c.order, loc)
	}
	c.points[loc] = p
}

// Key is the storage id of a location: "{lat}-{lon}-{ascii location}"
func Key(location string, p Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "-" +
		strconv.FormatFloat(p.Lon, 'f', -1, 64) + "-" +
		pstrings.ASCII(location)
}

// Document renders a cache entry for the geolocation index
func Document(location string, p Point) index.Document {
	return index.Document{
		"id":          Key(location, p),
		"lat":         p.Lat,
		"lon":         p.Lon,
		"location":    location,
		"geolocation": p.Doc(),
	}
}

func fromDoc(d index.Document) (string, Point, bool) {
	loc, _ := d["location"].(string)
	if loc == "" {
		return "", Point{}, false
	}
	lat, ok1 := number(d["lat"])
	lon, ok2 := number(d["lon"])
	if !ok1 || !ok2 {
		g, _ := d["geolocation"].(map[string]any)
		lat, ok1 = number(g["lat"])
		lon, ok2 = number(g["lon"])
	}
	p := Point{Lat: lat, Lon: lon}
	return loc, p, ok1 && ok2 && p.valid()
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

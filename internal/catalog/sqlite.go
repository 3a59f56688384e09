package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/sells-group/partmatch/internal/model"
)

// SQLiteCatalog implements Port against a modernc.org/sqlite index file.
// A shared rate limiter protects the index from unbounded concurrent query
// pressure; all pipelines funnel through it.
type SQLiteCatalog struct {
	db      *sql.DB
	limiter *rate.Limiter
}

// NewSQLite opens the catalog index at path and configures WAL mode.
func NewSQLite(path string, qps float64, burst int) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "catalog: exec %s", pragma)
		}
	}
	if qps <= 0 {
		qps = 50
	}
	if burst <= 0 {
		burst = 20
	}
	return &SQLiteCatalog{
		db:      db,
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	part_key       TEXT PRIMARY KEY,
	norm_key       TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	material       TEXT NOT NULL DEFAULT '',
	form           TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	price          REAL NOT NULL DEFAULT 0,
	availability   INTEGER NOT NULL DEFAULT 0,
	certifications TEXT NOT NULL DEFAULT '[]',
	dims           TEXT NOT NULL DEFAULT '{}',
	keywords       TEXT NOT NULL DEFAULT '',
	embedding      BLOB
);

CREATE INDEX IF NOT EXISTS idx_items_norm_key ON items(norm_key);
CREATE INDEX IF NOT EXISTS idx_items_material ON items(material);
`

// Migrate creates the items schema if missing.
func (c *SQLiteCatalog) Migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "catalog: migrate")
}

// Close releases the underlying database handle.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// Upsert inserts or replaces inventory items.
func (c *SQLiteCatalog) Upsert(ctx context.Context, items []Item) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "catalog: begin upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO items
		(part_key, norm_key, description, material, form, category, price, availability, certifications, dims, keywords, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "catalog: prepare upsert")
	}
	defer stmt.Close()

	for _, it := range items {
		certs, _ := json.Marshal(it.Certifications)
		dims, _ := json.Marshal(it.Dimensions)
		var emb []byte
		if len(it.Embedding) > 0 {
			emb = encodeVec(it.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			it.PartKey, NormalizeKey(it.PartKey), it.Description,
			strings.ToLower(it.Material), strings.ToLower(it.Form), strings.ToLower(it.Category),
			it.Price, it.Availability, string(certs), string(dims), it.Keywords, emb,
		); err != nil {
			return eris.Wrapf(err, "catalog: upsert %s", it.PartKey)
		}
	}
	return eris.Wrap(tx.Commit(), "catalog: commit upsert")
}

// Count returns the number of items in the index.
func (c *SQLiteCatalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "catalog: count")
	}
	return n, nil
}

// ExactKey looks up an item by normalized part identifier. At most one hit,
// scored 1.0.
func (c *SQLiteCatalog) ExactKey(ctx context.Context, key string) ([]Hit, error) {
	norm := NormalizeKey(key)
	if norm == "" {
		return nil, ErrInvalidQuery
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, selectItems+` WHERE norm_key = ? LIMIT 1`, norm)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(items))
	for _, it := range items {
		hits = append(hits, Hit{PartKey: it.PartKey, Score: 1.0, Item: it})
	}
	return hits, nil
}

// Search runs a lexical query over description, keywords, material, and
// form. Score is the fraction of query tokens found in the item text.
func (c *SQLiteCatalog) Search(ctx context.Context, text string, topK int) ([]Hit, error) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrInvalidQuery
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	items, err := c.allItems(ctx)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, it := range items {
		haystack := strings.ToLower(strings.Join([]string{
			it.Description, it.Keywords, it.Material, it.Form,
		}, " "))
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, Hit{
			PartKey: it.PartKey,
			Score:   float64(matched) / float64(len(tokens)),
			Item:    it,
		})
	}
	return topHits(hits, topK), nil
}

// Attributes runs a structured query. Material is a hard filter when set;
// form and category contribute scoring penalties unless DropSecondary keeps
// them out entirely. The score is 1.0 minus the normalized dimensional
// deviation beyond the (possibly widened) tolerance bands, floored at 0.
func (c *SQLiteCatalog) Attributes(ctx context.Context, q AttributeQuery) ([]Hit, error) {
	if q.Material == "" && q.Form == "" && len(q.Dims) == 0 {
		return nil, ErrInvalidQuery
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	items, err := c.allItems(ctx)
	if err != nil {
		return nil, err
	}

	widen := q.Widen
	if widen < 1 {
		widen = 1
	}

	var hits []Hit
	for _, it := range items {
		if q.Material != "" && !strings.EqualFold(it.Material, q.Material) {
			continue
		}

		score := 1.0
		if !q.DropSecondary {
			if q.Form != "" && !strings.EqualFold(it.Form, q.Form) {
				score *= 0.5
			}
			if q.Category != "" && !strings.EqualFold(it.Category, q.Category) {
				score *= 0.9
			}
		}
		score *= 1 - dimensionDeviation(q.Dims, it.Dimensions, widen)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{PartKey: it.PartKey, Score: score, Item: it})
	}
	return topHits(hits, q.TopK), nil
}

// Vector runs a brute-force cosine scan over stored item embeddings.
// Cosine similarity is mapped from [-1,1] to [0,1].
func (c *SQLiteCatalog) Vector(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	if len(embedding) == 0 {
		return nil, ErrInvalidQuery
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	items, err := c.allItems(ctx)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		cos := Cosine(embedding, it.Embedding)
		score := (cos + 1) / 2
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{PartKey: it.PartKey, Score: score, Item: it})
	}
	return topHits(hits, topK), nil
}

// dimensionDeviation returns the average normalized deviation of item
// dimensions from the requested ones, in [0,1]. Deviation inside the
// widened tolerance band counts as zero; a dimension the item does not
// declare counts as 0.5.
func dimensionDeviation(requested []model.Dimension, actual map[string]float64, widen float64) float64 {
	if len(requested) == 0 {
		return 0
	}
	var total float64
	for _, d := range requested {
		val, ok := actual[strings.ToLower(d.Name)]
		if !ok {
			total += 0.5
			continue
		}
		band := d.Tolerance
		if band <= 0 {
			band = math.Abs(d.Value) * 0.05
		}
		band *= widen
		dev := math.Abs(val-d.Value) - band
		if dev <= 0 {
			continue
		}
		if d.Value != 0 {
			dev /= math.Abs(d.Value)
		}
		total += math.Min(dev, 1)
	}
	return total / float64(len(requested))
}

const selectItems = `
SELECT part_key, description, material, form, category, price, availability, certifications, dims, keywords, embedding
FROM items`

func (c *SQLiteCatalog) allItems(ctx context.Context) ([]Item, error) {
	rows, err := c.db.QueryContext(ctx, selectItems)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var it Item
		var certs, dims string
		var emb []byte
		if err := rows.Scan(
			&it.PartKey, &it.Description, &it.Material, &it.Form, &it.Category,
			&it.Price, &it.Availability, &certs, &dims, &it.Keywords, &emb,
		); err != nil {
			return nil, eris.Wrap(err, "catalog: scan item")
		}
		_ = json.Unmarshal([]byte(certs), &it.Certifications)
		_ = json.Unmarshal([]byte(dims), &it.Dimensions)
		if len(emb) > 0 {
			it.Embedding = decodeVec(emb)
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "catalog: iterate items")
}

// topHits sorts hits by score descending (part key ascending on ties) and
// truncates to k.
func topHits(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].PartKey < hits[j].PartKey
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func encodeVec(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVec(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

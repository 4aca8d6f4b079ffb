// Package gallery implements the SimilaritySearch backend contract: a
// Postgres-backed customer gallery of 512-dim L2-normalized embeddings,
// served by a brute-force cosine top_k with an LRU read cache. No
// ANN/vector-DB client appears anywhere in the example corpus this was
// grounded on, so a correct, swappable brute-force reference
// implementation stands in for one — see DESIGN.md.
package gallery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lib/pq"
)

var ErrNotFound = errors.New("gallery: customer not found")

const embeddingDim = 512

// Candidate is one result row from a top_k query.
type Candidate struct {
	CustomerID string
	Score      float64
	VIP        bool
	Metadata   map[string]string
}

// record is the in-memory cache shape; Metadata is kept pre-decoded so a
// cache hit never touches the database.
type record struct {
	customerID string
	embedding  []float32
	vip        bool
	metadata   map[string]string
}

// Gallery is the SimilaritySearch implementation. Single-customer loads
// consult an LRU cache keyed by customer_id before the database, while
// TopK scans the table on every call; writes (upsert, EMA update) go to
// Postgres and invalidate the cache entry.
type Gallery struct {
	db    *sql.DB
	cache *lru.Cache[string, record]
}

// New opens a Gallery backed by db with an LRU cache sized cacheSize
// entries; a few thousand keeps the whole hot gallery resident without
// unbounded growth.
func New(db *sql.DB, cacheSize int) (*Gallery, error) {
	c, err := lru.New[string, record](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("gallery: lru init: %w", err)
	}
	return &Gallery{db: db, cache: c}, nil
}

// Upsert inserts or replaces a customer's gallery embedding.
func (g *Gallery) Upsert(ctx context.Context, customerID string, embedding []float32, vip bool, metadata map[string]string) error {
	if len(embedding) != embeddingDim {
		return fmt.Errorf("gallery: embedding must be %d-dim, got %d", embeddingDim, len(embedding))
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO gallery_embeddings (customer_id, embedding, vip, metadata, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (customer_id) DO UPDATE SET
			embedding = EXCLUDED.embedding, vip = EXCLUDED.vip,
			metadata = EXCLUDED.metadata, updated_at = NOW()
	`, customerID, pq.Array(embedding), vip, pq.Array(metadataKV(metadata)))
	if err != nil {
		return fmt.Errorf("gallery: upsert %s: %w", customerID, err)
	}
	g.cache.Remove(customerID)
	return nil
}

// UpdateEmbeddingEMA applies a gallery-drift exponential moving average:
// new = (1-α)*old + α*current, renormalized. Callers are
// responsible for only invoking this when the gating threshold (0.85)
// was met; Gallery itself has no opinion on that threshold.
func (g *Gallery) UpdateEmbeddingEMA(ctx context.Context, customerID string, current []float32, alpha float64) error {
	rec, err := g.load(ctx, customerID)
	if err != nil {
		return err
	}
	if len(current) != len(rec.embedding) {
		return fmt.Errorf("gallery: EMA dimension mismatch for %s", customerID)
	}

	updated := make([]float32, len(rec.embedding))
	for i := range updated {
		updated[i] = float32((1-alpha)*float64(rec.embedding[i]) + alpha*float64(current[i]))
	}
	normalize(updated)

	_, err = g.db.ExecContext(ctx, `
		UPDATE gallery_embeddings SET embedding = $2, updated_at = NOW() WHERE customer_id = $1
	`, customerID, pq.Array(updated))
	if err != nil {
		return fmt.Errorf("gallery: EMA update %s: %w", customerID, err)
	}
	g.cache.Remove(customerID)
	return nil
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

func (g *Gallery) load(ctx context.Context, customerID string) (record, error) {
	if rec, ok := g.cache.Get(customerID); ok {
		return rec, nil
	}

	var emb []float32
	var vip bool
	var metaKV []string
	row := g.db.QueryRowContext(ctx, `
		SELECT embedding, vip, metadata FROM gallery_embeddings WHERE customer_id = $1
	`, customerID)
	if err := row.Scan(pq.Array(&emb), &vip, pq.Array(&metaKV)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record{}, ErrNotFound
		}
		return record{}, fmt.Errorf("gallery: load %s: %w", customerID, err)
	}

	rec := record{customerID: customerID, embedding: emb, vip: vip, metadata: kvToMap(metaKV)}
	g.cache.Add(customerID, rec)
	return rec, nil
}

// TopK implements the SimilaritySearch.top_k(embedding, k, ef) contract
// via brute-force cosine similarity over the whole gallery table. ef is
// accepted for interface parity with an ANN-backed implementation but
// has no effect here (there is no approximate search to tune — see
// DESIGN.md).
func (g *Gallery) TopK(ctx context.Context, embedding []float32, k int, ef int) ([]Candidate, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT customer_id, embedding, vip, metadata FROM gallery_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("gallery: top_k scan: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var customerID string
		var emb []float32
		var vip bool
		var metaKV []string
		if err := rows.Scan(&customerID, pq.Array(&emb), &vip, pq.Array(&metaKV)); err != nil {
			return nil, fmt.Errorf("gallery: top_k row: %w", err)
		}
		score := cosine(embedding, emb)
		candidates = append(candidates, Candidate{CustomerID: customerID, Score: score, VIP: vip, Metadata: kvToMap(metaKV)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func metadataKV(m map[string]string) []string {
	out := make([]string, 0, len(m)*2)
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}

func kvToMap(kv []string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

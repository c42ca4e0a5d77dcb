package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"agentmem/internal/clock"
	"agentmem/internal/logging"
	"agentmem/internal/types"
)

// SemanticStore holds Memories with an ANN index over embedding and a BM25
// lexical index over content. The ANN step is a brute-force cosine scan
// (appropriate for a single-user, single-node deployment); the lexical
// step is an in-process BM25 scorer over the project's memory corpus,
// avoiding a dependency on an FTS5 build of the SQLite driver.
type SemanticStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewSemanticStore(db *sql.DB, c clock.Clock) *SemanticStore {
	return &SemanticStore{db: db, clock: c}
}

// Store persists a new Memory.
func (s *SemanticStore) Store(ctx context.Context, m *types.Memory) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SemanticStore.Store")
	defer timer.Stop()

	tagsJSON, _ := json.Marshal(m.Tags)
	domainsJSON, _ := json.Marshal(m.Domains)
	sourcesJSON, _ := json.Marshal(m.SourceEventIDs)
	now := s.clock.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessed.IsZero() {
		m.LastAccessed = now
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO semantic_memories
			(project_id, content, memory_type, tags_json, domains_json, importance, quality,
			 usefulness_score, access_count, last_accessed, source_event_ids_json, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ProjectID, m.Content, string(m.MemoryType), string(tagsJSON), string(domainsJSON),
		m.Importance, m.Quality, m.UsefulnessScore, m.AccessCount, m.LastAccessed, string(sourcesJSON),
		encodeEmbedding(m.Embedding), m.CreatedAt,
	)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert memory")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "read inserted memory id")
	}
	m.ID = id
	return id, nil
}

// GetByID fetches one memory.
func (s *SemanticStore) GetByID(ctx context.Context, id int64) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, selectMemorySQL+` WHERE id = ?`, id)
	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.ErrNotFound, false, "memory %d not found", id)
	}
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "scan memory")
	}
	return m, nil
}

// TouchAccess bumps access_count/last_accessed (recall activation effect).
func (s *SemanticStore) TouchAccess(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE semantic_memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`, s.clock.Now(), id)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "touch memory access")
	}
	return nil
}

// SetUsefulness updates a memory's usefulness_score (recall rescoring).
func (s *SemanticStore) SetUsefulness(ctx context.Context, id int64, score float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE semantic_memories SET usefulness_score = ? WHERE id = ?`, score, id)
	return err
}

// ScoredMemory is one hit from HybridSearch.
type ScoredMemory struct {
	Memory          types.Memory
	SemanticScore   float64
	LexicalScore    float64
	RankFusionScore float64
}

const selectMemorySQL = `SELECT id, project_id, content, memory_type, tags_json, domains_json, importance, quality,
	usefulness_score, access_count, last_accessed, source_event_ids_json, embedding, created_at FROM semantic_memories`

func scanMemoryRow(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var tagsJSON, domainsJSON, sourcesJSON string
	var lastAccessed sql.NullTime
	var embedding []byte
	var memType string

	if err := row.Scan(&m.ID, &m.ProjectID, &m.Content, &memType, &tagsJSON, &domainsJSON, &m.Importance, &m.Quality,
		&m.UsefulnessScore, &m.AccessCount, &lastAccessed, &sourcesJSON, &embedding, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.MemoryType = types.MemoryType(memType)
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	_ = json.Unmarshal([]byte(domainsJSON), &m.Domains)
	_ = json.Unmarshal([]byte(sourcesJSON), &m.SourceEventIDs)
	if lastAccessed.Valid {
		m.LastAccessed = lastAccessed.Time
	}
	vec, err := decodeEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	m.Embedding = vec
	return &m, nil
}

// MemoryFilters narrows a HybridSearch candidate pool.
type MemoryFilters struct {
	MemoryTypes []types.MemoryType
	Tags        []string
	Domains     []string
}

func (f MemoryFilters) isEmpty() bool {
	return len(f.MemoryTypes) == 0 && len(f.Tags) == 0 && len(f.Domains) == 0
}

// All returns every memory in a project, for batch passes like conflict
// detection that must compare all pairs rather than rank against a query.
func (s *SemanticStore) All(ctx context.Context, project string) ([]types.Memory, error) {
	return s.loadCandidates(ctx, project, MemoryFilters{})
}

func (s *SemanticStore) loadCandidates(ctx context.Context, project string, f MemoryFilters) ([]types.Memory, error) {
	q := strings.Builder{}
	q.WriteString(selectMemorySQL + " WHERE project_id = ?")
	args := []any{project}
	if len(f.MemoryTypes) > 0 {
		q.WriteString(" AND memory_type IN (" + placeholders(len(f.MemoryTypes)) + ")")
		for _, t := range f.MemoryTypes {
			args = append(args, string(t))
		}
	}
	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "load memory candidates")
	}
	defer rows.Close()

	var out []types.Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		if len(f.Tags) > 0 && !hasAnyOverlap(m.Tags, f.Tags) {
			continue
		}
		if len(f.Domains) > 0 && !hasAnyOverlap(m.Domains, f.Domains) {
			continue
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func hasAnyOverlap(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// HybridSearch fuses a semantic (cosine ANN) ranking and a lexical (BM25)
// ranking by reciprocal rank fusion:
//
//	RRF_score(m) = sum over sources of 1/(k_rrf + rank_source(m))
//
// Each source is over-fetched to overFetch*k candidates before fusion.
// Ties are broken by higher quality, then newer last_accessed.
func (s *SemanticStore) HybridSearch(ctx context.Context, queryText string, queryEmbedding []float32, project string, f MemoryFilters, k, overFetch, rrfK int) ([]ScoredMemory, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SemanticStore.HybridSearch")
	defer timer.Stop()

	if k <= 0 {
		k = 10
	}
	if overFetch <= 0 {
		overFetch = 3
	}
	if rrfK <= 0 {
		rrfK = 60
	}
	fanout := k * overFetch

	candidates, err := s.loadCandidates(ctx, project, f)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Semantic ranking is pushed down into SQLite when no filters narrow
	// the candidate set; filtered searches (and any build where the
	// vec_distance_cos function is unavailable) fall back to the
	// in-process scan over the already-loaded candidates.
	var semanticRank map[int64]rankedScore
	if f.isEmpty() {
		semanticRank = s.rankBySemanticVec(ctx, project, queryEmbedding, fanout)
	}
	if semanticRank == nil {
		semanticRank = rankBySemantic(candidates, queryEmbedding, fanout)
	}
	lexicalRank := rankByBM25(candidates, queryText, fanout)

	fused := fuseRRF(candidates, semanticRank, lexicalRank, rrfK)

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].RankFusionScore != fused[j].RankFusionScore {
			return fused[i].RankFusionScore > fused[j].RankFusionScore
		}
		if fused[i].Memory.Quality != fused[j].Memory.Quality {
			return fused[i].Memory.Quality > fused[j].Memory.Quality
		}
		return fused[i].Memory.LastAccessed.After(fused[j].Memory.LastAccessed)
	})
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// rankBySemanticVec pushes nearest-neighbour ranking into SQLite via the
// vec_distance_cos function - sqlite-vec's native implementation under the
// sqlite_vec build tag, the pure-Go compat registration otherwise - so the
// database orders and truncates candidates instead of every embedding
// being loaded into Go. A nil return means the pushdown could not run and
// the caller should fall back to rankBySemantic.
func (s *SemanticStore) rankBySemanticVec(ctx context.Context, project string, query []float32, fanout int) map[int64]rankedScore {
	if len(query) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, vec_distance_cos(embedding, ?) AS distance
		FROM semantic_memories
		WHERE project_id = ? AND embedding IS NOT NULL
		ORDER BY distance ASC
		LIMIT ?`, encodeEmbedding(query), project, fanout)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("rankBySemanticVec: pushdown unavailable, using in-process scan: %v", err)
		return nil
	}
	defer rows.Close()

	out := make(map[int64]rankedScore, fanout)
	rank := 0
	for rows.Next() {
		var id int64
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			logging.Get(logging.CategoryStore).Warn("rankBySemanticVec: scan failed, using in-process scan: %v", err)
			return nil
		}
		rank++
		out[id] = rankedScore{rank: rank, score: 1 - distance}
	}
	if err := rows.Err(); err != nil {
		logging.Get(logging.CategoryStore).Warn("rankBySemanticVec: iteration failed, using in-process scan: %v", err)
		return nil
	}
	return out
}

// rankBySemantic returns memory IDs ordered by cosine similarity to
// queryEmbedding, truncated to fanout, along with their scores. In-process
// fallback for filtered searches and for builds where the SQL pushdown is
// unavailable.
func rankBySemantic(candidates []types.Memory, query []float32, fanout int) map[int64]rankedScore {
	type hit struct {
		id    int64
		score float64
	}
	var hits []hit
	if len(query) > 0 {
		for _, m := range candidates {
			if len(m.Embedding) == 0 {
				continue
			}
			hits = append(hits, hit{id: m.ID, score: cosineSimilarity(query, m.Embedding)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > fanout {
		hits = hits[:fanout]
	}
	out := make(map[int64]rankedScore, len(hits))
	for i, h := range hits {
		out[h.id] = rankedScore{rank: i + 1, score: h.score}
	}
	return out
}

// rankByBM25 scores candidates' content against queryText with the Okapi
// BM25 formula (k1=1.2, b=0.75), ordered descending, truncated to fanout.
func rankByBM25(candidates []types.Memory, queryText string, fanout int) map[int64]rankedScore {
	const k1 = 1.2
	const b = 0.75

	terms := tokenize(queryText)
	if len(terms) == 0 {
		return nil
	}

	docs := make([]docStats, len(candidates))
	var totalLen float64
	df := make(map[string]int)
	for i, m := range candidates {
		toks := tokenize(m.Content)
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		docs[i] = docStats{id: m.ID, length: len(toks), tf: tf}
		totalLen += float64(len(toks))
		seen := make(map[string]struct{})
		for _, t := range toks {
			if _, ok := seen[t]; !ok {
				df[t]++
				seen[t] = struct{}{}
			}
		}
	}
	n := float64(len(docs))
	if n == 0 {
		return nil
	}
	avgLen := totalLen / n

	type hit struct {
		id    int64
		score float64
	}
	var hits []hit
	for _, d := range docs {
		var score float64
		for _, term := range terms {
			f := float64(d.tf[term])
			if f == 0 {
				continue
			}
			docFreq := float64(df[term])
			idfVal := logSafe((n-docFreq+0.5)/(docFreq+0.5) + 1)
			denom := f + k1*(1-b+b*float64(d.length)/avgLen)
			score += idfVal * (f * (k1 + 1)) / denom
		}
		if score > 0 {
			hits = append(hits, hit{id: d.id, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > fanout {
		hits = hits[:fanout]
	}
	out := make(map[int64]rankedScore, len(hits))
	for i, h := range hits {
		out[h.id] = rankedScore{rank: i + 1, score: h.score}
	}
	return out
}

type docStats struct {
	id     int64
	length int
	tf     map[string]int
}

type rankedScore struct {
	rank  int
	score float64
}

func fuseRRF(candidates []types.Memory, semantic, lexical map[int64]rankedScore, rrfK int) []ScoredMemory {
	byID := make(map[int64]types.Memory, len(candidates))
	for _, m := range candidates {
		byID[m.ID] = m
	}

	fused := make(map[int64]*ScoredMemory)
	for id, rs := range semantic {
		m, ok := byID[id]
		if !ok {
			continue // ranked row appeared after the candidate snapshot
		}
		fused[id] = &ScoredMemory{Memory: m, SemanticScore: rs.score, RankFusionScore: 1.0 / float64(rrfK+rs.rank)}
	}
	for id, rs := range lexical {
		if sm, ok := fused[id]; ok {
			sm.LexicalScore = rs.score
			sm.RankFusionScore += 1.0 / float64(rrfK+rs.rank)
		} else {
			m, ok := byID[id]
			if !ok {
				continue
			}
			fused[id] = &ScoredMemory{Memory: m, LexicalScore: rs.score, RankFusionScore: 1.0 / float64(rrfK+rs.rank)}
		}
	}

	out := make([]ScoredMemory, 0, len(fused))
	for _, sm := range fused {
		out = append(out, *sm)
	}
	return out
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func logSafe(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Log(x)
}

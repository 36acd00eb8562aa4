package retrieval

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/store"
)

// LexicalConfig selects the keyword backend.
type LexicalConfig struct {
	// Backend is okapi, bleve or sqlite.
	Backend string
	// Dir holds on-disk backends; empty keeps everything in memory.
	Dir  string
	Name string
	BM25 store.BM25Config
}

// LexicalIndex ranks chunks by BM25 and keeps their text for snippet lookup.
//
// Ids are decimal positions in ingestion order ("0", "1", ...) and are never
// reused after a delete. IDF always comes from an in-memory Okapi index,
// which is the ranking backend itself when Backend is okapi.
type LexicalIndex struct {
	mu      sync.RWMutex
	backend store.BM25Index
	name    string
	stats   *store.OkapiIndex

	ids  []string
	docs []string
	pos  map[string]int
	next int
}

// NewLexicalIndex opens the configured backend.
func NewLexicalIndex(cfg LexicalConfig) (*LexicalIndex, error) {
	if cfg.Backend == "" {
		cfg.Backend = store.BackendOkapi
	}
	if cfg.BM25.K1 == 0 {
		cfg.BM25 = store.DefaultBM25Config()
	}

	var stats *store.OkapiIndex
	var backend store.BM25Index
	if cfg.Backend == store.BackendOkapi {
		stats = store.NewOkapiIndex(cfg.BM25)
		backend = stats
	} else {
		b, err := store.NewBM25Index(cfg.Backend, cfg.Dir, cfg.Name, cfg.BM25)
		if err != nil {
			return nil, err
		}
		// Persistent backends may hold documents from an earlier run; the
		// corpus snapshot is authoritative, so start clean.
		if ids, err := b.AllIDs(); err == nil && len(ids) > 0 {
			if err := b.Delete(context.Background(), ids); err != nil {
				_ = b.Close()
				return nil, fmt.Errorf("failed to reset %s index: %w", cfg.Backend, err)
			}
		}
		backend = b
		stats = store.NewOkapiIndex(cfg.BM25)
	}

	return &LexicalIndex{
		backend: backend,
		name:    cfg.Backend,
		stats:   stats,
		pos:     make(map[string]int),
	}, nil
}

// IndexDocuments appends docs under freshly assigned ids.
func (l *LexicalIndex) IndexDocuments(ctx context.Context, docs []string) ([]string, Meta, error) {
	l.mu.RLock()
	start := l.next
	l.mu.RUnlock()

	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = strconv.Itoa(start + i)
	}
	if err := l.Add(ctx, ids, docs); err != nil {
		return nil, Meta{"status": "error", "error": err.Error()}, err
	}
	return ids, Meta{"status": "success", "count": len(ids)}, nil
}

// Add indexes docs under the given ids. Existing ids are replaced in place.
// Used directly when restoring a persisted corpus.
func (l *LexicalIndex) Add(ctx context.Context, ids, docs []string) error {
	if len(ids) != len(docs) {
		return ragerrors.ValidationError(
			fmt.Sprintf("ids and documents length mismatch: %d vs %d", len(ids), len(docs)), nil)
	}
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	batch := make([]*store.Document, len(ids))
	for i := range ids {
		batch[i] = &store.Document{ID: ids[i], Content: docs[i]}
	}
	if err := l.backend.Index(ctx, batch); err != nil {
		return ragerrors.New(ragerrors.ErrCodeIndexFailed, "lexical indexing failed", err)
	}
	if l.stats != l.backend {
		if err := l.stats.Index(ctx, batch); err != nil {
			return ragerrors.New(ragerrors.ErrCodeIndexFailed, "lexical statistics failed", err)
		}
	}

	for i, id := range ids {
		if p, ok := l.pos[id]; ok {
			l.docs[p] = docs[i]
			continue
		}
		l.pos[id] = len(l.ids)
		l.ids = append(l.ids, id)
		l.docs = append(l.docs, docs[i])
		if n, err := strconv.Atoi(id); err == nil && n >= l.next {
			l.next = n + 1
		}
	}
	return nil
}

// Query returns up to topK documents sharing at least one term with text.
func (l *LexicalIndex) Query(ctx context.Context, text string, topK int) (RankedList, Meta, error) {
	l.mu.RLock()
	empty := len(l.ids) == 0
	l.mu.RUnlock()
	if empty {
		return RankedList{}, Meta{"status": "empty"}, nil
	}

	results, err := l.backend.Search(ctx, text, topK)
	if err != nil {
		return nil, Meta{"status": "error", "error": err.Error()},
			ragerrors.New(ragerrors.ErrCodeSearchFailed, "lexical query failed", err)
	}
	list := make(RankedList, len(results))
	for i, r := range results {
		list[i] = Ranked{ID: r.DocID, Score: r.Score}
	}
	return list, Meta{"retrieved": len(list), "backend": l.name}, nil
}

// IDF returns the inverse document frequency of a lowercased token.
func (l *LexicalIndex) IDF(token string) float64 {
	return l.stats.IDF(token)
}

// Documents returns document texts, parallel to DocIDs.
func (l *LexicalIndex) Documents() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.docs)
}

// DocIDs returns document ids in ingestion order.
func (l *LexicalIndex) DocIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.ids)
}

// Text returns the text of id.
func (l *LexicalIndex) Text(id string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pos[id]
	if !ok {
		return "", false
	}
	return l.docs[p], true
}

// Delete removes ids; unknown ids are ignored.
func (l *LexicalIndex) Delete(ctx context.Context, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.backend.Delete(ctx, ids); err != nil {
		return ragerrors.New(ragerrors.ErrCodeIndexFailed, "lexical delete failed", err)
	}
	if l.stats != l.backend {
		if err := l.stats.Delete(ctx, ids); err != nil {
			return err
		}
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	keptIDs, keptDocs := l.ids[:0], l.docs[:0]
	for i, id := range l.ids {
		if _, gone := drop[id]; gone {
			delete(l.pos, id)
			continue
		}
		l.pos[id] = len(keptIDs)
		keptIDs = append(keptIDs, id)
		keptDocs = append(keptDocs, l.docs[i])
	}
	l.ids, l.docs = keptIDs, keptDocs
	return nil
}

// Len returns the number of documents.
func (l *LexicalIndex) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// Backend names the ranking backend.
func (l *LexicalIndex) Backend() string { return l.name }

// Stats returns corpus statistics.
func (l *LexicalIndex) Stats() *store.IndexStats {
	return l.stats.Stats()
}

// Close closes the backend.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stats != l.backend {
		_ = l.stats.Close()
	}
	return l.backend.Close()
}

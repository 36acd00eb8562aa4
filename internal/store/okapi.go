package store

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
)

// OkapiIndex is an in-memory BM25 Okapi index. Besides ranking it exposes
// per-term IDF, which the query analyzer reads to spot rare-term queries.
//
// IDF is ln(N-n+0.5) - ln(n+0.5). Terms present in more than half the
// corpus would get a negative IDF; those are floored at Epsilon times the
// mean IDF over the vocabulary.
type OkapiIndex struct {
	mu     sync.RWMutex
	config BM25Config
	stop   map[string]struct{}
	closed bool

	ids   []string
	pos   map[string]int
	freqs []map[string]int
	lens  []int
	df    map[string]int
	total int
	idf   map[string]float64
	stale bool
}

var _ BM25Index = (*OkapiIndex)(nil)

// NewOkapiIndex creates an empty index. Zero K1/B fall back to defaults.
func NewOkapiIndex(cfg BM25Config) *OkapiIndex {
	def := DefaultBM25Config()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	return &OkapiIndex{
		config: cfg,
		stop:   BuildStopWordMap(cfg.StopWords),
		pos:    make(map[string]int),
		df:     make(map[string]int),
		idf:    make(map[string]float64),
	}
}

func (o *OkapiIndex) terms(text string) []string {
	return FilterStopWords(TokenizeText(text), o.stop)
}

// Index adds documents in order. Re-indexing an ID replaces its content but
// keeps its position.
func (o *OkapiIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		tf := make(map[string]int)
		tokens := o.terms(doc.Content)
		for _, t := range tokens {
			tf[t]++
		}

		if i, ok := o.pos[doc.ID]; ok {
			o.forget(i)
			o.freqs[i] = tf
			o.lens[i] = len(tokens)
		} else {
			o.pos[doc.ID] = len(o.ids)
			o.ids = append(o.ids, doc.ID)
			o.freqs = append(o.freqs, tf)
			o.lens = append(o.lens, len(tokens))
		}
		for t := range tf {
			o.df[t]++
		}
		o.total += len(tokens)
	}
	o.stale = true
	return nil
}

// forget removes document i's contribution to the corpus statistics.
func (o *OkapiIndex) forget(i int) {
	for t := range o.freqs[i] {
		if o.df[t]--; o.df[t] == 0 {
			delete(o.df, t)
		}
	}
	o.total -= o.lens[i]
}

// rebuildIDF must be called with the write lock held.
func (o *OkapiIndex) rebuildIDF() {
	n := float64(len(o.ids))
	idf := make(map[string]float64, len(o.df))
	var sum float64
	var negative []string
	for term, freq := range o.df {
		v := math.Log(n-float64(freq)+0.5) - math.Log(float64(freq)+0.5)
		idf[term] = v
		sum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}
	if len(idf) > 0 {
		eps := o.config.Epsilon * sum / float64(len(idf))
		for _, term := range negative {
			idf[term] = eps
		}
	}
	o.idf = idf
	o.stale = false
}

func (o *OkapiIndex) ensureIDF() {
	o.mu.RLock()
	stale := o.stale
	o.mu.RUnlock()
	if !stale {
		return
	}
	o.mu.Lock()
	if o.stale {
		o.rebuildIDF()
	}
	o.mu.Unlock()
}

// IDF returns the inverse document frequency of an already tokenized term.
// Unknown terms have IDF 0.
func (o *OkapiIndex) IDF(term string) float64 {
	o.ensureIDF()
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.idf[term]
}

// Search scores every document containing a query term. Repeated query
// terms count once per occurrence. Ties keep insertion order.
func (o *OkapiIndex) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	o.ensureIDF()
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, ErrClosed
	}

	tokens := o.terms(query)
	if len(tokens) == 0 || len(o.ids) == 0 || limit <= 0 {
		return []*BM25Result{}, nil
	}

	avgdl := float64(o.total) / float64(len(o.ids))
	if avgdl == 0 {
		return []*BM25Result{}, nil
	}
	k1, b := o.config.K1, o.config.B

	results := make([]*BM25Result, 0)
	for i, tf := range o.freqs {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var score float64
		var matched []string
		norm := k1 * (1 - b + b*float64(o.lens[i])/avgdl)
		for _, q := range tokens {
			f, ok := tf[q]
			if !ok {
				continue
			}
			qf := float64(f)
			score += o.idf[q] * (qf * (k1 + 1) / (qf + norm))
			if !slices.Contains(matched, q) {
				matched = append(matched, q)
			}
		}
		if matched == nil {
			continue
		}
		results = append(results, &BM25Result{DocID: o.ids[i], Score: score, MatchedTerms: matched})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes documents; unknown IDs are ignored.
func (o *OkapiIndex) Delete(ctx context.Context, docIDs []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	drop := make(map[int]struct{}, len(docIDs))
	for _, id := range docIDs {
		if i, ok := o.pos[id]; ok {
			drop[i] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil
	}

	ids := o.ids[:0]
	freqs := o.freqs[:0]
	lens := o.lens[:0]
	for i := range o.ids {
		if _, gone := drop[i]; gone {
			o.forget(i)
			delete(o.pos, o.ids[i])
			continue
		}
		o.pos[o.ids[i]] = len(ids)
		ids = append(ids, o.ids[i])
		freqs = append(freqs, o.freqs[i])
		lens = append(lens, o.lens[i])
	}
	o.ids, o.freqs, o.lens = ids, freqs, lens
	o.stale = true
	return nil
}

// AllIDs returns document IDs in insertion order.
func (o *OkapiIndex) AllIDs() ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, ErrClosed
	}
	return slices.Clone(o.ids), nil
}

// Stats returns corpus statistics.
func (o *OkapiIndex) Stats() *IndexStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed || len(o.ids) == 0 {
		return &IndexStats{}
	}
	return &IndexStats{
		DocumentCount: len(o.ids),
		TermCount:     len(o.df),
		AvgDocLength:  float64(o.total) / float64(len(o.ids)),
	}
}

// Close releases the index. Safe to call twice.
func (o *OkapiIndex) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.freqs, o.lens, o.ids = nil, nil, nil
	return nil
}

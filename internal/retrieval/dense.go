package retrieval

import (
	"context"
	"fmt"
	"maps"
	"os"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JackSmack1971/personal-rag-copilot/internal/embed"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/store"
)

// DenseConfig configures a DenseIndex.
type DenseConfig struct {
	Name string
	// BatchSize is the number of texts per embedding call.
	BatchSize int
	// Workers bounds concurrent embedding calls during IndexCorpus.
	Workers int
}

// DenseIndex embeds text and looks up nearest neighbours in an HNSW graph.
//
// Vectors get random ids. When the metadata carries doc_id, hits are
// reported under that id instead, so dense and lexical hits for the same
// chunk fuse together.
type DenseIndex struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	cfg      DenseConfig

	mu    sync.RWMutex
	meta  map[string]Metadata // vector id -> metadata
	byDoc map[string]string   // doc_id -> vector id
}

// NewDenseIndex creates an empty index sized to the embedder.
func NewDenseIndex(embedder embed.Embedder, cfg DenseConfig) (*DenseIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("dense index embedder: %w", ErrNilDependency)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return nil, err
	}
	return &DenseIndex{
		embedder: embedder,
		vectors:  vs,
		cfg:      cfg,
		meta:     make(map[string]Metadata),
		byDoc:    make(map[string]string),
	}, nil
}

// ValidateIndex checks that the embedder still produces vectors of the
// size the index was built with.
func (d *DenseIndex) ValidateIndex(ctx context.Context) (bool, Meta) {
	want := d.embedder.Dimensions()
	meta := Meta{"expected_dimension": want, "model": d.embedder.ModelName()}
	vec, err := d.embedder.Embed(ctx, "dimension check")
	if err != nil {
		meta["status"] = "error"
		meta["error"] = err.Error()
		return false, meta
	}
	meta["dimension"] = len(vec)
	return len(vec) == want, meta
}

// IndexCorpus embeds docs in parallel batches and stores them. metadatas
// may be nil or must be parallel to docs. A doc_id that is already indexed
// replaces its earlier vector; one repeated within docs is rejected.
func (d *DenseIndex) IndexCorpus(ctx context.Context, docs []string, metadatas []Metadata) ([]string, Meta, error) {
	if metadatas != nil && len(metadatas) != len(docs) {
		err := ragerrors.ValidationError(
			fmt.Sprintf("documents and metadata length mismatch: %d vs %d", len(docs), len(metadatas)), nil)
		return nil, Meta{"status": "error", "error": err.Error()}, err
	}
	if len(docs) == 0 {
		return []string{}, Meta{"status": "success", "count": 0}, nil
	}
	seen := make(map[string]struct{}, len(metadatas))
	for _, m := range metadatas {
		docID := m[DocIDKey]
		if docID == "" {
			continue
		}
		if _, dup := seen[docID]; dup {
			err := ragerrors.ValidationError(fmt.Sprintf("doc_id %q appears more than once in the batch", docID), nil)
			return nil, Meta{"status": "error", "error": err.Error()}, err
		}
		seen[docID] = struct{}{}
	}

	vecs := make([][]float32, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for start := 0; start < len(docs); start += d.cfg.BatchSize {
		end := min(start+d.cfg.BatchSize, len(docs))
		g.Go(func() error {
			out, err := d.embedder.EmbedBatch(gctx, docs[start:end])
			if err != nil {
				return err
			}
			copy(vecs[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		err = ragerrors.New(ragerrors.ErrCodeEmbeddingFailed, "failed to embed documents", err)
		return nil, Meta{"status": "error", "error": err.Error()}, err
	}

	ids := make([]string, len(docs))
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var replaced []string
	for _, m := range metadatas {
		if old, ok := d.byDoc[m[DocIDKey]]; ok && m[DocIDKey] != "" {
			replaced = append(replaced, old)
		}
	}
	if err := d.vectors.Add(ctx, ids, vecs); err != nil {
		err = ragerrors.New(ragerrors.ErrCodeIndexFailed, "failed to store vectors", err)
		return nil, Meta{"status": "error", "error": err.Error()}, err
	}
	d.forget(ctx, replaced)

	for i, id := range ids {
		m := Metadata{}
		if metadatas != nil {
			m = maps.Clone(metadatas[i])
		}
		d.meta[id] = m
		if docID := m[DocIDKey]; docID != "" {
			d.byDoc[docID] = id
		}
	}
	return ids, Meta{"status": "success", "count": len(ids)}, nil
}

// forget drops vectors; the caller holds the write lock.
func (d *DenseIndex) forget(ctx context.Context, vectorIDs []string) {
	if len(vectorIDs) == 0 {
		return
	}
	_ = d.vectors.Delete(ctx, vectorIDs)
	for _, id := range vectorIDs {
		if docID := d.meta[id][DocIDKey]; docID != "" && d.byDoc[docID] == id {
			delete(d.byDoc, docID)
		}
		delete(d.meta, id)
	}
}

// Query embeds text and returns up to topK neighbours, most similar first.
func (d *DenseIndex) Query(ctx context.Context, text string, topK int) (RankedList, Meta, error) {
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return nil, Meta{"status": "error", "error": err.Error()},
			ragerrors.New(ragerrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}
	results, err := d.vectors.Search(ctx, vec, topK)
	if err != nil {
		return nil, Meta{"status": "error", "error": err.Error()},
			ragerrors.New(ragerrors.ErrCodeSearchFailed, "dense query failed", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	list := make(RankedList, 0, len(results))
	for _, r := range results {
		id := r.ID
		if docID := d.meta[r.ID][DocIDKey]; docID != "" {
			id = docID
		}
		list = append(list, Ranked{ID: id, Score: float64(r.Score)})
	}
	return list, Meta{"retrieved": len(list), "embedding_dimension": d.embedder.Dimensions()}, nil
}

// DeleteDocument removes a vector by doc_id or by vector id.
func (d *DenseIndex) DeleteDocument(ctx context.Context, id string) Meta {
	d.mu.Lock()
	defer d.mu.Unlock()
	vid := id
	if v, ok := d.byDoc[id]; ok {
		vid = v
	}
	if _, ok := d.meta[vid]; !ok {
		return Meta{"status": "not_found"}
	}
	d.forget(ctx, []string{vid})
	return Meta{"status": "success"}
}

// UpdateDocument re-embeds content for an existing document.
func (d *DenseIndex) UpdateDocument(ctx context.Context, id, content string, metadata Metadata) Meta {
	d.DeleteDocument(ctx, id)
	ids, meta, err := d.IndexCorpus(ctx, []string{content}, []Metadata{metadata})
	if err != nil {
		return meta
	}
	return Meta{"status": "success", "id": ids[0]}
}

// DocIDs returns the doc_ids that have a vector.
func (d *DenseIndex) DocIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.byDoc))
	for id := range d.byDoc {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live vectors.
func (d *DenseIndex) Count() int { return d.vectors.Count() }

// ModelName returns the embedder's model.
func (d *DenseIndex) ModelName() string { return d.embedder.ModelName() }

type denseSidecar struct {
	Model string              `json:"model"`
	Meta  map[string]Metadata `json:"meta"`
}

// Save writes the graph to path and the metadata to path.docs.
func (d *DenseIndex) Save(path string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.vectors.Save(path); err != nil {
		return err
	}
	data, err := json.Marshal(denseSidecar{Model: d.embedder.ModelName(), Meta: d.meta})
	if err != nil {
		return err
	}
	tmp := path + ".docs.tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dense metadata: %w", err)
	}
	return os.Rename(tmp, path+".docs")
}

// Load replaces the index with one saved by Save. A different embedding
// model is rejected since its vectors are not comparable.
func (d *DenseIndex) Load(path string) error {
	data, err := os.ReadFile(path + ".docs")
	if err != nil {
		return fmt.Errorf("failed to read dense metadata: %w", err)
	}
	var side denseSidecar
	if err := json.Unmarshal(data, &side); err != nil {
		return fmt.Errorf("failed to decode dense metadata: %w", err)
	}
	if side.Model != d.embedder.ModelName() {
		return fmt.Errorf("dense index was built with %q, embedder is %q", side.Model, d.embedder.ModelName())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.vectors.Load(path); err != nil {
		return err
	}
	d.meta = make(map[string]Metadata, len(side.Meta))
	d.byDoc = make(map[string]string, len(side.Meta))
	for id, m := range side.Meta {
		if !d.vectors.Contains(id) {
			continue
		}
		d.meta[id] = m
		if docID := m[DocIDKey]; docID != "" {
			d.byDoc[docID] = id
		}
	}
	return nil
}

// Close releases the vector store.
func (d *DenseIndex) Close() error {
	return d.vectors.Close()
}

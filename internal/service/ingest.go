package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JackSmack1971/personal-rag-copilot/internal/chunk"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/ignore"
	"github.com/JackSmack1971/personal-rag-copilot/internal/retrieval"
	"github.com/JackSmack1971/personal-rag-copilot/internal/telemetry"
)

// Audit actions.
const (
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Metadata keys attached to every dense vector.
const (
	metaSource = "source"
	metaChunk  = "chunk"
)

const defaultReadWorkers = 4

// SkippedFile is an input that was not ingested.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IngestResult summarizes one ingest call.
type IngestResult struct {
	Files     int           `json:"files"`
	Chunks    int           `json:"chunks"`
	IDs       []string      `json:"ids"`
	Skipped   []SkippedFile `json:"skipped,omitempty"`
	LatencyMS float64       `json:"latency_ms"`
}

// Health reports whether both indexes can serve queries.
type Health struct {
	Dense   DenseHealth   `json:"dense"`
	Lexical LexicalHealth `json:"lexical"`
}

// DenseHealth is the dense index part of Health.
type DenseHealth struct {
	Valid   bool           `json:"valid"`
	Vectors int            `json:"vectors"`
	Details retrieval.Meta `json:"details"`
}

// LexicalHealth is the lexical index part of Health.
type LexicalHealth struct {
	Ready     bool   `json:"ready"`
	Backend   string `json:"backend"`
	Documents int    `json:"documents"`
}

// CorpusStats describes the ingested corpus.
type CorpusStats struct {
	Chunks       int     `json:"chunks"`
	Sources      int     `json:"sources"`
	DenseVectors int     `json:"dense_vectors"`
	LexicalDocs  int     `json:"lexical_docs"`
	Terms        int     `json:"terms"`
	AvgChunkLen  float64 `json:"avg_chunk_terms"`
	Backend      string  `json:"lexical_backend"`
	Model        string  `json:"embedding_model"`
}

// IngestService chunks documents into both indexes and keeps the corpus
// snapshot they are rebuilt from. Mutations are serialized.
type IngestService struct {
	lexical   *retrieval.LexicalIndex
	dense     *retrieval.DenseIndex
	chunker   *chunk.WordChunker
	dashboard *telemetry.Dashboard

	// Empty paths disable persistence.
	snapshotPath string
	densePath    string

	mu      sync.Mutex
	entries []CorpusEntry
	pos     map[string]int
	audit   []AuditEntry
	now     func() time.Time
}

// IngestConfig wires an IngestService.
type IngestConfig struct {
	Lexical      *retrieval.LexicalIndex
	Dense        *retrieval.DenseIndex
	Chunker      *chunk.WordChunker
	Dashboard    *telemetry.Dashboard
	SnapshotPath string
	DensePath    string
}

// NewIngestService creates a service over empty indexes. Call Restore to
// load a persisted corpus.
func NewIngestService(cfg IngestConfig) (*IngestService, error) {
	if cfg.Lexical == nil || cfg.Dense == nil || cfg.Dashboard == nil {
		return nil, fmt.Errorf("ingest service: %w", retrieval.ErrNilDependency)
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunk.NewWordChunker()
	}
	return &IngestService{
		lexical:      cfg.Lexical,
		dense:        cfg.Dense,
		chunker:      cfg.Chunker,
		dashboard:    cfg.Dashboard,
		snapshotPath: cfg.SnapshotPath,
		densePath:    cfg.DensePath,
		pos:          make(map[string]int),
		now:          time.Now,
	}, nil
}

// Restore rebuilds both indexes from the snapshot. The saved dense graph is
// used when it matches the snapshot; otherwise the corpus is re-embedded.
func (s *IngestService) Restore(ctx context.Context) error {
	if s.snapshotPath == "" {
		return nil
	}
	snap, err := LoadSnapshot(s.snapshotPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = snap.Audit
	if len(snap.Entries) == 0 {
		return nil
	}

	ids, texts, metas := columns(snap.Entries)
	if err := s.lexical.Add(ctx, ids, texts); err != nil {
		return fmt.Errorf("failed to restore lexical index: %w", err)
	}
	for i, e := range snap.Entries {
		s.pos[e.ID] = i
	}
	s.entries = snap.Entries

	if s.loadDense(ids) {
		slog.Debug("dense index loaded",
			slog.String("path", s.densePath),
			slog.Int("vectors", s.dense.Count()))
		return nil
	}

	slog.Info("re-embedding corpus", slog.Int("chunks", len(texts)))
	if _, _, err := s.dense.IndexCorpus(ctx, texts, metas); err != nil {
		return fmt.Errorf("failed to restore dense index: %w", err)
	}
	s.saveDense()
	return nil
}

// loadDense reports whether the saved graph covers exactly ids.
func (s *IngestService) loadDense(ids []string) bool {
	if s.densePath == "" {
		return false
	}
	if _, err := os.Stat(s.densePath); err != nil {
		return false
	}
	if err := s.dense.Load(s.densePath); err != nil {
		slog.Warn("saved dense index unusable",
			slog.String("path", s.densePath),
			slog.String("error", err.Error()))
		return false
	}
	got := s.dense.DocIDs()
	slices.Sort(got)
	want := slices.Sorted(slices.Values(ids))
	if slices.Equal(got, want) {
		return true
	}
	// Stale graph: drop what it loaded before re-embedding.
	for _, id := range got {
		s.dense.DeleteDocument(context.Background(), id)
	}
	return false
}

// IngestFiles ingests files and, recursively, the supported files inside
// directories. Unsupported files are skipped and reported.
func (s *IngestService) IngestFiles(ctx context.Context, paths []string) (IngestResult, error) {
	start := s.now()
	files, skipped, err := s.expand(paths)
	if err != nil {
		return IngestResult{}, err
	}

	chunked := make([][]*chunk.Chunk, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultReadWorkers)
	for i, path := range files {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return readError(path, err)
			}
			chunks, err := s.chunker.Chunk(gctx, &chunk.FileInput{Path: path, Content: data})
			if err != nil {
				return err
			}
			chunked[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IngestResult{}, err
	}

	var all []*chunk.Chunk
	for _, cs := range chunked {
		all = append(all, cs...)
	}
	ids, err := s.index(ctx, all)
	if err != nil {
		return IngestResult{}, err
	}

	res := IngestResult{
		Files:     len(files),
		Chunks:    len(ids),
		IDs:       ids,
		Skipped:   skipped,
		LatencyMS: float64(s.now().Sub(start).Microseconds()) / 1000,
	}
	s.logIngest(res)
	return res, nil
}

// IngestTexts ingests raw texts as if each were a plain-text file named
// source#n.
func (s *IngestService) IngestTexts(ctx context.Context, source string, texts []string) (IngestResult, error) {
	start := s.now()
	var all []*chunk.Chunk
	for i, text := range texts {
		name := fmt.Sprintf("%s#%d", source, i)
		for j, w := range s.chunker.Split(text) {
			all = append(all, &chunk.Chunk{
				Source:      name,
				Index:       j,
				Content:     w,
				ContentType: chunk.ContentTypeText,
			})
		}
	}
	ids, err := s.index(ctx, all)
	if err != nil {
		return IngestResult{}, err
	}
	res := IngestResult{
		Files:     len(texts),
		Chunks:    len(ids),
		IDs:       ids,
		LatencyMS: float64(s.now().Sub(start).Microseconds()) / 1000,
	}
	s.logIngest(res)
	return res, nil
}

func (s *IngestService) logIngest(res IngestResult) {
	s.dashboard.Log(telemetry.Record{
		Kind:      telemetry.KindIngest,
		LatencyMS: res.LatencyMS,
		Fields: map[string]any{
			"files":   res.Files,
			"chunks":  res.Chunks,
			"skipped": len(res.Skipped),
		},
	})
	slog.Info("ingest complete",
		slog.Int("files", res.Files),
		slog.Int("chunks", res.Chunks),
		slog.Int("skipped", len(res.Skipped)),
		slog.Float64("latency_ms", res.LatencyMS))
}

// index adds chunks to the lexical index first, then embeds them under the
// lexical ids. A dense failure rolls the lexical additions back.
func (s *IngestService) index(ctx context.Context, chunks []*chunk.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return []string{}, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, _, err := s.lexical.IndexDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	entries := make([]CorpusEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = CorpusEntry{ID: ids[i], Source: c.Source, Chunk: c.Index, Text: c.Content}
	}
	_, _, metas := columns(entries)
	if _, _, err := s.dense.IndexCorpus(ctx, texts, metas); err != nil {
		if derr := s.lexical.Delete(context.WithoutCancel(ctx), ids); derr != nil {
			slog.Warn("failed to roll back lexical index", slog.String("error", derr.Error()))
		}
		return nil, err
	}

	for _, e := range entries {
		s.pos[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateDocument replaces the text of an ingested chunk in both indexes.
func (s *IngestService) UpdateDocument(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.pos[id]
	if !ok {
		return notFound(id)
	}
	e := s.entries[i]
	e.Text = content

	if err := s.lexical.Add(ctx, []string{id}, []string{content}); err != nil {
		return err
	}
	_, _, metas := columns([]CorpusEntry{e})
	if meta := s.dense.UpdateDocument(ctx, id, content, metas[0]); meta["status"] != "success" {
		return ragerrors.New(ragerrors.ErrCodeIndexFailed,
			fmt.Sprintf("failed to re-embed document %s", id), nil).
			WithDetail("error", fmt.Sprint(meta["error"]))
	}

	s.entries[i] = e
	s.recordAudit(ActionUpdate, id)
	return s.persist()
}

// DeleteDocument removes an ingested chunk from both indexes.
func (s *IngestService) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.pos[id]
	if !ok {
		return notFound(id)
	}
	if err := s.lexical.Delete(ctx, []string{id}); err != nil {
		return err
	}
	s.dense.DeleteDocument(ctx, id)

	s.entries = slices.Delete(s.entries, i, i+1)
	delete(s.pos, id)
	for j := i; j < len(s.entries); j++ {
		s.pos[s.entries[j].ID] = j
	}
	s.recordAudit(ActionDelete, id)
	return s.persist()
}

func (s *IngestService) recordAudit(action, id string) {
	s.audit = append(s.audit, AuditEntry{Action: action, DocID: id, Timestamp: s.now().UTC()})
	slog.Info("corpus document changed", slog.String("action", action), slog.String("doc_id", id))
}

// AuditLog returns update and delete records, oldest first.
func (s *IngestService) AuditLog() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}

// Entries returns the corpus in ingestion order.
func (s *IngestService) Entries() []CorpusEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Health probes both indexes.
func (s *IngestService) Health(ctx context.Context) Health {
	valid, meta := s.dense.ValidateIndex(ctx)
	return Health{
		Dense: DenseHealth{Valid: valid, Vectors: s.dense.Count(), Details: meta},
		Lexical: LexicalHealth{
			Ready:     s.lexical.Len() > 0,
			Backend:   s.lexical.Backend(),
			Documents: s.lexical.Len(),
		},
	}
}

// Stats summarizes the corpus and both indexes.
func (s *IngestService) Stats() CorpusStats {
	s.mu.Lock()
	sources := make(map[string]struct{})
	for _, e := range s.entries {
		sources[e.Source] = struct{}{}
	}
	n := len(s.entries)
	s.mu.Unlock()

	lex := s.lexical.Stats()
	return CorpusStats{
		Chunks:       n,
		Sources:      len(sources),
		DenseVectors: s.dense.Count(),
		LexicalDocs:  s.lexical.Len(),
		Terms:        lex.TermCount,
		AvgChunkLen:  lex.AvgDocLength,
		Backend:      s.lexical.Backend(),
		Model:        s.dense.ModelName(),
	}
}

// persist must be called with mu held.
func (s *IngestService) persist() error {
	if s.snapshotPath == "" {
		return nil
	}
	snap := &Snapshot{
		Model:   s.dense.ModelName(),
		Entries: s.entries,
		Audit:   s.audit,
	}
	if err := SaveSnapshot(s.snapshotPath, snap); err != nil {
		return err
	}
	s.saveDense()
	return nil
}

// saveDense is best effort: the snapshot alone can rebuild the graph.
func (s *IngestService) saveDense() {
	if s.densePath == "" {
		return
	}
	if err := s.dense.Save(s.densePath); err != nil {
		slog.Warn("failed to save dense index",
			slog.String("path", s.densePath),
			slog.String("error", err.Error()))
	}
}

// expand resolves directories and sorts out unsupported files. Directory
// walks skip hidden directories and whatever the root's .gitignore and
// .ragignore exclude.
func (s *IngestService) expand(paths []string) ([]string, []SkippedFile, error) {
	var files []string
	var skipped []SkippedFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, readError(p, err)
		}
		if !info.IsDir() {
			if s.chunker.Supports(p) {
				files = append(files, p)
			} else {
				skipped = append(skipped, SkippedFile{Path: p, Reason: "unsupported file type"})
			}
			continue
		}
		ignored, err := ignore.Load(p)
		if err != nil {
			return nil, nil, readError(p, err)
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(p, path)
			if d.IsDir() {
				if rel != "." && (strings.HasPrefix(d.Name(), ".") || ignored.Match(rel, true)) {
					return filepath.SkipDir
				}
				return nil
			}
			if s.chunker.Supports(path) && !ignored.Match(rel, false) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, nil, readError(p, err)
		}
	}
	for _, sk := range skipped {
		slog.Warn("skipping file", slog.String("path", sk.Path), slog.String("reason", sk.Reason))
	}
	return files, skipped, nil
}

func columns(entries []CorpusEntry) ([]string, []string, []retrieval.Metadata) {
	ids := make([]string, len(entries))
	texts := make([]string, len(entries))
	metas := make([]retrieval.Metadata, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		texts[i] = e.Text
		metas[i] = retrieval.Metadata{
			retrieval.DocIDKey: e.ID,
			metaSource:         e.Source,
			metaChunk:          strconv.Itoa(e.Chunk),
		}
	}
	return ids, texts, metas
}

func readError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ragerrors.New(ragerrors.ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path), err)
	case errors.Is(err, fs.ErrPermission):
		return ragerrors.New(ragerrors.ErrCodeFilePermission, fmt.Sprintf("permission denied: %s", path), err)
	default:
		return ragerrors.IOError(fmt.Sprintf("failed to read %s", path), err)
	}
}

func notFound(id string) error {
	return ragerrors.New(ragerrors.ErrCodeDocumentNotFound,
		fmt.Sprintf("document %s is not in the corpus", id), nil)
}

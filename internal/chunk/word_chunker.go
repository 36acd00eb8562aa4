package chunk

import (
	"context"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// WordChunkerOptions configures a WordChunker. Zero values take defaults.
type WordChunkerOptions struct {
	ChunkWords int

	// OverlapWords of 0 means DefaultOverlapWords; use NoOverlap for
	// disjoint windows.
	OverlapWords int
}

// NoOverlap disables window overlap in WordChunkerOptions.
const NoOverlap = -1

// WordChunker cuts plain text, Markdown and HTML into fixed-size word
// windows. Consecutive windows share OverlapWords words; the last window
// ends at the final word.
type WordChunker struct {
	options WordChunkerOptions
}

var (
	tagPattern       = regexp.MustCompile(`(?s)<[^>]+>`)
	scriptPattern    = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	mdHeaderPattern  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdFencePattern   = regexp.MustCompile("(?m)^```.*$")
	mdLinkPattern    = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	mdEmphasisMarker = strings.NewReplacer("**", "", "__", "", "`", "")
)

// NewWordChunker creates a chunker with default sizes.
func NewWordChunker() *WordChunker {
	return NewWordChunkerWithOptions(WordChunkerOptions{})
}

// NewWordChunkerWithOptions creates a chunker. An overlap that is not
// smaller than the chunk size is clamped so windows still advance.
func NewWordChunkerWithOptions(opts WordChunkerOptions) *WordChunker {
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = DefaultChunkWords
	}
	switch {
	case opts.OverlapWords == 0:
		opts.OverlapWords = DefaultOverlapWords
	case opts.OverlapWords < 0:
		opts.OverlapWords = 0
	}
	if opts.OverlapWords >= opts.ChunkWords {
		opts.OverlapWords = opts.ChunkWords - 1
	}
	return &WordChunker{options: opts}
}

// SupportedExtensions returns the file types Chunk accepts.
func (c *WordChunker) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".html", ".htm"}
}

// Supports reports whether path has a supported extension.
func (c *WordChunker) Supports(path string) bool {
	return slices.Contains(c.SupportedExtensions(), strings.ToLower(filepath.Ext(path)))
}

// Chunk extracts the text of file and splits it. Empty files give no chunks.
func (c *WordChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ct, err := contentTypeOf(file.Path)
	if err != nil {
		return nil, err
	}

	var text string
	switch ct {
	case ContentTypeHTML:
		text = htmlToText(string(file.Content))
	case ContentTypeMarkdown:
		text = markdownToText(string(file.Content))
	default:
		text = string(file.Content)
	}

	windows := c.Split(text)
	chunks := make([]*Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = &Chunk{
			Source:      file.Path,
			Index:       i,
			Content:     w,
			ContentType: ct,
			WordCount:   len(strings.Fields(w)),
		}
	}
	return chunks, nil
}

// Split cuts text into word windows.
func (c *WordChunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.options.ChunkWords - c.options.OverlapWords
	var out []string
	for start := 0; start < len(words); start += step {
		end := min(start+c.options.ChunkWords, len(words))
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

func contentTypeOf(path string) (ContentType, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt":
		return ContentTypeText, nil
	case ".md", ".markdown":
		return ContentTypeMarkdown, nil
	case ".html", ".htm":
		return ContentTypeHTML, nil
	default:
		return "", fmt.Errorf("unsupported file type %q", ext)
	}
}

func htmlToText(s string) string {
	s = scriptPattern.ReplaceAllString(s, " ")
	s = tagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

func markdownToText(s string) string {
	s = mdFencePattern.ReplaceAllString(s, "")
	s = mdHeaderPattern.ReplaceAllString(s, "")
	s = mdLinkPattern.ReplaceAllString(s, "$1")
	s = mdEmphasisMarker.Replace(s)
	return htmlToText(s)
}

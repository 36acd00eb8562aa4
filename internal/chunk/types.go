// Package chunk splits documents into overlapping word windows for
// indexing.
package chunk

import "context"

// Chunk size defaults, in whitespace-separated words.
const (
	DefaultChunkWords   = 500
	DefaultOverlapWords = 50
)

// ContentType is the format a chunk was extracted from.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeHTML     ContentType = "html"
)

// Chunk is a retrievable unit of content.
type Chunk struct {
	Source      string      // file path it came from
	Index       int         // position within the source, 0-based
	Content     string      // words joined by single spaces
	ContentType ContentType
	WordCount   int
}

// FileInput is input for the Chunker interface.
type FileInput struct {
	Path    string
	Content []byte
}

// Chunker splits a file into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions returns lowercase extensions including the dot.
	SupportedExtensions() []string
}

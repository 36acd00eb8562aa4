package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Split
// ============================================================================

func TestSplit_OverlappingWindows(t *testing.T) {
	c := NewWordChunkerWithOptions(WordChunkerOptions{ChunkWords: 3, OverlapWords: 1})

	assert.Equal(t, []string{"one two three", "three four five"}, c.Split("one two three four five"))
}

func TestSplit_Defaults(t *testing.T) {
	words := make([]string, 1000)
	for i := range words {
		words[i] = "w"
	}
	chunks := NewWordChunker().Split(strings.Join(words, " "))

	// Windows start at 0, 450, 900.
	require.Len(t, chunks, 3)
	assert.Len(t, strings.Fields(chunks[0]), 500)
	assert.Len(t, strings.Fields(chunks[1]), 500)
	assert.Len(t, strings.Fields(chunks[2]), 100)
}

func TestSplit_DefaultOverlapSharesFiftyWords(t *testing.T) {
	// Given: 600 distinct words
	words := make([]string, 600)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}

	// When: splitting with the default chunker
	chunks := NewWordChunker().Split(strings.Join(words, " "))

	// Then: the second window starts at word 450 and runs to the end
	require.Len(t, chunks, 2)
	second := strings.Fields(chunks[1])
	assert.Len(t, second, 150)
	assert.Equal(t, "w450", second[0])
	assert.Equal(t, "w599", second[len(second)-1])
}

func TestSplit_NoOverlap(t *testing.T) {
	c := NewWordChunkerWithOptions(WordChunkerOptions{ChunkWords: 2, OverlapWords: NoOverlap})

	assert.Equal(t, []string{"a b", "c d", "e"}, c.Split("a b c d e"))
}

func TestSplit_ShortAndEmpty(t *testing.T) {
	c := NewWordChunker()
	assert.Equal(t, []string{"just a few words"}, c.Split("  just\ta few\nwords "))
	assert.Empty(t, c.Split("   \n\t"))
}

func TestSplit_OverlapClamped(t *testing.T) {
	c := NewWordChunkerWithOptions(WordChunkerOptions{ChunkWords: 2, OverlapWords: 5})
	assert.Equal(t, []string{"a b", "b c"}, c.Split("a b c"))
}

// ============================================================================
// Chunk
// ============================================================================

func TestChunk_Text(t *testing.T) {
	c := NewWordChunkerWithOptions(WordChunkerOptions{ChunkWords: 3, OverlapWords: 1})

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "notes.TXT", Content: []byte("one two three four five")})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "notes.TXT", chunks[1].Source)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, ContentTypeText, chunks[1].ContentType)
	assert.Equal(t, 3, chunks[1].WordCount)
}

func TestChunk_MarkdownStripsSyntax(t *testing.T) {
	md := "# Title\n\nSome **bold** text with a [link](http://x.y).\n\n```go\ncode here\n```\n"
	chunks, err := NewWordChunker().Chunk(context.Background(), &FileInput{Path: "a.md", Content: []byte(md)})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Title Some bold text with a link. code here", chunks[0].Content)
	assert.Equal(t, ContentTypeMarkdown, chunks[0].ContentType)
}

func TestChunk_HTML(t *testing.T) {
	page := "<html><head><style>p{}</style></head><body><p>Fish &amp; chips</p><script>x()</script></body></html>"
	chunks, err := NewWordChunker().Chunk(context.Background(), &FileInput{Path: "a.html", Content: []byte(page)})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Fish & chips", chunks[0].Content)
}

func TestChunk_UnsupportedType(t *testing.T) {
	c := NewWordChunker()
	_, err := c.Chunk(context.Background(), &FileInput{Path: "a.pdf", Content: []byte("x")})
	assert.Error(t, err)
	assert.False(t, c.Supports("a.pdf"))
	assert.True(t, c.Supports("A.MD"))
}

func TestChunk_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewWordChunker().Chunk(ctx, &FileInput{Path: "a.txt", Content: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

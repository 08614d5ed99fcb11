package devserver

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"

	"github.com/killallgit/flowchat/pkg/stream"
	"github.com/philippgille/chromem-go"
)

const (
	collectionName    = "documents"
	defaultDimensions = 256
	maxChunkRunes     = 800
)

// HashEmbedder maps text to a normalized bag of hashed words. Texts that
// share words end up close to each other, which is enough for a local
// backend without an embedding model.
type HashEmbedder struct {
	dimensions int
}

func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed implements chromem.EmbeddingFunc
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)
	for _, word := range words(text) {
		h := fnv.New32a()
		h.Write([]byte(word))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%e.dimensions] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		// chromem rejects zero vectors
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Retriever finds source documents for a question
type Retriever struct {
	db         *chromem.DB
	collection *chromem.Collection
}

func NewRetriever(embedder *HashEmbedder) (*Retriever, error) {
	if embedder == nil {
		embedder = NewHashEmbedder(0)
	}
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &Retriever{db: db, collection: col}, nil
}

// Add indexes documents. Documents without an id get one derived from
// their title and position.
func (r *Retriever) Add(ctx context.Context, docs []stream.SourceDocument) error {
	if len(docs) == 0 {
		return nil
	}
	chromemDocs := make([]chromem.Document, 0, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("%s#%d", doc.Title, r.collection.Count()+i)
		}
		metadata := map[string]string{}
		for k, v := range doc.Metadata {
			metadata[k] = fmt.Sprintf("%v", v)
		}
		if doc.Title != "" {
			metadata["title"] = doc.Title
		}
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:       id,
			Content:  doc.PageContent,
			Metadata: metadata,
		})
	}
	if err := r.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// LoadDirectory indexes every .md and .txt file under dir, one document
// per paragraph group
func (r *Retriever) LoadDirectory(ctx context.Context, dir string) (int, error) {
	var docs []stream.SourceDocument
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		for i, chunk := range ChunkText(string(raw), maxChunkRunes) {
			docs = append(docs, stream.SourceDocument{
				ID:          fmt.Sprintf("%s#%d", rel, i),
				Title:       rel,
				PageContent: chunk,
				Metadata:    map[string]any{"source": rel, "chunk": i},
			})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load documents: %w", err)
	}
	if err := r.Add(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Query returns up to k documents ranked by similarity
func (r *Retriever) Query(ctx context.Context, question string, k int) ([]stream.SourceDocument, error) {
	count := r.collection.Count()
	if k > count {
		k = count
	}
	if k <= 0 || strings.TrimSpace(question) == "" {
		return []stream.SourceDocument{}, nil
	}

	results, err := r.collection.Query(ctx, question, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	docs := make([]stream.SourceDocument, 0, len(results))
	for _, res := range results {
		metadata := make(map[string]any, len(res.Metadata)+1)
		for key, v := range res.Metadata {
			metadata[key] = v
		}
		metadata["score"] = res.Similarity
		docs = append(docs, stream.SourceDocument{
			ID:          res.ID,
			Title:       res.Metadata["title"],
			PageContent: res.Content,
			Metadata:    metadata,
		})
	}
	return docs, nil
}

func (r *Retriever) Count() int {
	return r.collection.Count()
}

// ChunkText splits text at blank lines and packs paragraphs into chunks
// of at most limit runes. A single longer paragraph stays whole.
func ChunkText(text string, limit int) []string {
	var chunks []string
	var current strings.Builder
	size := 0

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := len([]rune(para))
		if size > 0 && size+n+2 > limit {
			chunks = append(chunks, current.String())
			current.Reset()
			size = 0
		}
		if size > 0 {
			current.WriteString("\n\n")
			size += 2
		}
		current.WriteString(para)
		size += n
	}
	if size > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

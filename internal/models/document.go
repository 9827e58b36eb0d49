package models

// Document is a source document handed to the processor as one text stream.
type Document struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// ProcessedDocument is a Document split into chunks, ready for embedding.
type ProcessedDocument struct {
	Document
	Chunks []Chunk
}

// Chunk is a word-bounded span of document text. ID is the sequence index
// within the document and WordCount counts the words of Text, overlap included.
type Chunk struct {
	ID        int
	Text      string
	WordCount int
}

// Vector is an embedding tagged with the model that produced it.
type Vector struct {
	Model  string
	Values []float32
}

// Comparable reports whether v and o were produced by the same model and
// have the same dimensionality.
func (v Vector) Comparable(o Vector) bool {
	return v.Model == o.Model && len(v.Values) == len(o.Values)
}

// Entry is a single record of the vector index.
type Entry struct {
	ID        string
	Vector    Vector
	Metadata  map[string]interface{}
	Namespace string
}

// Text returns the chunk text stored under the "text" metadata key.
func (e Entry) Text() string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata["text"].(string)
	return s
}

// Match is an index entry with its similarity score.
type Match struct {
	Entry
	Score float64
}

package models

// TocEntry maps a table-of-contents title to its printed page number.
type TocEntry struct {
	Title string
	Page  int
}

// Toc is a title to page mapping that remembers discovery order.
// Setting a title that is already present overwrites its page in place.
type Toc struct {
	entries []TocEntry
	index   map[string]int
}

func NewToc() *Toc {
	return &Toc{index: make(map[string]int)}
}

func (t *Toc) Set(title string, page int) {
	if i, ok := t.index[title]; ok {
		t.entries[i].Page = page
		return
	}
	t.index[title] = len(t.entries)
	t.entries = append(t.entries, TocEntry{Title: title, Page: page})
}

func (t *Toc) Lookup(title string) (int, bool) {
	i, ok := t.index[title]
	if !ok {
		return 0, false
	}
	return t.entries[i].Page, true
}

// Entries returns a copy of the entries in discovery order.
func (t *Toc) Entries() []TocEntry {
	out := make([]TocEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Toc) Len() int { return len(t.entries) }

// CorpusItem is a rankable unit of course material, usually a lesson.
// Embedding is optional and filled lazily by the ranker's cache.
type CorpusItem struct {
	ID        string
	Title     string
	Summary   string
	Embedding *Vector
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role
	Text    string
	Ordinal int
}

// History is an append-only conversation log owned by a chat session.
type History struct {
	turns []Turn
}

// Append adds a turn and assigns it the next ordinal.
func (h *History) Append(role Role, text string) Turn {
	ord := 1
	if n := len(h.turns); n > 0 {
		ord = h.turns[n-1].Ordinal + 1
	}
	t := Turn{Role: role, Text: text, Ordinal: ord}
	h.turns = append(h.turns, t)
	return t
}

// Turns returns a copy of the turns in order.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int { return len(h.turns) }

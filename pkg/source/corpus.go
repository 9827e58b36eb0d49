package source

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/xhad/tutor/internal/models"
	"gopkg.in/yaml.v3"
)

type lessonRecord struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
}

// LessonFile is a corpus of lessons grouped by class, read from YAML:
//
//	math-101:
//	  - id: "1"
//	    title: Intro to Limits
//	    summary: Limits formalize...
type LessonFile struct {
	scopes map[string][]models.CorpusItem
}

func LoadLessons(path string) (*LessonFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lessons: %w", err)
	}
	return ParseLessons(data)
}

func ParseLessons(data []byte) (*LessonFile, error) {
	var raw map[string][]lessonRecord
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse lessons: %w", err)
	}

	lf := &LessonFile{scopes: make(map[string][]models.CorpusItem, len(raw))}
	for scope, records := range raw {
		items := make([]models.CorpusItem, 0, len(records))
		for i, r := range records {
			if r.Title == "" {
				return nil, fmt.Errorf("lesson %d of %s has no title", i, scope)
			}
			id := r.ID
			if id == "" {
				id = fmt.Sprintf("%s/%d", scope, i)
			}
			items = append(items, models.CorpusItem{ID: id, Title: r.Title, Summary: r.Summary})
		}
		lf.scopes[scope] = items
	}
	return lf, nil
}

// Corpus returns a copy of the lessons of scope; an unknown scope is empty.
func (lf *LessonFile) Corpus(ctx context.Context, scope string) ([]models.CorpusItem, error) {
	items := lf.scopes[scope]
	out := make([]models.CorpusItem, len(items))
	copy(out, items)
	return out, nil
}

// Scopes returns the classes defined in the file, sorted.
func (lf *LessonFile) Scopes() []string {
	scopes := make([]string, 0, len(lf.scopes))
	for scope := range lf.scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

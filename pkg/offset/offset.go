// Package offset infers where a document's printed page numbering starts and
// extracts its table of contents from raw page text.
package offset

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
)

// Mode controls when ExtractToc stops scanning.
type Mode int

const (
	// Continuous keeps scanning while pages keep matching.
	Continuous Mode = iota
	// SinglePage stops after the first page with a match.
	SinglePage
)

const DefaultSeparators = `\-.\s*`

var pageOne = regexp.MustCompile(`\b1\b`)

type ResolverConfig struct {
	FooterFraction float64 // bottom share of a page treated as its footer
	MaxPages       int
	SkipFromPage   int
	Separators     string // regexp character class body for leader runs
	Mode           Mode
	Logger         *zerolog.Logger
}

type Resolver struct {
	config ResolverConfig
	line   *regexp.Regexp
	log    zerolog.Logger
}

func NewWithConfig(config ResolverConfig) (*Resolver, error) {
	if config.FooterFraction == 0 {
		config.FooterFraction = 0.09
	}
	if config.FooterFraction < 0 || config.FooterFraction > 1 {
		return nil, types.Configf("footer fraction must be in (0, 1], got %v", config.FooterFraction)
	}
	if config.MaxPages == 0 {
		config.MaxPages = 20
	}
	if config.MaxPages < 0 || config.SkipFromPage < 0 {
		return nil, types.Configf("max pages and skip from page must not be negative")
	}
	if config.Separators == "" {
		config.Separators = DefaultSeparators
	}

	line, err := regexp.Compile(fmt.Sprintf(`^\s*(.+?)[%s]+(\d+)\s*$`, config.Separators))
	if err != nil {
		return nil, types.Configf("invalid separator class %q: %v", config.Separators, err)
	}

	r := &Resolver{config: config, line: line, log: zerolog.Nop()}
	if config.Logger != nil {
		r.log = *config.Logger
	}
	return r, nil
}

// InferOffset returns the index of the first page whose footer shows the
// numeral 1 as a token of its own, or 0 when no page does.
func (r *Resolver) InferOffset(ctx context.Context, src types.PageSource) (int, error) {
	footers, _ := src.(types.FooterSource)

	for page := 0; page < src.PageCount(); page++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var footer string
		var err error
		if footers != nil {
			footer, err = footers.FooterText(ctx, page, r.config.FooterFraction)
		} else {
			var text string
			text, err = src.PageText(ctx, page)
			footer = Footer(text, r.config.FooterFraction)
		}
		if err != nil {
			return 0, fmt.Errorf("read footer of page %d: %w", page, err)
		}

		if pageOne.MatchString(footer) {
			r.log.Debug().Int("offset", page).Msg("page offset inferred")
			return page, nil
		}
	}
	return 0, nil
}

// Footer returns the bottom fraction of text's non-empty lines, always at
// least the last line.
func Footer(text string, fraction float64) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return ""
	}

	n := int(math.Ceil(float64(len(lines)) * fraction))
	if n < 1 {
		n = 1
	}
	if n > len(lines) {
		n = len(lines)
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// ExtractToc scans up to MaxPages pages from SkipFromPage for lines shaped
// like "Title ....... 12". Duplicate titles keep their first position and
// take the later page number.
func (r *Resolver) ExtractToc(ctx context.Context, src types.PageSource) (*models.Toc, error) {
	toc := models.NewToc()
	end := r.config.SkipFromPage + r.config.MaxPages
	if end > src.PageCount() {
		end = src.PageCount()
	}

	found := false
	for page := r.config.SkipFromPage; page < end; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := src.PageText(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", page, err)
		}

		matched := r.parsePage(text, toc)
		switch {
		case matched > 0:
			found = true
			if r.config.Mode == SinglePage {
				return toc, nil
			}
		case found:
			r.log.Debug().Int("page", page).Int("entries", toc.Len()).Msg("table of contents ended")
			return toc, nil
		}
	}
	return toc, nil
}

func (r *Resolver) parsePage(text string, toc *models.Toc) int {
	matched := 0
	for _, l := range strings.Split(text, "\n") {
		m := r.line.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(m[1])
		page, err := strconv.Atoi(m[2])
		if title == "" || err != nil {
			continue
		}
		toc.Set(title, page)
		matched++
	}
	return matched
}

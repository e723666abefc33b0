// Package pdf renders the finished memoir as a printable PDF: a title page,
// then each accepted chapter with its heading and prose, paginated with
// page numbers.
package pdf

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/page"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// MemoirData is the renderer input, assembled by the export handler from the
// approved outline and its accepted chapter drafts.
type MemoirData struct {
	Title       string
	Storyteller string
	GeneratedAt time.Time
	Chapters    []Chapter
}

// Chapter is one accepted chapter in outline order.
type Chapter struct {
	Title string
	Prose string
}

// Renderer builds memoir PDFs.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces the PDF document.
func (r *Renderer) Render(data MemoirData) (io.Reader, error) {
	if len(data.Chapters) == 0 {
		return nil, fmt.Errorf("memoir has no chapters to render")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "{current} / {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	// Title page.
	title := data.Title
	if title == "" {
		title = "A Life in Stories"
	}
	m.AddRow(80, col.New(12))
	m.AddRow(20,
		text.NewCol(12, title, props.Text{
			Size:  26,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)
	if data.Storyteller != "" {
		m.AddRow(12,
			text.NewCol(12, "The memories of "+data.Storyteller, props.Text{
				Size:  14,
				Align: align.Center,
				Top:   2,
			}),
		)
	}
	m.AddRow(10,
		text.NewCol(12, data.GeneratedAt.Format("January 2006"), props.Text{
			Size:  10,
			Align: align.Center,
			Top:   4,
		}),
	)

	for i, ch := range data.Chapters {
		m.AddPages(page.New())

		m.AddRow(16,
			text.NewCol(12, fmt.Sprintf("Chapter %d", i+1), props.Text{
				Size:  10,
				Align: align.Center,
			}),
		)
		m.AddRow(14,
			text.NewCol(12, ch.Title, props.Text{
				Size:  18,
				Style: fontstyle.Bold,
				Align: align.Center,
			}),
		)

		for _, para := range splitParagraphs(ch.Prose) {
			// Row height scales with a rough line estimate so long paragraphs
			// get room instead of overprinting the next row.
			lines := len(para)/95 + 1
			m.AddRow(float64(5*lines+6),
				text.NewCol(12, para, props.Text{
					Size:  11,
					Align: align.Left,
					Top:   2,
				}),
			)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to render memoir: %w", err)
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

func splitParagraphs(prose string) []string {
	var out []string
	for _, p := range strings.Split(prose, "\n\n") {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\n", " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

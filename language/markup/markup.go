// Package markup previews HTML documents after sanitizing them.
package markup

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/runner"
)

var samples = runner.Samples{
	Placeholder: "<!-- Write HTML here -->\n<h1>Hello, HTML!</h1>",
	Example: `<h1>Project status</h1>
<p>Everything here is rendered <strong>after</strong> sanitizing.</p>
<ul>
  <li><a href="https://go.dev">Go</a></li>
  <li><a href="https://example.com" onclick="steal()">Example</a></li>
</ul>
<script>alert('removed before preview')</script>
<table>
  <tr><th>Language</th><th>Engine</th></tr>
  <tr><td>Lua</td><td>gopher-lua</td></tr>
</table>`,
}

// unsafe lists elements the sanitizer drops along with their content.
const unsafe = "script, style, iframe, object, embed, form, frame, frameset"

func NewRunner(desc language.Descriptor, opts runner.Options) (runner.Runner, error) {
	return runner.NewDirect(desc, NewRenderer(), samples, opts), nil
}

// Renderer sanitizes user HTML for display. It is safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
}

func NewRenderer() *Renderer {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	return &Renderer{policy: p}
}

// Render emits a summary info event followed by the sanitized markup.
func (r *Renderer) Render(ctx context.Context, code string, emit protocol.Sink) error {
	if strings.TrimSpace(code) == "" {
		emit.Emit(protocol.KindInfo, "Empty document")
		emit.Emit(protocol.KindHTML, "")
		return nil
	}

	original, err := goquery.NewDocumentFromReader(strings.NewReader(code))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	removed := original.Find(unsafe).Length()
	handlers := 0
	original.Find("*").Each(func(i int, s *goquery.Selection) {
		for _, attr := range s.Nodes[0].Attr {
			if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				handlers++
			}
		}
	})

	clean := r.policy.Sanitize(code)
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return fmt.Errorf("parse sanitized html: %w", err)
	}
	stats := Stats{
		Elements: doc.Find("body *").Length(),
		Links:    doc.Find("a[href]").Length(),
		Images:   doc.Find("img[src]").Length(),
		Headings: doc.Find("h1, h2, h3, h4, h5, h6").Length(),
	}

	emit.Emit(protocol.KindInfo, stats.String())
	if removed > 0 || handlers > 0 {
		emit.Emit(protocol.KindWarn, fmt.Sprintf("Removed %d unsafe element(s) and %d event handler(s)", removed, handlers))
	}
	emit.Emit(protocol.KindHTML, clean)
	return nil
}

// Stats summarizes a sanitized document.
type Stats struct {
	Elements int
	Links    int
	Images   int
	Headings int
}

func (s Stats) String() string {
	return fmt.Sprintf("Rendered %d element(s): %d heading(s), %d link(s), %d image(s)",
		s.Elements, s.Headings, s.Links, s.Images)
}

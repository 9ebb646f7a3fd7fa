// Package report turns a capture report JSON document into a browsable
// HTML page. Pure templating over the report: nothing here feeds back into
// the pipeline.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"strings"

	"cardmotion/pkg/model"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// converter renders the summary markdown. GFM is needed for the stats and
// element tables.
var converter = goldmark.New(goldmark.WithExtensions(extension.GFM))

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px 8px; }
code { background: #f4f4f4; padding: 1px 4px; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

type pageData struct {
	Title string
	Body  template.HTML
}

// RenderFile reads a report.json and writes report.html next to it.
func RenderFile(jsonPath, htmlPath string) error {
	b, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	var rep model.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return fmt.Errorf("parse report: %w", err)
	}
	html, err := Render(rep)
	if err != nil {
		return err
	}
	return os.WriteFile(htmlPath, html, 0o644)
}

// Render produces a standalone HTML page for one report: a markdown
// summary converted with goldmark, wrapped in a minimal template.
func Render(rep model.Report) ([]byte, error) {
	md := summaryMarkdown(rep)

	var body bytes.Buffer
	if err := converter.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	var out bytes.Buffer
	err := pageTmpl.Execute(&out, pageData{
		Title: "Capture report: " + rep.Session.URL,
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func summaryMarkdown(rep model.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Capture report\n\n")
	fmt.Fprintf(&b, "- **URL**: %s\n", rep.Session.URL)
	fmt.Fprintf(&b, "- **Started**: %s\n", rep.Session.StartedAt)
	fmt.Fprintf(&b, "- **State**: %s\n\n", rep.State)

	fmt.Fprintf(&b, "## Stats\n\n")
	fmt.Fprintf(&b, "| Counter | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Elements found | %d |\n", rep.Stats.ElementsFound)
	fmt.Fprintf(&b, "| Animations captured | %d |\n", rep.Stats.AnimationsCaptured)
	fmt.Fprintf(&b, "| Hover effects | %d |\n", rep.Stats.HoverEffects)
	fmt.Fprintf(&b, "| Click interactions | %d |\n", rep.Stats.ClickInteractions)
	fmt.Fprintf(&b, "| Screenshots | %d |\n", rep.Stats.ScreenshotsTaken)
	fmt.Fprintf(&b, "| Errors | %d |\n\n", rep.Stats.Errors)

	if len(rep.Stats.FailureSample) > 0 {
		fmt.Fprintf(&b, "## Failure sample\n\n")
		for _, note := range rep.Stats.FailureSample {
			fmt.Fprintf(&b, "- `%s`\n", note)
		}
		b.WriteString("\n")
	}

	if len(rep.Elements) > 0 {
		fmt.Fprintf(&b, "## Elements\n\n")
		fmt.Fprintf(&b, "| # | Tag | ID | Class |\n|---|---|---|---|\n")
		for _, el := range rep.Elements {
			fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", el.Index, el.Tag, el.ID, el.Class)
		}
		b.WriteString("\n")
	}

	if len(rep.Records) > 0 {
		fmt.Fprintf(&b, "## Animation records\n\n")
		for _, rec := range rep.Records {
			fmt.Fprintf(&b, "### Element %d, probe %s\n\n", rec.ElementIndex, rec.Probe)
			if rec.Note != "" {
				fmt.Fprintf(&b, "Degraded: `%s`\n\n", rec.Note)
			}
			for _, f := range rec.Frames {
				fmt.Fprintf(&b, "- frame %d (+%.1fs): [%s](%s)\n", f.Index, f.TimeOffsetS, f.Path, f.Path)
			}
			b.WriteString("\n")
		}
	}

	if len(rep.CSSRules) > 0 {
		fmt.Fprintf(&b, "## CSS animation rules\n\n")
		for _, r := range rep.CSSRules {
			fmt.Fprintf(&b, "- `%s` (%s)\n", r.Selector, r.Source)
		}
		b.WriteString("\n")
	}

	if len(rep.Bindings) > 0 {
		fmt.Fprintf(&b, "## Interaction bindings\n\n")
		fmt.Fprintf(&b, "| Tag | ID | Class | Event |\n|---|---|---|---|\n")
		for _, bind := range rep.Bindings {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", bind.Tag, bind.ID, bind.Class, bind.EventType)
		}
		b.WriteString("\n")
	}

	return b.String()
}

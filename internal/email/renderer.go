package email

import (
	"fmt"
	"html"
	"strings"

	"callscan/internal/models"
)

// Subject builds the notification subject line for one analysis.
func Subject(equity models.Equity, transcript models.Transcript) string {
	return fmt.Sprintf("%s %s FY%d transcript analysis",
		equity.TradingSymbol(), transcript.Quarter, transcript.Year)
}

// RenderAnalysis builds the HTML body for an analysis notification.
func RenderAnalysis(equity models.Equity, transcript models.Transcript, analysis models.TranscriptAnalysis) string {
	var b strings.Builder

	name := equity.Name
	if name == "" {
		name = equity.TradingSymbol()
	}

	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>%s (%s) %s FY%d</h2>",
		html.EscapeString(name), html.EscapeString(equity.TradingSymbol()),
		html.EscapeString(transcript.Quarter), transcript.Year)

	if transcript.SourceURL != nil && *transcript.SourceURL != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Source transcript</a></p>`, html.EscapeString(*transcript.SourceURL))
	}

	b.WriteString("<div>")
	b.WriteString(paragraphs(analysis.OutputText))
	b.WriteString("</div>")

	fmt.Fprintf(&b, `<p style="color:#888;font-size:12px">Model: %s · %d in / %d out tokens</p>`,
		html.EscapeString(analysis.ModelRef), analysis.TokensIn, analysis.TokensOut)
	b.WriteString("</body></html>")
	return b.String()
}

// RenderArticle builds the HTML body for a group research article.
func RenderArticle(group models.Group, run models.GroupResearchRun) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>%s research: %s FY%d</h2>",
		html.EscapeString(group.Name), html.EscapeString(run.Quarter), run.Year)
	b.WriteString("<div>")
	b.WriteString(paragraphs(run.OutputText))
	b.WriteString("</div>")
	fmt.Fprintf(&b, `<p style="color:#888;font-size:12px">Model: %s</p>`, html.EscapeString(run.ModelRef))
	b.WriteString("</body></html>")
	return b.String()
}

// paragraphs wraps double-newline separated text in <p> tags, escaping as it
// goes.
func paragraphs(text string) string {
	var b strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

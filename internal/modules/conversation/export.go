package conversation

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/prism-ai/prism/internal/models"
	"github.com/prism-ai/prism/internal/pkg/markdown"
)

// Export formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// ExportFile is a rendered conversation ready for download.
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Export renders the conversation as markdown or as a standalone HTML page.
func (s *Service) Export(ctx context.Context, id, format string) (ExportFile, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return ExportFile{}, err
	}
	md := renderMarkdown(conv)
	base := fileSlug(conv.Title)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatMarkdown, "md":
		return ExportFile{Name: base + ".md", ContentType: "text/markdown; charset=utf-8", Data: []byte(md)}, nil
	case FormatHTML:
		body, err := markdown.ToHTML(md)
		if err != nil {
			return ExportFile{}, fmt.Errorf("render html: %w", err)
		}
		page := fmt.Sprintf(htmlPage, html.EscapeString(conv.Title), body)
		return ExportFile{Name: base + ".html", ContentType: "text/html; charset=utf-8", Data: []byte(page)}, nil
	default:
		return ExportFile{}, fmt.Errorf("unsupported export format %q", format)
	}
}

const htmlPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>body{font-family:system-ui,sans-serif;max-width:48rem;margin:2rem auto;padding:0 1rem;line-height:1.6}pre{overflow-x:auto}</style>
</head>
<body>
%s</body>
</html>
`

func roleLabel(role string) string {
	if role == models.RoleUser {
		return "You"
	}
	return "Prism"
}

func renderMarkdown(c Conversation) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(c.Title)
	b.WriteString("\n")
	for _, m := range c.Messages {
		b.WriteString("\n## ")
		b.WriteString(roleLabel(m.Role))
		b.WriteString("\n\n")
		if m.File != nil {
			fmt.Fprintf(&b, "*Attachment: %s (%s)*\n\n", m.File.Name, m.File.Type)
		}
		if content := strings.TrimSpace(m.Content); content != "" {
			b.WriteString(content)
			b.WriteString("\n")
		}
		if len(m.Sources) > 0 {
			b.WriteString("\n**Sources**\n\n")
			for _, src := range m.Sources {
				title := src.Title
				if title == "" {
					title = src.URI
				}
				fmt.Fprintf(&b, "- [%s](%s)\n", title, src.URI)
			}
		}
	}
	return b.String()
}

func fileSlug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "conversation"
	}
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	return slug
}

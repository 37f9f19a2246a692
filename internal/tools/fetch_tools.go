package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/omnimind-ai/omnimind/internal/httpkit"
)

const (
	fetchMaxBytes    int64 = 2 * 1024 * 1024
	fetchMaxChars          = 8000
	fetchTimeout           = 30 * time.Second
)

// boilerplateElements are HTML elements whose text is excluded from
// extraction.
var boilerplateElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

// SetWebFetch adds the fetch_url tool. client may be nil to use a
// default HTTP client.
func (r *Registry) SetWebFetch(client *http.Client) {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(fetchTimeout))
	}
	r.Register(&Tool{
		Name: "fetch_url",
		Description: "Fetch a web page and return its readable text content. " +
			"Use when the user shares a link or asks about a specific page.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The http(s) URL to fetch",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters of text to return (default 8000)",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			rawURL, _ := args["url"].(string)
			if rawURL == "" {
				return "", fmt.Errorf("url is required")
			}
			maxChars := fetchMaxChars
			if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
				maxChars = int(mc)
			}
			return fetchReadable(ctx, client, rawURL, maxChars)
		},
	})
}

func fetchReadable(ctx context.Context, client *http.Client, rawURL string, maxChars int) (string, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch_url: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8,*/*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch_url: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("fetch_url: read body: %w", err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	var title, text string
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml") {
		title, text = extractReadable(string(body))
	} else {
		text = string(body)
	}

	if runes := []rune(text); len(runes) > maxChars {
		text = string(runes[:maxChars]) + "\n[truncated]"
	}

	if title != "" {
		return fmt.Sprintf("Title: %s\nStatus: %d\n\n%s", title, resp.StatusCode, text), nil
	}
	return fmt.Sprintf("Status: %d\n\n%s", resp.StatusCode, text), nil
}

// extractReadable parses HTML and returns the document title and its
// visible text with boilerplate stripped.
func extractReadable(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", raw
	}

	title := documentTitle(doc)
	var sb strings.Builder
	visibleText(doc, &sb)
	return title, collapseBlankLines(sb.String())
}

func documentTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		return strings.TrimSpace(sb.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := documentTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func visibleText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && boilerplateElements[n.DataAtom] {
		return
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visibleText(c, sb)
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.P, atom.Div, atom.Li, atom.Br, atom.Tr,
			atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			sb.WriteString("\n")
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	prevEmpty := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

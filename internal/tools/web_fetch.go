package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"google.golang.org/genai"
)

const (
	maxFetchSize    = 1024 * 1024
	maxFetchContent = 50000
)

var whitespaceRe = regexp.MustCompile(`\s+`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// WebFetchTool fetches a URL and converts HTML responses to markdown-like
// text the model can read.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetchTool creates a web_fetch tool.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: "Fetches content from a URL and returns it as markdown. Useful for reading documentation or articles.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"url": {
					Type:        genai.TypeString,
					Description: "The URL to fetch",
				},
			},
			Required: []string{"url"},
		},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	urlStr, ok := GetString(args, "url")
	if !ok || urlStr == "" {
		return Fail("url is required"), nil
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return Fail("invalid URL: %s", err), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Fail("only http and https URLs are supported"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return Fail("failed to create request: %s", err), nil
	}
	req.Header.Set("User-Agent", "loom/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("failed to fetch URL: %s", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fail("HTTP %d: %s", resp.StatusCode, resp.Status), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return Fail("failed to read response: %s", err), nil
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	var content string
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml") {
		content, err = htmlToMarkdown(string(body))
		if err != nil {
			return Fail("failed to parse HTML: %s", err), nil
		}
	} else {
		content = string(body)
	}

	if len(content) > maxFetchContent {
		content = content[:maxFetchContent] + "\n\n... (content truncated)"
	}
	return Ok(content), nil
}

// htmlToMarkdown extracts the readable text of an HTML document.
func htmlToMarkdown(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	skipTags := map[string]bool{
		"script": true, "style": true, "nav": true, "footer": true,
		"header": true, "aside": true, "noscript": true, "iframe": true,
	}
	blockTags := map[string]bool{
		"p": true, "div": true, "section": true, "article": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"li": true, "tr": true, "br": true, "hr": true,
		"blockquote": true, "pre": true, "table": true,
	}

	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			if skipTags[tag] {
				return
			}
			switch tag {
			case "h1":
				sb.WriteString("\n# ")
			case "h2":
				sb.WriteString("\n## ")
			case "h3":
				sb.WriteString("\n### ")
			case "h4", "h5", "h6":
				sb.WriteString("\n#### ")
			case "li":
				sb.WriteString("\n- ")
			case "br":
				sb.WriteString("\n")
			case "hr":
				sb.WriteString("\n---\n")
			case "code":
				sb.WriteString("`")
			case "pre":
				sb.WriteString("\n```\n")
			case "strong", "b":
				sb.WriteString("**")
			case "em", "i":
				sb.WriteString("*")
			case "p", "div", "section", "article", "blockquote":
				sb.WriteString("\n")
			}
		}

		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(whitespaceRe.ReplaceAllString(text, " "))
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}

		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			switch tag {
			case "code":
				sb.WriteString("`")
			case "pre":
				sb.WriteString("\n```\n")
			case "strong", "b":
				sb.WriteString("**")
			case "em", "i":
				sb.WriteString("*")
			case "a":
				for _, attr := range n.Attr {
					if attr.Key == "href" && attr.Val != "" &&
						!strings.HasPrefix(attr.Val, "#") && !strings.HasPrefix(attr.Val, "javascript:") {
						fmt.Fprintf(&sb, " (%s)", attr.Val)
						break
					}
				}
			}
			if blockTags[tag] {
				sb.WriteString("\n")
			}
		}
	}

	// Prefer the body element when present.
	var findBody func(*html.Node) *html.Node
	findBody = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "body") {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := findBody(c); found != nil {
				return found
			}
		}
		return nil
	}
	start := findBody(doc)
	if start == nil {
		start = doc
	}
	extract(start)

	result := blankLinesRe.ReplaceAllString(sb.String(), "\n\n")
	return strings.TrimSpace(result), nil
}

// Package parser extracts articles and their comments from World Anvil pages.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/skairunner/commentater/internal/commentater"
)

// DateLayout is the format World Anvil uses for comment timestamps.
const DateLayout = "Jan 2, 2006 15:04"

const (
	selVisualContainer = "#visual-container"
	selHeader          = "#content .article-title h1"
	selArticleMain     = ".page-article-main"
	selComment         = ".comment-box"
	selReply           = ".comment-box-reply"
	selAuthorName      = "span.uss-css-user-username"
	selAvatar          = "div.comment-box-avatar .img-avatar"
	selDate            = ".comment-box-date"
	selContent         = ".comment-box-content"

	prefixWorld   = "world"
	prefixArticle = "article"
	prefixAuthor  = "comment-author"
)

var classToken = regexp.MustCompile(`^([\w-]+)-(\w{8}-\w{4}-\w{4}-\w{4}-\w{12})$`)

// Parse turns an article page into a ParsedArticle. Any structural problem,
// including a single malformed comment, fails the whole page with *Error.
func Parse(page []byte) (*commentater.ParsedArticle, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	visual := doc.Find(selVisualContainer).First()
	if visual.Length() == 0 {
		return nil, structural(ErrNoVisualContainer)
	}
	worldID, ok := identifier(visual, prefixWorld)
	if !ok {
		return nil, missingIdentifier(selVisualContainer)
	}

	header := doc.Find(selHeader).First()
	if header.Length() == 0 {
		return nil, structural(ErrNoHeader)
	}

	main := doc.Find(selArticleMain).First()
	if main.Length() == 0 {
		return nil, structural(ErrNoPageArticleMain)
	}
	articleID, ok := identifier(main, prefixArticle)
	if !ok {
		return nil, missingIdentifier(selArticleMain)
	}

	comments, err := parseComments(doc)
	if err != nil {
		return nil, err
	}

	return &commentater.ParsedArticle{
		WorldID:   worldID,
		ArticleID: articleID,
		Title:     strings.TrimSpace(header.Text()),
		Comments:  comments,
	}, nil
}

func parseComments(doc *goquery.Document) ([]commentater.RootComment, error) {
	blocks := doc.Find(selComment).Not(selReply).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered(selComment).Length() == 0
	})

	out := make([]commentater.RootComment, 0, blocks.Length())
	var parseErr error
	blocks.EachWithBreak(func(i int, block *goquery.Selection) bool {
		root, err := parseRoot(i, block)
		if err != nil {
			parseErr = err
			return false
		}
		out = append(out, root)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func parseRoot(index int, block *goquery.Selection) (commentater.RootComment, error) {
	comment, err := parseComment(index, block)
	if err != nil {
		return commentater.RootComment{}, err
	}
	authorID, ok := identifier(block, prefixAuthor)
	if !ok {
		return commentater.RootComment{}, malformedComment(index, "author identifier")
	}

	replies := []commentater.Comment{}
	var replyErr error
	block.Find(selReply).EachWithBreak(func(_ int, reply *goquery.Selection) bool {
		parsed, err := parseComment(index, reply)
		if err != nil {
			replyErr = err
			return false
		}
		replies = append(replies, parsed)
		return true
	})
	if replyErr != nil {
		return commentater.RootComment{}, replyErr
	}

	return commentater.RootComment{
		Comment:            comment,
		AuthorWorldAnvilID: authorID,
		Replies:            replies,
	}, nil
}

func parseComment(index int, block *goquery.Selection) (commentater.Comment, error) {
	name := own(block, selAuthorName)
	if name.Length() == 0 {
		return commentater.Comment{}, malformedComment(index, "author name")
	}

	avatar, ok := own(block, selAvatar).Attr("src")
	if !ok {
		return commentater.Comment{}, malformedComment(index, "avatar")
	}

	dateSel := own(block, selDate)
	if dateSel.Length() == 0 {
		return commentater.Comment{}, malformedComment(index, "date")
	}
	date, err := time.ParseInLocation(DateLayout, firstText(dateSel.Get(0)), time.UTC)
	if err != nil {
		return commentater.Comment{}, malformedComment(index, "date")
	}

	content := own(block, selContent)
	if content.Length() == 0 {
		return commentater.Comment{}, malformedComment(index, "content")
	}

	return commentater.Comment{
		AuthorName: strings.TrimSpace(name.Text()),
		AvatarURL:  avatar,
		Date:       date,
		Content:    body(content),
	}, nil
}

// own finds the first match of sel that belongs to block itself and not to
// a reply nested inside it.
func own(block *goquery.Selection, sel string) *goquery.Selection {
	return block.Find(sel).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest(selComment + ", " + selReply).IsSelection(block)
	}).First()
}

// identifier scans the class tokens of sel for "<prefix>-<uuid>".
func identifier(sel *goquery.Selection, prefix string) (string, bool) {
	class, _ := sel.Attr("class")
	for _, token := range strings.Fields(class) {
		m := classToken.FindStringSubmatch(token)
		if m != nil && m[1] == prefix {
			return m[2], true
		}
	}
	return "", false
}

func firstText(n *html.Node) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode {
			continue
		}
		if t := strings.TrimSpace(c.Data); t != "" {
			return t
		}
	}
	return ""
}

// body collapses whitespace per line and joins lines with newlines. A line
// ends at a paragraph boundary or a <br>; inline markup stays on its line.
// Content without paragraphs is treated as a single paragraph.
func body(content *goquery.Selection) string {
	paragraphs := content.Find("p")
	if paragraphs.Length() == 0 {
		return strings.Join(textLines(content.Get(0)), "\n")
	}
	var lines []string
	paragraphs.Each(func(_ int, p *goquery.Selection) {
		lines = append(lines, textLines(p.Get(0))...)
	})
	return strings.Join(lines, "\n")
}

// textLines returns the non-blank, whitespace-collapsed lines under n.
func textLines(n *html.Node) []string {
	var (
		lines []string
		buf   strings.Builder
	)
	flush := func() {
		if line := collapse(buf.String()); line != "" {
			lines = append(lines, line)
		}
		buf.Reset()
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				buf.WriteString(c.Data)
			case c.Type == html.ElementNode && c.Data == "br":
				flush()
			default:
				walk(c)
			}
		}
	}
	walk(n)
	flush()
	return lines
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package parser

import (
	"errors"
	"fmt"

	"github.com/skairunner/commentater/internal/commentater"
)

// Kinds of structural failure. Every *Error matches exactly one of these
// with errors.Is, and also matches commentater.ErrUnparseable.
var (
	ErrNoVisualContainer = errors.New("page has no #visual-container")
	ErrNoHeader          = errors.New("page has no article title heading")
	ErrNoPageArticleMain = errors.New("page has no .page-article-main")
	ErrMissingIdentifier = errors.New("element has no identifier class")
	ErrMalformedComment  = errors.New("malformed comment")
)

// Error describes why a page could not be parsed.
type Error struct {
	Kind error
	// Element names the selector or field that was missing.
	Element string
	// Comment is the zero-based index of the offending top-level comment, or -1.
	Comment int
}

func (e *Error) Error() string {
	switch {
	case e.Comment >= 0 && e.Element != "":
		return fmt.Sprintf("%s %d: missing %s", e.Kind, e.Comment, e.Element)
	case e.Element != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Element)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes the kind and the shared unparseable marker.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, commentater.ErrUnparseable}
}

func structural(kind error) *Error {
	return &Error{Kind: kind, Comment: -1}
}

func missingIdentifier(element string) *Error {
	return &Error{Kind: ErrMissingIdentifier, Element: element, Comment: -1}
}

func malformedComment(index int, element string) *Error {
	return &Error{Kind: ErrMalformedComment, Element: element, Comment: index}
}

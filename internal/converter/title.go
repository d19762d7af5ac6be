package converter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"dw2rc/internal/domain"
)

// EnglishOBSTitle is the title every untranslated OBS front matter carries
const EnglishOBSTitle = "Open Bible Stories"

// TitlePath is where the OBS converter writes the book title
func TitlePath(dest string) string {
	return filepath.Join(dest, "content", "front", "title.md")
}

// CheckOBSTitle returns ErrTitleNotTranslated when a non-English OBS
// conversion still carries the English book title.
func CheckOBSTitle(dest string, repo domain.LanguageRepo) error {
	if repo.LanguageCode == "en" {
		return nil
	}

	src, err := os.ReadFile(TitlePath(dest))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read title: %w", err)
	}

	title := PlainText(src)
	if strings.EqualFold(title, EnglishOBSTitle) {
		return fmt.Errorf("%w: %q in %s", ErrTitleNotTranslated, title, repo.Name)
	}
	return nil
}

// PlainText renders markdown to its text content, dropping emphasis and
// heading markers.
func PlainText(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(b.String()), " ")
}

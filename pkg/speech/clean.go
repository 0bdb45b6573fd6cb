package speech

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const DefaultTerminator = "。"

var symbolRuns = regexp.MustCompile(`[\p{Cs}\p{So}\p{Sk}\p{Sm}]+`)

// emphasis marks read as odd pauses or get spelled out by the voice.
var emphasisMarks = []string{"♪", "♡", "💖", "!", "！", "?", "？", "…", ":", ";"}

// Cleaner prepares reply text for the voice.
type Cleaner struct {
	Terminator string
}

// Clean runs the default cleaner.
func Clean(input string) string {
	return Cleaner{}.Clean(input)
}

// Clean flattens markdown, drops symbols, turns emphasis marks and laughter
// runs into sentence breaks and guarantees a trailing terminator. Blank input
// stays blank.
func (c Cleaner) Clean(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	term := c.Terminator
	if term == "" {
		term = DefaultTerminator
	}

	cleaned := flattenMarkdown(input)
	cleaned = symbolRuns.ReplaceAllString(cleaned, "")
	for _, m := range emphasisMarks {
		cleaned = strings.ReplaceAll(cleaned, m, term)
	}
	cleaned = strings.ReplaceAll(cleaned, "*", "")
	cleaned = replaceLaughter(cleaned, term)
	cleaned = collapseRepeats(cleaned, term)

	cleaned = strings.TrimSpace(cleaned)
	if !strings.HasSuffix(cleaned, term) {
		cleaned += term
	}
	return cleaned
}

// replaceLaughter turns runs of w/ｗ into a terminator. An ASCII w that
// touches another Latin letter is part of a word and is kept.
func replaceLaughter(s string, term string) string {
	runes := []rune(s)
	var b strings.Builder
	for i := 0; i < len(runes); {
		r := runes[i]
		if r != 'w' && r != 'ｗ' {
			b.WriteRune(r)
			i++
			continue
		}
		j := i
		for j < len(runes) && (runes[j] == 'w' || runes[j] == 'ｗ') {
			j++
		}
		inWord := (i > 0 && isLatinLetter(runes[i-1])) || (j < len(runes) && isLatinLetter(runes[j]))
		if inWord && !containsFullWidth(runes[i:j]) {
			b.WriteString(string(runes[i:j]))
		} else {
			b.WriteString(term)
		}
		i = j
	}
	return b.String()
}

func isLatinLetter(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsLetter(r)
}

func containsFullWidth(rs []rune) bool {
	for _, r := range rs {
		if r == 'ｗ' {
			return true
		}
	}
	return false
}

func collapseRepeats(s string, term string) string {
	double := term + term
	for strings.Contains(s, double) {
		s = strings.ReplaceAll(s, double, term)
	}
	return s
}

// flattenMarkdown keeps the readable text of a markdown document.
func flattenMarkdown(markdownText string) string {
	source := []byte(markdownText)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
				b.WriteByte('\n')
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML, *ast.AutoLink:
			return ast.WalkSkipChildren, nil
		default:
			if !entering && n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

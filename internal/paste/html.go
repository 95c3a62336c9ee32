package paste

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockElements end a line of extracted text.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Blockquote: true,
}

// HTMLText reduces an HTML clipboard flavor to plain text. Script and
// style contents are dropped, runs of whitespace collapse to one space
// and block elements end a line.
func HTMLText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}

	var lines []string
	var cur strings.Builder
	endLine := func() {
		line := strings.TrimSpace(cur.String())
		if line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	space := func() {
		if cur.Len() > 0 && !strings.HasSuffix(cur.String(), " ") {
			cur.WriteByte(' ')
		}
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			words := strings.Fields(n.Data)
			if len(words) == 0 {
				space()
				return
			}
			if startsWithSpace(n.Data) {
				space()
			}
			cur.WriteString(strings.Join(words, " "))
			if endsWithSpace(n.Data) {
				space()
			}
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Head {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			endLine()
		}
	}
	walk(doc)
	endLine()
	return strings.Join(lines, "\n")
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\r\n") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n") != s
}

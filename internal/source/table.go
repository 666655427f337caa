package source

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"outagebot/internal/outage"
)

var ErrNoTable = errors.New("no schedule table on page")

// ParseTable reads the first <table> of the page and returns, per date row,
// the text of the given column. Rows whose first cell is not a DD.MM.YYYY
// date or that are too short are ignored.
func ParseTable(r io.Reader, column int) (map[outage.Date]string, error) {
	if column < 1 {
		return nil, fmt.Errorf("invalid queue column %d", column)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, ErrNoTable
	}

	out := map[outage.Date]string{}
	for _, tr := range rows(table) {
		cells := cellTexts(tr)
		if len(cells) <= column {
			continue
		}
		d, err := outage.ParseDate(cells[0])
		if err != nil {
			continue
		}
		out[d] = cells[column]
	}
	return out, nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, a); f != nil {
			return f
		}
	}
	return nil
}

// rows returns the <tr> elements of table, not descending into nested tables.
func rows(table *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Tr:
				out = append(out, c)
			case atom.Table:
			default:
				walk(c)
			}
		}
	}
	walk(table)
	return out
}

// cellTexts returns the text of each <td> of tr. Text nodes inside a cell
// are trimmed and joined with two spaces, so windows split by <br> or inline
// tags keep the separator the interval parser expects.
func cellTexts(tr *html.Node) []string {
	var out []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Td {
			out = append(out, nodeText(c))
		}
	}
	return out
}

func nodeText(n *html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(strings.ReplaceAll(n.Data, "\u00a0", " ")); s != "" {
				parts = append(parts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, "  ")
}

package extract

import (
	"strings"

	"golang.org/x/net/html"
)

var skippedElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
}

func htmlToText(raw interface{}) (interface{}, error) {
	doc, err := html.Parse(strings.NewReader(textOf(raw)))
	if err != nil {
		return nil, err
	}
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := skippedElements[strings.ToLower(n.Data)]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " "), nil
}

func extractLinks(raw interface{}) (interface{}, error) {
	doc, err := html.Parse(strings.NewReader(textOf(raw)))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	links := []interface{}{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if !isAbsoluteHTTP(href) {
					continue
				}
				if _, dup := seen[href]; !dup {
					seen[href] = struct{}{}
					links = append(links, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// 不可见或导航性质的子树
const strippedSelector = "script, style, noscript, template, nav, header, footer, svg, iframe"

// htmlText 去掉脚本与导航后，按行拼接可见文本并去掉空行
func htmlText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", ErrExtractFailed, err)
	}

	doc.Find(strippedSelector).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var lines []string
	for _, n := range root.Nodes {
		collectText(n, &lines)
	}
	return strings.Join(lines, "\n"), nil
}

func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		for _, line := range strings.Split(n.Data, "\n") {
			if line = strings.Join(strings.Fields(line), " "); line != "" {
				*lines = append(*lines, line)
			}
		}
		return
	}
	if n.Type == html.CommentNode {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}

package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ContainerID is the id of the element lecture markup is injected into
const ContainerID = "lecture-content"

// BlockStateAttr records what happened to a code block
const BlockStateAttr = "data-block-state"

// ErrDetached is returned when a node is no longer part of the container
var ErrDetached = errors.New("node is not attached to the container")

// ScriptNode is a snapshot of one <script> element in document order
type ScriptNode struct {
	Node  *html.Node
	Src   string
	Type  string
	Text  string
	Attrs []html.Attribute
}

// IsJavaScript reports whether the node's type attribute names executable
// JavaScript. Data blocks such as application/json are not executed.
func (s ScriptNode) IsJavaScript() bool {
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "", "text/javascript", "application/javascript", "module",
		"text/ecmascript", "application/ecmascript":
		return true
	}
	return false
}

// Container is the document fragment lecture markup lives in. It is safe for
// concurrent use.
type Container struct {
	mu   sync.RWMutex
	doc  *goquery.Document
	root *goquery.Selection
}

// NewContainer creates an empty container
func NewContainer() *Container {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(
		fmt.Sprintf(`<html><head></head><body><div id=%q></div></body></html>`, ContainerID)))
	return &Container{doc: doc, root: doc.Find("#" + ContainerID)}
}

// Inject replaces the container's children with markup
func (c *Container) Inject(markup string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root.SetHtml(markup)
}

// Populated reports whether the container has any child node. Text and
// comment nodes count, so plain-text lectures are ready too.
func (c *Container) Populated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root.Get(0).FirstChild != nil
}

// HTML returns the current inner markup
func (c *Container) HTML() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, _ := c.root.Html()
	return out
}

// Scripts snapshots every <script> descendant in document order. Later
// mutations do not affect the snapshot.
func (c *Container) Scripts() []ScriptNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var nodes []ScriptNode
	c.root.Find("script").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		typ, _ := s.Attr("type")
		n := s.Get(0)
		nodes = append(nodes, ScriptNode{
			Node:  n,
			Src:   strings.TrimSpace(src),
			Type:  typ,
			Text:  s.Text(),
			Attrs: append([]html.Attribute(nil), n.Attr...),
		})
	})
	return nodes
}

// ReplaceScript swaps the placeholder for a fresh <script> element carrying
// the placeholder's attributes plus attrs, with text as its body. It returns
// the new node.
func (c *Container) ReplaceScript(old ScriptNode, text string, attrs map[string]string) (*html.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	placeholder := c.root.FindNodes(old.Node)
	if placeholder.Length() == 0 {
		return nil, ErrDetached
	}

	fresh := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr:     append([]html.Attribute(nil), old.Attrs...),
	}
	for k, v := range attrs {
		setAttr(fresh, k, v)
	}
	if text != "" {
		fresh.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}

	placeholder.ReplaceWithNodes(fresh)
	return fresh, nil
}

// Query returns the elements matching a CSS selector in document order
func (c *Container) Query(selector string) ([]*html.Node, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return c.root.FindMatcher(sel).Nodes, nil
}

// Attr returns an attribute of n
func (c *Container) Attr(n *html.Node, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return selectionOf(n).Attr(key)
}

// SetAttr sets an attribute of n
func (c *Container) SetAttr(n *html.Node, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setAttr(n, key, value)
}

// Text returns the text content of n
func (c *Container) Text(n *html.Node) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return selectionOf(n).Text()
}

// SetText replaces the children of n with a text node
func (c *Container) SetText(n *html.Node, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	selectionOf(n).SetText(text)
}

// InnerHTML returns the markup inside n
func (c *Container) InnerHTML(n *html.Node) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, _ := selectionOf(n).Html()
	return out
}

// SetInnerHTML replaces the children of n with parsed markup
func (c *Container) SetInnerHTML(n *html.Node, markup string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	selectionOf(n).SetHtml(markup)
}

func selectionOf(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

func setAttr(n *html.Node, key, value string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

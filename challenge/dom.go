package challenge

import (
	"bytes"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const skeleton = "<!DOCTYPE html><html><head></head><body></body></html>"

// dom exposes an x/net/html node tree to a runtime. Each node is wrapped at
// most once so identity comparisons in script hold.
type dom struct {
	vm    *goja.Runtime
	root  *html.Node
	objs  map[*html.Node]*goja.Object
	nodes map[*goja.Object]*html.Node
}

func newDOM(vm *goja.Runtime) *dom {
	root, err := html.Parse(strings.NewReader(skeleton))
	if err != nil {
		// The skeleton is constant; parsing cannot fail.
		panic(err)
	}
	return &dom{
		vm:    vm,
		root:  root,
		objs:  map[*html.Node]*goja.Object{},
		nodes: map[*goja.Object]*html.Node{},
	}
}

func (d *dom) document(window, location *goja.Object) *goja.Object {
	doc := d.vm.NewObject()
	htmlEl := findFirst(d.root, "html")
	head := findFirst(d.root, "head")
	body := findFirst(d.root, "body")

	_ = doc.Set("nodeType", 9)
	_ = doc.Set("nodeName", "#document")
	_ = doc.Set("readyState", "complete")
	_ = doc.Set("visibilityState", "visible")
	_ = doc.Set("hidden", false)
	_ = doc.Set("characterSet", "UTF-8")
	_ = doc.Set("compatMode", "CSS1Compat")
	_ = doc.Set("contentType", "text/html")
	_ = doc.Set("referrer", "")
	_ = doc.Set("cookie", "")
	_ = doc.Set("title", "DuckDuckGo AI Chat")
	_ = doc.Set("location", location)
	_ = doc.Set("URL", location.Get("href"))
	_ = doc.Set("defaultView", window)
	_ = doc.Set("documentElement", d.wrap(htmlEl))
	_ = doc.Set("head", d.wrap(head))
	_ = doc.Set("body", d.wrap(body))

	_ = doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return d.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
	})
	_ = doc.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return d.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})
	_ = doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return d.first(d.root, "#"+call.Argument(0).String())
	})
	_ = doc.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return d.all(d.root, strings.ToLower(call.Argument(0).String()))
	})
	_ = doc.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return d.first(d.root, call.Argument(0).String())
	})
	_ = doc.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return d.all(d.root, call.Argument(0).String())
	})
	return doc
}

// wrap returns the script object for n, creating it on first use.
func (d *dom) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := d.objs[n]; ok {
		return obj
	}

	obj := d.vm.NewObject()
	d.objs[n] = obj
	d.nodes[obj] = n

	if n.Type == html.TextNode {
		_ = obj.Set("nodeType", 3)
		_ = obj.Set("nodeName", "#text")
		d.accessor(obj, "textContent", func() goja.Value { return d.vm.ToValue(n.Data) }, func(v goja.Value) { n.Data = v.String() })
		d.accessor(obj, "data", func() goja.Value { return d.vm.ToValue(n.Data) }, func(v goja.Value) { n.Data = v.String() })
		d.accessor(obj, "nodeValue", func() goja.Value { return d.vm.ToValue(n.Data) }, nil)
		d.accessor(obj, "parentNode", func() goja.Value { return d.wrap(n.Parent) }, nil)
		return obj
	}

	name := strings.ToUpper(n.Data)
	_ = obj.Set("nodeType", 1)
	_ = obj.Set("tagName", name)
	_ = obj.Set("nodeName", name)
	_ = obj.Set("localName", n.Data)
	_ = obj.Set("style", d.vm.NewObject())

	d.accessor(obj, "innerHTML", func() goja.Value {
		return d.vm.ToValue(renderChildren(n))
	}, func(v goja.Value) {
		d.setInnerHTML(n, v.String())
	})
	d.accessor(obj, "outerHTML", func() goja.Value {
		var buf bytes.Buffer
		_ = html.Render(&buf, n)
		return d.vm.ToValue(buf.String())
	}, nil)
	textContent := func() goja.Value { return d.vm.ToValue(textOf(n)) }
	setText := func(v goja.Value) {
		removeChildren(n)
		n.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
	}
	d.accessor(obj, "textContent", textContent, setText)
	d.accessor(obj, "innerText", textContent, setText)
	d.accessor(obj, "id", func() goja.Value { return d.vm.ToValue(attr(n, "id")) }, func(v goja.Value) { setAttr(n, "id", v.String()) })
	d.accessor(obj, "className", func() goja.Value { return d.vm.ToValue(attr(n, "class")) }, func(v goja.Value) { setAttr(n, "class", v.String()) })
	d.accessor(obj, "children", func() goja.Value { return d.list(elementChildren(n)) }, nil)
	d.accessor(obj, "childNodes", func() goja.Value { return d.list(childNodes(n)) }, nil)
	d.accessor(obj, "childElementCount", func() goja.Value { return d.vm.ToValue(len(elementChildren(n))) }, nil)
	d.accessor(obj, "firstChild", func() goja.Value { return d.wrap(n.FirstChild) }, nil)
	d.accessor(obj, "lastChild", func() goja.Value { return d.wrap(n.LastChild) }, nil)
	d.accessor(obj, "parentNode", func() goja.Value { return d.wrap(n.Parent) }, nil)
	d.accessor(obj, "parentElement", func() goja.Value {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return d.wrap(n.Parent)
	}, nil)

	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		key := strings.ToLower(call.Argument(0).String())
		for _, a := range n.Attr {
			if a.Key == key {
				return d.vm.ToValue(a.Val)
			}
		}
		return goja.Null()
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		setAttr(n, strings.ToLower(call.Argument(0).String()), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		key := strings.ToLower(call.Argument(0).String())
		for _, a := range n.Attr {
			if a.Key == key {
				return d.vm.ToValue(true)
			}
		}
		return d.vm.ToValue(false)
	})
	_ = obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		key := strings.ToLower(call.Argument(0).String())
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if a.Key != key {
				kept = append(kept, a)
			}
		}
		n.Attr = kept
		return goja.Undefined()
	})
	_ = obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := d.node(call.Argument(0))
		for p := n; p != nil; p = p.Parent {
			if p == child {
				panic(d.vm.NewTypeError("appendChild: the new child is an ancestor of the parent"))
			}
		}
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		n.AppendChild(child)
		return call.Argument(0)
	})
	_ = obj.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := d.node(call.Argument(0))
		if child.Parent != n {
			panic(d.vm.NewTypeError("removeChild: the node is not a child of this node"))
		}
		n.RemoveChild(child)
		return call.Argument(0)
	})
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return d.first(n, call.Argument(0).String())
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return d.all(n, call.Argument(0).String())
	})
	_ = obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return d.all(n, strings.ToLower(call.Argument(0).String()))
	})
	return obj
}

func (d *dom) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := d.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (d *dom) node(v goja.Value) *html.Node {
	obj, ok := v.(*goja.Object)
	if ok {
		if n, ok := d.nodes[obj]; ok {
			return n
		}
	}
	panic(d.vm.NewTypeError("parameter is not of type 'Node'"))
}

func (d *dom) list(nodes []*html.Node) goja.Value {
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = d.wrap(n)
	}
	return d.vm.NewArray(items...)
}

func (d *dom) first(scope *html.Node, selector string) goja.Value {
	matches := query(scope, selector, true)
	if len(matches) == 0 {
		return goja.Null()
	}
	return d.wrap(matches[0])
}

func (d *dom) all(scope *html.Node, selector string) goja.Value {
	return d.list(query(scope, selector, false))
}

func (d *dom) setInnerHTML(n *html.Node, markup string) {
	removeChildren(n)
	parsed, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     n.Data,
		DataAtom: atom.Lookup([]byte(n.Data)),
	})
	if err != nil {
		panic(d.vm.NewTypeError("innerHTML: " + err.Error()))
	}
	for _, c := range parsed {
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		n.AppendChild(c)
	}
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textOf(c))
	}
	return sb.String()
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
}

func childNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode || c.Type == html.TextNode {
			out = append(out, c)
		}
	}
	return out
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func findFirst(root *html.Node, tag string) *html.Node {
	if m := query(root, tag, true); len(m) > 0 {
		return m[0]
	}
	return nil
}

// query returns the descendants of scope matching a selector list made of
// "*", "tag", "#id", ".class" or "tag.class" parts, in document order.
func query(scope *html.Node, selector string, firstOnly bool) []*html.Node {
	var parts []string
	for _, p := range strings.Split(selector, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	var out []*html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				for _, p := range parts {
					if matches(c, p) {
						out = append(out, c)
						if firstOnly {
							return true
						}
						break
					}
				}
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(scope)
	return out
}

func matches(n *html.Node, selector string) bool {
	if selector == "*" {
		return true
	}
	if strings.HasPrefix(selector, "#") {
		return attr(n, "id") == selector[1:]
	}

	tag, class, hasClass := strings.Cut(selector, ".")
	if tag != "" && !strings.EqualFold(tag, n.Data) {
		return false
	}
	if hasClass {
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
	return true
}

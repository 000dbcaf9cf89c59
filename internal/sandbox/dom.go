package sandbox

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// dom exposes a goquery document to scripts as a small subset of the DOM:
// element lookup, text and markup access, attributes, classes and
// appendChild. Wrappers are cached per node so identity comparisons hold.
type dom struct {
	vm       *goja.Runtime
	doc      *goquery.Document
	wrappers map[*html.Node]*goja.Object
	nodes    map[*goja.Object]*html.Node
	events   *eventTarget
}

func newDOM(vm *goja.Runtime, doc *goquery.Document) *dom {
	return &dom{
		vm:       vm,
		doc:      doc,
		wrappers: make(map[*html.Node]*goja.Object),
		nodes:    make(map[*goja.Object]*html.Node),
		events:   newEventTarget(vm),
	}
}

func (d *dom) selection(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

// document builds the global document object.
func (d *dom) document() *goja.Object {
	obj := d.vm.NewObject()
	root := d.doc.Selection

	_ = obj.Set("nodeType", 9)
	_ = obj.Set("nodeName", "#document")
	d.queryMethods(obj, root)
	_ = obj.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return d.first(root.Find(`[id="` + cssString(call.Argument(0).String()) + `"]`))
	})
	_ = obj.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return d.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
	})
	d.events.install(obj)

	d.getter(obj, "body", func() goja.Value { return d.first(root.Find("body")) })
	d.getter(obj, "head", func() goja.Value { return d.first(root.Find("head")) })
	d.getter(obj, "documentElement", func() goja.Value { return d.first(root.Find("html")) })
	d.accessor(obj, "title",
		func() goja.Value { return d.vm.ToValue(strings.TrimSpace(root.Find("head title").First().Text())) },
		func(v goja.Value) {
			title := root.Find("head title")
			if title.Length() == 0 {
				root.Find("head").AppendHtml("<title></title>")
				title = root.Find("head title")
			}
			title.First().SetText(v.String())
		})
	return obj
}

func (d *dom) queryMethods(obj *goja.Object, sel *goquery.Selection) {
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return d.first(sel.Find(call.Argument(0).String()))
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return d.all(sel.Find(call.Argument(0).String()))
	})
	_ = obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return d.all(sel.Find(call.Argument(0).String()))
	})
	_ = obj.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		var b strings.Builder
		for _, class := range strings.Fields(call.Argument(0).String()) {
			b.WriteString(`[class~="` + cssString(class) + `"]`)
		}
		if b.Len() == 0 {
			return d.vm.NewArray()
		}
		return d.all(sel.Find(b.String()))
	})
}

func (d *dom) first(sel *goquery.Selection) goja.Value {
	if sel.Length() == 0 {
		return goja.Null()
	}
	return d.wrap(sel.Get(0))
}

func (d *dom) all(sel *goquery.Selection) goja.Value {
	items := make([]interface{}, 0, sel.Length())
	for _, n := range sel.Nodes {
		items = append(items, d.wrap(n))
	}
	return d.vm.NewArray(items...)
}

// wrap returns the script object for n, creating it on first use.
func (d *dom) wrap(n *html.Node) *goja.Object {
	if obj, ok := d.wrappers[n]; ok {
		return obj
	}

	obj := d.vm.NewObject()
	d.wrappers[n] = obj
	d.nodes[obj] = n
	sel := d.selection(n)

	_ = obj.Set("nodeType", 1)
	_ = obj.Set("tagName", strings.ToUpper(n.Data))
	_ = obj.Set("nodeName", strings.ToUpper(n.Data))
	_ = obj.Set("style", d.vm.NewObject())
	d.queryMethods(obj, sel)
	newEventTarget(d.vm).install(obj)

	d.accessor(obj, "textContent",
		func() goja.Value { return d.vm.ToValue(sel.Text()) },
		func(v goja.Value) { sel.SetText(v.String()) })
	d.accessor(obj, "innerText",
		func() goja.Value { return d.vm.ToValue(sel.Text()) },
		func(v goja.Value) { sel.SetText(v.String()) })
	d.accessor(obj, "innerHTML",
		func() goja.Value {
			markup, err := sel.Html()
			if err != nil {
				panic(d.vm.NewGoError(err))
			}
			return d.vm.ToValue(markup)
		},
		func(v goja.Value) { sel.SetHtml(v.String()) })
	d.getter(obj, "outerHTML", func() goja.Value {
		markup, err := goquery.OuterHtml(sel)
		if err != nil {
			panic(d.vm.NewGoError(err))
		}
		return d.vm.ToValue(markup)
	})
	d.attrAccessor(obj, sel, "id", "id")
	d.attrAccessor(obj, sel, "className", "class")
	d.attrAccessor(obj, sel, "value", "value")
	d.getter(obj, "parentElement", func() goja.Value {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return d.wrap(n.Parent)
	})
	d.getter(obj, "children", func() goja.Value { return d.all(sel.Children()) })

	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := sel.Attr(call.Argument(0).String()); ok {
			return d.vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		sel.SetAttr(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		sel.RemoveAttr(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := sel.Attr(call.Argument(0).String())
		return d.vm.ToValue(ok)
	})
	_ = obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child, ok := call.Argument(0).(*goja.Object)
		if !ok {
			panic(d.vm.NewTypeError("appendChild: argument is not an element"))
		}
		node, ok := d.nodes[child]
		if !ok {
			panic(d.vm.NewTypeError("appendChild: argument is not an element"))
		}
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
		n.AppendChild(node)
		return child
	})
	_ = obj.Set("remove", func(goja.FunctionCall) goja.Value {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return goja.Undefined()
	})
	_ = obj.Set("classList", d.classList(sel))

	return obj
}

func (d *dom) classList(sel *goquery.Selection) *goja.Object {
	list := d.vm.NewObject()
	classes := func(call goja.FunctionCall) []string {
		out := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			out = append(out, arg.String())
		}
		return out
	}
	_ = list.Set("add", func(call goja.FunctionCall) goja.Value {
		sel.AddClass(classes(call)...)
		normalizeClass(sel)
		return goja.Undefined()
	})
	_ = list.Set("remove", func(call goja.FunctionCall) goja.Value {
		sel.RemoveClass(classes(call)...)
		normalizeClass(sel)
		return goja.Undefined()
	})
	_ = list.Set("contains", func(call goja.FunctionCall) goja.Value {
		return d.vm.ToValue(sel.HasClass(call.Argument(0).String()))
	})
	_ = list.Set("toggle", func(call goja.FunctionCall) goja.Value {
		class := call.Argument(0).String()
		sel.ToggleClass(class)
		normalizeClass(sel)
		return d.vm.ToValue(sel.HasClass(class))
	})
	return list
}

// normalizeClass collapses the whitespace goquery leaves in the class
// attribute, so className reads "a b" rather than "a  b".
func normalizeClass(sel *goquery.Selection) {
	sel.Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("class"); ok {
			s.SetAttr("class", strings.Join(strings.Fields(v), " "))
		}
	})
}

func (d *dom) getter(obj *goja.Object, name string, get func() goja.Value) {
	_ = obj.DefineAccessorProperty(name,
		d.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() }),
		nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (d *dom) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	_ = obj.DefineAccessorProperty(name,
		d.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() }),
		d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		}),
		goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (d *dom) attrAccessor(obj *goja.Object, sel *goquery.Selection, name, attr string) {
	d.accessor(obj, name,
		func() goja.Value { return d.vm.ToValue(sel.AttrOr(attr, "")) },
		func(v goja.Value) { sel.SetAttr(attr, v.String()) })
}

// html renders the current document.
func (d *dom) html() string {
	markup, err := goquery.OuterHtml(d.doc.Selection.Find("html"))
	if err != nil {
		return ""
	}
	return markup
}

// cssString escapes s for use inside a double-quoted CSS string.
func cssString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `).Replace(s)
}

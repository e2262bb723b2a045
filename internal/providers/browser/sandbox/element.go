package sandbox

import (
	"sort"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// element exposes a container node to script. Reads and writes of the
// standard properties go straight to the container; anything else is kept
// as an expando on the proxy.
type element struct {
	r       *Runtime
	node    *html.Node
	self    *goja.Object
	expando map[string]goja.Value
}

var elementProps = []string{
	"id", "tagName", "className", "textContent", "innerText", "innerHTML",
	"getAttribute", "setAttribute", "addEventListener", "removeEventListener",
}

func (e *element) Get(key string) goja.Value {
	vm := e.r.vm
	c := e.r.container
	switch key {
	case "id", "className":
		v, _ := c.Attr(e.node, attrName(key))
		return vm.ToValue(v)
	case "tagName":
		return vm.ToValue(strings.ToUpper(e.node.Data))
	case "textContent", "innerText":
		return vm.ToValue(c.Text(e.node))
	case "innerHTML":
		return vm.ToValue(c.InnerHTML(e.node))
	case "getAttribute":
		return vm.ToValue(func(call goja.FunctionCall) goja.Value {
			v, ok := c.Attr(e.node, call.Argument(0).String())
			if !ok {
				return goja.Null()
			}
			return vm.ToValue(v)
		})
	case "setAttribute":
		return vm.ToValue(func(call goja.FunctionCall) goja.Value {
			c.SetAttr(e.node, call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		})
	case "addEventListener":
		return vm.ToValue(e.r.addListenerFunc(elementSource(e.node), e.self))
	case "removeEventListener":
		return vm.ToValue(e.r.removeListenerFunc(elementSource(e.node)))
	}
	return e.expando[key]
}

func (e *element) Set(key string, val goja.Value) bool {
	c := e.r.container
	switch key {
	case "id", "className":
		c.SetAttr(e.node, attrName(key), val.String())
	case "textContent", "innerText":
		c.SetText(e.node, val.String())
	case "innerHTML":
		c.SetInnerHTML(e.node, val.String())
	case "tagName", "getAttribute", "setAttribute", "addEventListener", "removeEventListener":
		return false
	default:
		e.expando[key] = val
	}
	return true
}

func (e *element) Has(key string) bool {
	for _, p := range elementProps {
		if p == key {
			return true
		}
	}
	_, ok := e.expando[key]
	return ok
}

func (e *element) Delete(key string) bool {
	delete(e.expando, key)
	return true
}

func (e *element) Keys() []string {
	keys := make([]string, 0, len(e.expando))
	for k := range e.expando {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func attrName(prop string) string {
	if prop == "className" {
		return "class"
	}
	return prop
}

package jsscenario

import (
	"net/url"

	"github.com/dop251/goja"
)

// newURL is the URL constructor: new URL(href) with the searchParams methods
// scripts use to build query strings.
func (rt *runtime) newURL(call goja.ConstructorCall) *goja.Object {
	u, err := url.Parse(call.Argument(0).String())
	if err != nil || !u.IsAbs() {
		panic(rt.vm.NewTypeError("Invalid URL: %s", call.Argument(0).String()))
	}

	query := u.Query()
	href := func() string {
		c := *u
		c.RawQuery = query.Encode()
		return c.String()
	}

	params := rt.vm.NewObject()
	params.Set("append", func(c goja.FunctionCall) goja.Value {
		query.Add(c.Argument(0).String(), c.Argument(1).String())
		return goja.Undefined()
	})
	params.Set("set", func(c goja.FunctionCall) goja.Value {
		query.Set(c.Argument(0).String(), c.Argument(1).String())
		return goja.Undefined()
	})
	params.Set("get", func(c goja.FunctionCall) goja.Value {
		key := c.Argument(0).String()
		if !query.Has(key) {
			return goja.Null()
		}
		return rt.vm.ToValue(query.Get(key))
	})
	params.Set("has", func(c goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(query.Has(c.Argument(0).String()))
	})
	params.Set("delete", func(c goja.FunctionCall) goja.Value {
		query.Del(c.Argument(0).String())
		return goja.Undefined()
	})
	params.Set("toString", func(goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(query.Encode())
	})

	obj := call.This
	obj.Set("searchParams", params)
	obj.Set("protocol", u.Scheme+":")
	obj.Set("host", u.Host)
	obj.Set("hostname", u.Hostname())
	obj.Set("pathname", u.EscapedPath())
	obj.Set("toString", func(goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(href())
	})
	obj.Set("toJSON", func(goja.FunctionCall) goja.Value {
		return rt.vm.ToValue(href())
	})
	return obj
}

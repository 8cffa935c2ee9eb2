package jsscenario

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"

	vhttp "github.com/wesleyorama2/vuramp/internal/http"
	"github.com/wesleyorama2/vuramp/internal/httpscenario"
)

// requestParams are the optional settings of an http call.
type requestParams struct {
	headers map[string]string
	timeout time.Duration
	name    string
}

func (rt *runtime) httpModule() *goja.Object {
	mod := rt.vm.NewObject()

	withoutBody := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return rt.request(method, call.Argument(0), goja.Undefined(), call.Argument(1))
		}
	}
	withBody := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return rt.request(method, call.Argument(0), call.Argument(1), call.Argument(2))
		}
	}

	mod.Set("get", withoutBody("GET"))
	mod.Set("head", withoutBody("HEAD"))
	mod.Set("options", withBody("OPTIONS"))
	mod.Set("post", withBody("POST"))
	mod.Set("put", withBody("PUT"))
	mod.Set("patch", withBody("PATCH"))
	mod.Set("del", withBody("DELETE"))
	mod.Set("request", func(call goja.FunctionCall) goja.Value {
		return rt.request(strings.ToUpper(call.Argument(0).String()), call.Argument(1), call.Argument(2), call.Argument(3))
	})
	return mod
}

// request performs one HTTP call. Transport errors don't throw: the response
// has status 0 and an error message, and the request is recorded as failed.
func (rt *runtime) request(method string, target, body, params goja.Value) goja.Value {
	rawURL := target.String()
	p := rt.parseParams(params)
	if p.name == "" {
		p.name = method + " " + stripQuery(rawURL)
	}

	req := vhttp.NewRequest(method, rawURL)
	if !goja.IsUndefined(body) && !goja.IsNull(body) {
		b, form := bodyString(body)
		req.WithBody(b)
		if form {
			req.WithHeader("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	for k, v := range p.headers {
		req.WithHeader(k, v)
	}

	ctx, cancel := context.WithTimeout(rt.ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := rt.script.client.Do(ctx, req)
	result := httpscenario.RequestResult{Name: p.name, Duration: time.Since(start), Err: err}
	if resp != nil {
		result.StatusCode = resp.StatusCode
		result.BytesReceived = resp.BytesReceived()
		result.Duration = resp.Timing.TotalTime
		if resp.IsError() {
			result.Err = fmt.Errorf("unexpected status %s", resp.Status)
		}
	}
	rt.script.recorder.RecordRequest(result)

	if err != nil {
		rt.logger.WithError(err).WithField("request", p.name).Debug("request failed")
	}
	return rt.responseObject(rawURL, resp, err)
}

func (rt *runtime) parseParams(v goja.Value) requestParams {
	p := requestParams{timeout: rt.script.requestTimeout}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return p
	}
	obj := v.ToObject(rt.vm)

	if h := obj.Get("headers"); h != nil && !goja.IsUndefined(h) && !goja.IsNull(h) {
		ho := h.ToObject(rt.vm)
		p.headers = make(map[string]string)
		for _, k := range ho.Keys() {
			p.headers[k] = ho.Get(k).String()
		}
	}

	if t := obj.Get("timeout"); t != nil && !goja.IsUndefined(t) && !goja.IsNull(t) {
		if d, ok := timeoutValue(t.Export()); ok && d > 0 {
			p.timeout = d
		}
	}

	if tags := obj.Get("tags"); tags != nil && !goja.IsUndefined(tags) && !goja.IsNull(tags) {
		if name := tags.ToObject(rt.vm).Get("name"); name != nil && !goja.IsUndefined(name) {
			p.name = name.String()
		}
	}
	return p
}

// timeoutValue accepts a duration string ("10s") or a number of milliseconds.
func timeoutValue(v interface{}) (time.Duration, bool) {
	switch t := v.(type) {
	case string:
		d, err := time.ParseDuration(t)
		return d, err == nil
	case int64:
		return time.Duration(t) * time.Millisecond, true
	case float64:
		return time.Duration(t * float64(time.Millisecond)), true
	}
	return 0, false
}

func (rt *runtime) responseObject(rawURL string, resp *vhttp.Response, err error) goja.Value {
	obj := rt.vm.NewObject()
	obj.Set("url", rawURL)

	if resp == nil {
		obj.Set("status", 0)
		obj.Set("body", "")
		obj.Set("headers", rt.vm.NewObject())
		obj.Set("error", err.Error())
		obj.Set("json", func(goja.FunctionCall) goja.Value {
			panic(rt.vm.NewTypeError("response has no body"))
		})
		return obj
	}

	headers := rt.vm.NewObject()
	for k := range resp.Headers {
		headers.Set(k, resp.Headers.Get(k))
	}

	timings := rt.vm.NewObject()
	timings.Set("duration", ms(resp.Timing.TotalTime))
	timings.Set("waiting", ms(resp.Timing.TimeToFirstByte))
	timings.Set("connecting", ms(resp.Timing.TCPConnectTime))
	timings.Set("tls_handshaking", ms(resp.Timing.TLSHandshakeTime))
	timings.Set("receiving", ms(resp.Timing.ContentTransferTime))

	body := resp.Body
	obj.Set("status", resp.StatusCode)
	obj.Set("status_text", resp.Status)
	obj.Set("body", string(body))
	obj.Set("headers", headers)
	obj.Set("timings", timings)
	obj.Set("error", "")
	obj.Set("json", func(call goja.FunctionCall) goja.Value {
		if !gjson.ValidBytes(body) {
			panic(rt.vm.NewTypeError("response body is not valid JSON"))
		}
		if sel := call.Argument(0); !goja.IsUndefined(sel) {
			res := gjson.GetBytes(body, sel.String())
			if !res.Exists() {
				return goja.Undefined()
			}
			return rt.vm.ToValue(res.Value())
		}
		return rt.vm.ToValue(gjson.ParseBytes(body).Value())
	})
	return obj
}

// bodyString renders a request body. Objects are form-encoded.
func bodyString(v goja.Value) (string, bool) {
	switch b := v.Export().(type) {
	case string:
		return b, false
	case map[string]interface{}:
		form := url.Values{}
		for k, val := range b {
			form.Set(k, valueToString(val))
		}
		return form.Encode(), true
	}
	return v.String(), false
}

func stripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

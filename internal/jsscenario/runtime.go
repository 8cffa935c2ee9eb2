package jsscenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/vuramp/internal/scenario"
)

// runtime is one evaluated copy of the script.
type runtime struct {
	vm      *goja.Runtime
	script  *Script
	logger  logrus.FieldLogger
	exports *goja.Object
	data    goja.Value

	// ctx is the context of the call in progress.
	ctx context.Context
}

// failure is thrown by fail().
type failure struct {
	message string
}

func (s *Script) newRuntime(vuID int, env scenario.Env, setupData interface{}) (*runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	rt := &runtime{
		vm:      vm,
		script:  s,
		logger:  s.logger.WithField("vu", vuID),
		exports: vm.NewObject(),
		ctx:     context.Background(),
	}

	envObj := vm.NewObject()
	for k, v := range env {
		envObj.Set(k, v)
	}

	globals := map[string]interface{}{
		"exports": rt.exports,
		"__ENV":   envObj,
		"__VU":    vuID,
		"__ITER":  0,
		"console": rt.console(),
		"http":    rt.httpModule(),
		"sleep":   rt.sleep,
		"check":   rt.check,
		"fail":    rt.fail,
		"URL":     rt.newURL,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", name, err)
		}
	}

	data, err := setupValue(vm, setupData)
	if err != nil {
		return nil, err
	}
	rt.data = data

	if _, err := vm.RunProgram(s.program); err != nil {
		return nil, fmt.Errorf("script initialisation failed: %w", err)
	}
	return rt, nil
}

// setupValue gives the runtime its own copy of the setup data.
func setupValue(vm *goja.Runtime, data interface{}) (goja.Value, error) {
	raw, ok := data.(json.RawMessage)
	if !ok || len(raw) == 0 {
		return goja.Undefined(), nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid setup data: %w", err)
	}
	return vm.ToValue(v), nil
}

// call invokes an exported function. ctx interrupts the runtime when done.
func (rt *runtime) call(ctx context.Context, name string, args ...goja.Value) (goja.Value, error) {
	fn, ok := goja.AssertFunction(rt.exports.Get(name))
	if !ok {
		return nil, fmt.Errorf("%s is not an exported function", name)
	}

	rt.ctx = ctx
	defer func() { rt.ctx = context.Background() }()

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		rt.vm.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
			rt.vm.ClearInterrupt()
		}
	}()

	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, rt.callError(ctx, name, err)
	}
	return v, nil
}

// callError maps a failed call to the error reported for the iteration. Any
// failure after ctx ended is reported as the context's error.
func (rt *runtime) callError(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		if v := exc.Value(); v != nil {
			if f, ok := v.Export().(failure); ok {
				return errors.New(f.message)
			}
		}
		return fmt.Errorf("%s: %s", name, exc.Error())
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (rt *runtime) console() *goja.Object {
	console := rt.vm.NewObject()
	logger := rt.logger.WithField("source", "console")
	levels := map[string]func(...interface{}){
		"log":   logger.Info,
		"info":  logger.Info,
		"debug": logger.Debug,
		"warn":  logger.Warn,
		"error": logger.Error,
	}
	for name, log := range levels {
		log := log
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			log(messageFromArgs(call.Arguments))
			return goja.Undefined()
		})
	}
	return console
}

// sleep pauses for the given number of seconds. It throws when the call's
// context ends first.
func (rt *runtime) sleep(call goja.FunctionCall) goja.Value {
	d := time.Duration(call.Argument(0).ToFloat() * float64(time.Second))
	if d <= 0 {
		return goja.Undefined()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-rt.ctx.Done():
		rt.throw(rt.ctx.Err())
	case <-t.C:
	}
	return goja.Undefined()
}

// check runs every named condition against the value and reports whether all
// of them held. Failed checks are counted and logged but don't fail the
// iteration.
func (rt *runtime) check(call goja.FunctionCall) goja.Value {
	value := call.Argument(0)
	sets := call.Argument(1)
	if goja.IsUndefined(sets) || goja.IsNull(sets) {
		return rt.vm.ToValue(true)
	}

	obj := sets.ToObject(rt.vm)
	passed := true
	for _, name := range obj.Keys() {
		cond := obj.Get(name)
		ok := cond.ToBoolean()
		if fn, isFn := goja.AssertFunction(cond); isFn {
			res, err := fn(goja.Undefined(), value)
			if err != nil {
				rt.throw(err)
			}
			ok = res.ToBoolean()
		}

		if ok {
			rt.script.checksPassed.Add(1)
			continue
		}
		passed = false
		rt.script.checksFailed.Add(1)
		rt.logger.WithField("check", name).Debug("check failed")
	}
	return rt.vm.ToValue(passed)
}

// fail aborts the iteration with the given message.
func (rt *runtime) fail(call goja.FunctionCall) goja.Value {
	msg := "test aborted"
	if len(call.Arguments) > 0 {
		msg = call.Argument(0).String()
	}
	panic(rt.vm.ToValue(failure{message: msg}))
}

// throw rethrows err from a Go function into the script.
func (rt *runtime) throw(err error) {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		panic(exc.Value())
	}
	panic(rt.vm.NewGoError(err))
}

func messageFromArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, valueToString(arg.Export()))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func valueToString(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case map[string]interface{}, []interface{}:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", val)
}

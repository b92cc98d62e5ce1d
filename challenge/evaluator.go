// Package challenge evaluates the obfuscated VQD challenge fragments served in
// the X-Vqd-Hash-1 header.
//
// A challenge is the base64 text of a JavaScript expression. It is evaluated
// as the body of a function receiving window, navigator and document, the
// same contract a browser page fulfils. When no live browser-like bindings
// are present in the runtime a synthetic DOM sandbox, seeded with the
// caller's user agent, provides them.
package challenge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Evaluation stages reported by Error.
const (
	StageDecode  = "decode"
	StageCompile = "compile"
	StageRun     = "run"
	StageResult  = "result"
)

var (
	// ErrNotObject is returned when a fragment does not produce an object
	ErrNotObject = errors.New("challenge result is not an object")

	// ErrPending is returned when a fragment returns a promise that never settles
	ErrPending = errors.New("challenge promise did not settle")
)

// Error describes a failed challenge evaluation.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenge %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Evaluator runs challenge fragments in a fresh runtime per call.
type Evaluator struct {
	newRuntime func() *goja.Runtime
	provider   Provider
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRuntime sets the factory producing the runtime for each evaluation.
// A runtime that already defines window, navigator and document is used as is.
func WithRuntime(factory func() *goja.Runtime) Option {
	return func(e *Evaluator) {
		e.newRuntime = factory
	}
}

// WithProvider sets the sandbox provider used when no live bindings exist.
func WithProvider(p Provider) Option {
	return func(e *Evaluator) {
		e.provider = p
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		newRuntime: goja.New,
		provider:   DefaultProvider(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decodes and runs an encoded challenge, returning the JSON form of
// the object it produces.
func (e *Evaluator) Evaluate(ctx context.Context, encoded, identity string) (json.RawMessage, error) {
	src, err := decode(encoded)
	if err != nil {
		return nil, &Error{Stage: StageDecode, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &Error{Stage: StageRun, Err: err}
	}

	vm := e.newRuntime()

	bindings, ok := liveBindings(vm)
	if !ok {
		sandbox, err := e.provider.Sandbox()
		if err != nil {
			return nil, &Error{Stage: StageRun, Err: err}
		}
		bindings = sandbox.Bind(vm, identity)
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	fnVal, err := vm.RunString("(function (window, navigator, document) { return " + src + "\n})")
	if err != nil {
		return nil, &Error{Stage: StageCompile, Err: err}
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, &Error{Stage: StageCompile, Err: errors.New("fragment did not compile to a function")}
	}

	result, err := fn(goja.Undefined(), bindings.Window, bindings.Navigator, bindings.Document)
	if err != nil {
		return nil, &Error{Stage: StageRun, Err: err}
	}

	result, err = settle(vm, result)
	if err != nil {
		return nil, &Error{Stage: StageRun, Err: err}
	}

	raw, err := toJSON(vm, result)
	if err != nil {
		return nil, &Error{Stage: StageResult, Err: err}
	}
	return raw, nil
}

// decode mirrors atob: surrounding whitespace is ignored and padding optional.
func decode(encoded string) (string, error) {
	encoded = strings.Join(strings.Fields(encoded), "")
	if encoded == "" {
		return "", errors.New("empty challenge")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return "", err
		}
	}

	src := strings.TrimSpace(string(data))
	if src == "" {
		return "", errors.New("empty challenge body")
	}
	return src, nil
}

// liveBindings reports the runtime's own window, navigator and document when
// it already behaves like a browser host.
func liveBindings(vm *goja.Runtime) (Bindings, bool) {
	window := vm.Get("window")
	navigator := vm.Get("navigator")
	document := vm.Get("document")
	if !defined(window) || !defined(navigator) || !defined(document) {
		return Bindings{}, false
	}

	obj, ok := window.(*goja.Object)
	if !ok || !defined(obj.Get("navigator")) {
		return Bindings{}, false
	}

	return Bindings{Window: window, Navigator: navigator, Document: document}, true
}

func defined(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// settle unwraps a promise result, draining the job queue once if needed.
func settle(vm *goja.Runtime, v goja.Value) (goja.Value, error) {
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}

	if p.State() == goja.PromiseStatePending {
		if _, err := vm.RunString("void 0"); err != nil {
			return nil, err
		}
	}

	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("challenge promise rejected: %s", p.Result().String())
	default:
		return nil, ErrPending
	}
}

func toJSON(vm *goja.Runtime, v goja.Value) (json.RawMessage, error) {
	if _, ok := v.(*goja.Object); !ok {
		return nil, ErrNotObject
	}

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify unavailable")
	}

	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(out.String())
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ErrNotObject
	}
	return raw, nil
}

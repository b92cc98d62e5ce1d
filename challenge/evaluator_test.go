package challenge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dop251/goja"
)

const testUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

func enc(src string) string {
	return base64.StdEncoding.EncodeToString([]byte(src))
}

type tokenData struct {
	ServerHashes []string          `json:"server_hashes"`
	ClientHashes []string          `json:"client_hashes"`
	Signals      map[string]any    `json:"signals"`
	Meta         map[string]string `json:"meta"`
}

func evaluate(t *testing.T, e *Evaluator, src string) tokenData {
	t.Helper()
	raw, err := e.Evaluate(context.Background(), enc(src), testUA)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var out tokenData
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("result is not token JSON: %v", err)
	}
	return out
}

func TestEvaluate_SeedsNavigatorWithIdentity(t *testing.T) {
	src := `(function () {
		return {
			server_hashes: ["s1", "s2"],
			client_hashes: [navigator.userAgent, window.navigator.platform, String(window.top === window)],
			signals: {},
			meta: { v: "4", challenge_id: "abc", timestamp: "1700000000" }
		};
	})()`

	out := evaluate(t, New(), src)
	if !reflect.DeepEqual(out.ServerHashes, []string{"s1", "s2"}) {
		t.Errorf("unexpected server hashes: %v", out.ServerHashes)
	}
	if want := []string{testUA, "Linux x86_64", "true"}; !reflect.DeepEqual(out.ClientHashes, want) {
		t.Errorf("unexpected client hashes: %v", out.ClientHashes)
	}
	if out.Meta["challenge_id"] != "abc" {
		t.Errorf("unexpected meta: %v", out.Meta)
	}
}

func TestEvaluate_DOMParsing(t *testing.T) {
	src := `(function () {
		var d = document.createElement("div");
		d.innerHTML = "<p class='x'>a</p><span>b</span>";
		document.body.appendChild(d);
		return {
			server_hashes: [],
			client_hashes: [
				String(d.querySelectorAll("*").length),
				d.innerHTML,
				d.textContent,
				String(document.querySelector("p.x") === d.children[0]),
				String(document.body.childElementCount)
			],
			signals: {},
			meta: {}
		};
	})()`

	out := evaluate(t, New(), src)
	want := []string{"2", `<p class="x">a</p><span>b</span>`, "ab", "true", "1"}
	if !reflect.DeepEqual(out.ClientHashes, want) {
		t.Fatalf("got %q, want %q", out.ClientHashes, want)
	}
}

func TestEvaluate_Base64Helpers(t *testing.T) {
	src := `{ server_hashes: [atob("aGk="), btoa("hi")], client_hashes: [], signals: {}, meta: {} }`
	out := evaluate(t, New(), src)
	if !reflect.DeepEqual(out.ServerHashes, []string{"hi", "aGk="}) {
		t.Fatalf("unexpected server hashes: %v", out.ServerHashes)
	}
}

func TestEvaluate_ResolvedPromise(t *testing.T) {
	src := `Promise.resolve({ server_hashes: ["p"], client_hashes: [], signals: {}, meta: {} })`
	out := evaluate(t, New(), src)
	if !reflect.DeepEqual(out.ServerHashes, []string{"p"}) {
		t.Fatalf("promise not unwrapped: %v", out.ServerHashes)
	}
}

func TestEvaluate_LiveBindingsReused(t *testing.T) {
	calls := 0
	provider := ProviderFunc(func() (*Sandbox, error) {
		calls++
		return NewSandbox(DefaultProfile()), nil
	})

	live := func() *goja.Runtime {
		vm := goja.New()
		_, err := vm.RunString(`
			var navigator = { userAgent: "live-agent" };
			var document = {};
			var window = { navigator: navigator, document: document };
		`)
		if err != nil {
			panic(err)
		}
		return vm
	}

	e := New(WithRuntime(live), WithProvider(provider))
	out := evaluate(t, e, `{ server_hashes: [], client_hashes: [navigator.userAgent], signals: {}, meta: {} }`)
	if !reflect.DeepEqual(out.ClientHashes, []string{"live-agent"}) {
		t.Errorf("live bindings not used: %v", out.ClientHashes)
	}
	if calls != 0 {
		t.Errorf("sandbox built %d times despite live bindings", calls)
	}
}

func TestEvaluate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		stage   string
	}{
		{"empty", "", StageDecode},
		{"not base64", "!!!", StageDecode},
		{"syntax", enc("{ nope: "), StageCompile},
		{"throws", enc(`(function () { throw new Error("boom") })()`), StageRun},
		{"unknown binding", enc(`missingGlobal.value`), StageRun},
		{"rejected", enc(`Promise.reject(new Error("no"))`), StageRun},
		{"not object", enc(`42`), StageResult},
		{"undefined", enc(`undefined`), StageResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Evaluate(context.Background(), tt.encoded, testUA)
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if cerr.Stage != tt.stage {
				t.Errorf("stage: got %s, want %s", cerr.Stage, tt.stage)
			}
		})
	}
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Evaluate(ctx, enc(`{ server_hashes: [] }`), testUA)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEvaluate_InterruptsRunaway(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New().Evaluate(ctx, enc(`(function () { while (true) {} })()`), testUA)
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if cerr.Stage != StageCompile && cerr.Stage != StageRun {
		t.Errorf("unexpected stage: %s", cerr.Stage)
	}
}

func TestEvaluate_NoStateRetained(t *testing.T) {
	e := New()
	evaluate(t, e, `(function () { window.leak = "x"; return { server_hashes: [], client_hashes: [], signals: {}, meta: {} } })()`)
	out := evaluate(t, e, `{ server_hashes: [], client_hashes: [String(typeof window.leak)], signals: {}, meta: {} }`)
	if !reflect.DeepEqual(out.ClientHashes, []string{"undefined"}) {
		t.Fatalf("state leaked between evaluations: %v", out.ClientHashes)
	}
}

func TestDefaultProvider_Shared(t *testing.T) {
	a, err := DefaultProvider().Sandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	b, err := DefaultProvider().Sandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	if a != b {
		t.Fatal("default provider built two sandboxes")
	}
}

func TestPlatformFor(t *testing.T) {
	tests := map[string]string{
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) Mobile": "Linux armv8l",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)":       "Win32",
		"curl/8.0": "",
	}
	for ua, want := range tests {
		if got := platformFor(ua); got != want {
			t.Errorf("platformFor(%q) = %q, want %q", ua, got, want)
		}
	}
}

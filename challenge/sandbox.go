package challenge

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Bindings are the host objects a fragment is evaluated against.
type Bindings struct {
	Window    goja.Value
	Navigator goja.Value
	Document  goja.Value
}

// Provider supplies the sandbox used when a runtime has no live bindings.
type Provider interface {
	Sandbox() (*Sandbox, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func() (*Sandbox, error)

func (f ProviderFunc) Sandbox() (*Sandbox, error) {
	return f()
}

var (
	defaultSandbox *Sandbox
	sandboxOnce    sync.Once
)

// DefaultProvider returns the process-wide sandbox provider. The sandbox is
// built on first use and kept for the life of the process.
func DefaultProvider() Provider {
	return ProviderFunc(func() (*Sandbox, error) {
		sandboxOnce.Do(func() {
			defaultSandbox = NewSandbox(DefaultProfile())
		})
		return defaultSandbox, nil
	})
}

// Profile describes the static part of the emulated browser.
type Profile struct {
	URL                 string
	Language            string
	Languages           []string
	ScreenWidth         int
	ScreenHeight        int
	HardwareConcurrency int
	DeviceMemory        int
}

// DefaultProfile matches a desktop browser on the duck.ai chat page.
func DefaultProfile() Profile {
	return Profile{
		URL:                 "https://duckduckgo.com/?q=DuckDuckGo+AI+Chat&ia=chat&duckai=1",
		Language:            "en-US",
		Languages:           []string{"en-US", "en"},
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		HardwareConcurrency: 8,
		DeviceMemory:        8,
	}
}

// Sandbox builds synthetic window, navigator and document objects.
// It holds no per-evaluation state and is safe for concurrent use.
type Sandbox struct {
	profile Profile
}

// NewSandbox creates a sandbox for the given profile.
func NewSandbox(profile Profile) *Sandbox {
	return &Sandbox{profile: profile}
}

// Bind installs the synthetic globals into vm, seeding navigator with the
// identity string, and returns them.
func (s *Sandbox) Bind(vm *goja.Runtime, identity string) Bindings {
	started := time.Now()
	mobile := strings.Contains(identity, "Mobile") || strings.Contains(identity, "Android")

	window := vm.NewObject()
	navigator := s.navigator(vm, identity, mobile)
	d := newDOM(vm)
	document := d.document(window, s.location(vm))

	for _, name := range []string{
		"Object", "Array", "JSON", "Math", "Date", "String", "Number", "Boolean",
		"Promise", "Symbol", "RegExp", "Error", "Map", "Set", "parseInt", "parseFloat",
		"isNaN", "encodeURIComponent", "decodeURIComponent", "escape", "unescape",
	} {
		if v := vm.Get(name); v != nil {
			_ = window.Set(name, v)
		}
	}

	width, height := s.profile.ScreenWidth, s.profile.ScreenHeight
	if mobile {
		width, height = 412, 915
	}

	_ = window.Set("navigator", navigator)
	_ = window.Set("document", document)
	_ = window.Set("location", document.Get("location"))
	_ = window.Set("screen", map[string]any{
		"width": width, "height": height,
		"availWidth": width, "availHeight": height - 40,
		"colorDepth": 24, "pixelDepth": 24,
	})
	_ = window.Set("innerWidth", width)
	_ = window.Set("innerHeight", height-120)
	_ = window.Set("outerWidth", width)
	_ = window.Set("outerHeight", height)
	_ = window.Set("devicePixelRatio", 1)
	_ = window.Set("origin", "https://duckduckgo.com")
	_ = window.Set("isSecureContext", true)
	_ = window.Set("atob", atob(vm))
	_ = window.Set("btoa", btoa(vm))
	_ = window.Set("localStorage", storage(vm))
	_ = window.Set("sessionStorage", storage(vm))

	perf := vm.NewObject()
	_ = perf.Set("now", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(float64(time.Since(started).Microseconds()) / 1000)
	})
	_ = perf.Set("timeOrigin", float64(started.UnixMilli()))
	_ = window.Set("performance", perf)

	if strings.Contains(identity, "Chrome") {
		_ = window.Set("chrome", vm.NewObject())
	}

	for _, self := range []string{"window", "self", "top", "parent", "frames", "globalThis"} {
		_ = window.Set(self, window)
	}

	for name, v := range map[string]goja.Value{
		"window": window, "self": window, "navigator": navigator, "document": document,
		"location": document.Get("location"), "atob": window.Get("atob"), "btoa": window.Get("btoa"),
	} {
		_ = vm.Set(name, v)
	}

	return Bindings{Window: window, Navigator: navigator, Document: document}
}

func (s *Sandbox) navigator(vm *goja.Runtime, identity string, mobile bool) *goja.Object {
	nav := vm.NewObject()

	vendor := ""
	if strings.Contains(identity, "Chrome") {
		vendor = "Google Inc."
	}
	touchPoints := 0
	if mobile {
		touchPoints = 5
	}

	languages := make([]any, len(s.profile.Languages))
	for i, l := range s.profile.Languages {
		languages[i] = l
	}

	_ = nav.Set("userAgent", identity)
	_ = nav.Set("appVersion", strings.TrimPrefix(identity, "Mozilla/"))
	_ = nav.Set("appName", "Netscape")
	_ = nav.Set("appCodeName", "Mozilla")
	_ = nav.Set("product", "Gecko")
	_ = nav.Set("productSub", "20030107")
	_ = nav.Set("platform", platformFor(identity))
	_ = nav.Set("vendor", vendor)
	_ = nav.Set("vendorSub", "")
	_ = nav.Set("language", s.profile.Language)
	_ = nav.Set("languages", vm.NewArray(languages...))
	_ = nav.Set("hardwareConcurrency", s.profile.HardwareConcurrency)
	_ = nav.Set("deviceMemory", s.profile.DeviceMemory)
	_ = nav.Set("maxTouchPoints", touchPoints)
	_ = nav.Set("webdriver", false)
	_ = nav.Set("cookieEnabled", true)
	_ = nav.Set("onLine", true)
	_ = nav.Set("pdfViewerEnabled", !mobile)
	_ = nav.Set("doNotTrack", goja.Null())
	_ = nav.Set("plugins", vm.NewArray())
	_ = nav.Set("mimeTypes", vm.NewArray())
	return nav
}

func (s *Sandbox) location(vm *goja.Runtime) *goja.Object {
	loc := vm.NewObject()
	href := s.profile.URL
	_ = loc.Set("href", href)
	_ = loc.Set("origin", "https://duckduckgo.com")
	_ = loc.Set("protocol", "https:")
	_ = loc.Set("host", "duckduckgo.com")
	_ = loc.Set("hostname", "duckduckgo.com")
	_ = loc.Set("port", "")
	_ = loc.Set("pathname", "/")
	if i := strings.Index(href, "?"); i >= 0 {
		_ = loc.Set("search", href[i:])
	} else {
		_ = loc.Set("search", "")
	}
	_ = loc.Set("hash", "")
	_ = loc.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(href) })
	return loc
}

func platformFor(identity string) string {
	switch {
	case strings.Contains(identity, "Android"):
		return "Linux armv8l"
	case strings.Contains(identity, "iPhone"):
		return "iPhone"
	case strings.Contains(identity, "Macintosh"):
		return "MacIntel"
	case strings.Contains(identity, "Windows"):
		return "Win32"
	case strings.Contains(identity, "Linux"):
		return "Linux x86_64"
	default:
		return ""
	}
}

func atob(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		in := strings.Join(strings.Fields(call.Argument(0).String()), "")
		data, err := base64.StdEncoding.DecodeString(in)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(in, "="))
		}
		if err != nil {
			panic(vm.NewTypeError("atob: the string to be decoded is not correctly encoded"))
		}
		// Binary string: one UTF-16 code unit per byte.
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		return vm.ToValue(string(runes))
	}
}

func btoa(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		in := call.Argument(0).String()
		data := make([]byte, 0, len(in))
		for _, r := range in {
			if r > 0xff {
				panic(vm.NewTypeError("btoa: the string to be encoded contains characters outside of the Latin1 range"))
			}
			data = append(data, byte(r))
		}
		return vm.ToValue(base64.StdEncoding.EncodeToString(data))
	}
}

func storage(vm *goja.Runtime) *goja.Object {
	items := map[string]string{}
	obj := vm.NewObject()
	_ = obj.Set("getItem", func(call goja.FunctionCall) goja.Value {
		if v, ok := items[call.Argument(0).String()]; ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = obj.Set("setItem", func(call goja.FunctionCall) goja.Value {
		items[call.Argument(0).String()] = call.Argument(1).String()
		return goja.Undefined()
	})
	_ = obj.Set("removeItem", func(call goja.FunctionCall) goja.Value {
		delete(items, call.Argument(0).String())
		return goja.Undefined()
	})
	_ = obj.Set("clear", func(goja.FunctionCall) goja.Value {
		clear(items)
		return goja.Undefined()
	})
	return obj
}

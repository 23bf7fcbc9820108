package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/gatesync/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// testPlugin is a minimal plugin for testing. calls is shared between
// plugins so lifecycle ordering can be asserted.
type testPlugin struct {
	info     plugin.Info
	initErr  error
	startErr error
	cfg      *viper.Viper
	calls    *[]string
}

func newTestPlugin(name string, calls *[]string) *testPlugin {
	if calls == nil {
		calls = &[]string{}
	}
	return &testPlugin{
		info:  plugin.Info{Name: name, Version: "1.0.0", Description: "test plugin " + name},
		calls: calls,
	}
}

func (p *testPlugin) Info() plugin.Info { return p.info }

func (p *testPlugin) Init(cfg *viper.Viper, _ *zap.Logger) error {
	p.cfg = cfg
	*p.calls = append(*p.calls, "init:"+p.info.Name)
	return p.initErr
}

func (p *testPlugin) Start(_ context.Context) error {
	*p.calls = append(*p.calls, "start:"+p.info.Name)
	return p.startErr
}

func (p *testPlugin) Stop() error {
	*p.calls = append(*p.calls, "stop:"+p.info.Name)
	return nil
}

// testHTTPPlugin implements both Plugin and HTTPProvider.
type testHTTPPlugin struct {
	*testPlugin
	routes []plugin.Route
}

func (p *testHTTPPlugin) Routes() []plugin.Route { return p.routes }

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestRegister(t *testing.T) {
	reg := New(testLogger())

	p := newTestPlugin("alpha", nil)
	if err := reg.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Duplicate registration should fail.
	if err := reg.Register(p); err == nil {
		t.Fatal("Register() expected error for duplicate, got nil")
	}
}

func TestRegisterEmptyName(t *testing.T) {
	reg := New(testLogger())
	if err := reg.Register(newTestPlugin("", nil)); err == nil {
		t.Fatal("Register() expected error for empty name, got nil")
	}
}

func TestAllPreservesRegistrationOrder(t *testing.T) {
	reg := New(testLogger())
	_ = reg.Register(newTestPlugin("b", nil))
	_ = reg.Register(newTestPlugin("a", nil))

	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d plugins, want 2", len(all))
	}
	if all[0].Info().Name != "b" || all[1].Info().Name != "a" {
		t.Errorf("All() order = [%s %s], want [b a]", all[0].Info().Name, all[1].Info().Name)
	}
}

func TestInitAllPassesSubConfig(t *testing.T) {
	reg := New(testLogger())
	p := newTestPlugin("poller", nil)
	_ = reg.Register(p)

	v := viper.New()
	v.Set("plugins.poller.page_size", 30)

	if err := reg.InitAll(v); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if p.cfg == nil {
		t.Fatal("Init() received nil config")
	}
	if got := p.cfg.GetInt("page_size"); got != 30 {
		t.Errorf("page_size = %d, want 30", got)
	}
}

func TestInitAllNilConfig(t *testing.T) {
	reg := New(testLogger())
	p := newTestPlugin("a", nil)
	_ = reg.Register(p)

	if err := reg.InitAll(nil); err != nil {
		t.Fatalf("InitAll(nil) error = %v", err)
	}
	if p.cfg == nil {
		t.Error("Init() received nil config, want empty viper")
	}
}

func TestInitAllFails(t *testing.T) {
	reg := New(testLogger())
	p := newTestPlugin("a", nil)
	p.initErr = errors.New("init failed")
	_ = reg.Register(p)

	if err := reg.InitAll(viper.New()); err == nil {
		t.Fatal("InitAll() expected error, got nil")
	}
}

func TestInitAllSkipsDisabled(t *testing.T) {
	calls := []string{}
	reg := New(testLogger())
	_ = reg.Register(newTestPlugin("a", &calls))
	_ = reg.Register(newTestPlugin("b", &calls))

	v := viper.New()
	v.Set("plugins.a.enabled", false)

	if err := reg.InitAll(v); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if !reg.IsDisabled("a") {
		t.Error("expected plugin 'a' to be disabled")
	}
	if reg.IsDisabled("b") {
		t.Error("expected plugin 'b' to be enabled by default")
	}
	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}

	want := []string{"init:b", "start:b"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestStartAllStopAllOrder(t *testing.T) {
	calls := []string{}
	reg := New(testLogger())
	_ = reg.Register(newTestPlugin("a", &calls))
	_ = reg.Register(newTestPlugin("b", &calls))

	if err := reg.InitAll(viper.New()); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	reg.StopAll()

	want := []string{"init:a", "init:b", "start:a", "start:b", "stop:b", "stop:a"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	calls := []string{}
	reg := New(testLogger())
	_ = reg.Register(newTestPlugin("a", &calls))
	b := newTestPlugin("b", &calls)
	b.startErr = errors.New("boom")
	_ = reg.Register(b)

	_ = reg.InitAll(viper.New())
	if err := reg.StartAll(context.Background()); err == nil {
		t.Fatal("StartAll() expected error, got nil")
	}

	last := calls[len(calls)-1]
	if last != "stop:a" {
		t.Errorf("last call = %q, want stop:a", last)
	}

	// A second StopAll must not stop anything again.
	n := len(calls)
	reg.StopAll()
	if len(calls) != n {
		t.Errorf("StopAll() after rollback made %d extra calls", len(calls)-n)
	}
}

func TestGet(t *testing.T) {
	reg := New(testLogger())
	_ = reg.Register(newTestPlugin("a", nil))

	if _, ok := reg.Get("a"); !ok {
		t.Error("Get('a') returned false, want true")
	}
	if _, ok := reg.Get("nonexistent"); ok {
		t.Error("Get('nonexistent') returned true, want false")
	}
}

func TestAllRoutesHTTPProvider(t *testing.T) {
	reg := New(testLogger())

	hp := &testHTTPPlugin{
		testPlugin: newTestPlugin("web", nil),
		routes: []plugin.Route{
			{Method: "GET", Path: "/test"},
		},
	}
	_ = reg.Register(hp)
	_ = reg.Register(newTestPlugin("noroutes", nil))
	_ = reg.InitAll(viper.New())

	routes := reg.AllRoutes()
	if len(routes) != 1 {
		t.Fatalf("AllRoutes() returned %d plugin route sets, want 1", len(routes))
	}
	if _, ok := routes["web"]; !ok {
		t.Error("AllRoutes() missing 'web' routes")
	}
}

func TestAllRoutesSkipsDisabled(t *testing.T) {
	reg := New(testLogger())
	hp := &testHTTPPlugin{
		testPlugin: newTestPlugin("web", nil),
		routes:     []plugin.Route{{Method: "GET", Path: "/test"}},
	}
	_ = reg.Register(hp)

	v := viper.New()
	v.Set("plugins.web.enabled", false)
	_ = reg.InitAll(v)

	if routes := reg.AllRoutes(); len(routes) != 0 {
		t.Errorf("AllRoutes() = %v, want none", routes)
	}
	if got := reg.HealthAll(context.Background())["web"].Status; got != "disabled" {
		t.Errorf("HealthAll()[web] = %q, want disabled", got)
	}
}

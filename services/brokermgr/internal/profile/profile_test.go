package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/etcdprov"
)

func TestResolveDefaults(t *testing.T) {
	fp := FunctionProfileJsonToProfile(&bmgjson.FunctionProfileJson{Name: "hello"})
	assert.Equal(t, int32(0), fp.Worker.ReservationCount)
	assert.Equal(t, int64(0), fp.Worker.InitializationTimeoutMs)
	assert.Equal(t, int64(0), fp.ResourceLimit.Memory)

	back := FunctionProfileJsonToProfile(fp.ToJson())
	assert.Equal(t, fp, back)
}

func TestStaticProfileProvider(t *testing.T) {
	provider := NewStaticProfileProvider(&FunctionProfile{Name: "a"}, &FunctionProfile{Name: "b"})
	assert.NotNil(t, provider.Get("a"))
	assert.Nil(t, provider.Get("c"))
	provider.Delete("a")
	assert.Nil(t, provider.Get("a"))
	assert.Equal(t, []string{"b"}, provider.Names())
}

func TestLoadProfileFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := `
profiles:
  - name: hello
    worker:
      reservation_count: 2
      max_activate_requests: 10
    resource_limit:
      memory: 268435456
  - name: bye
`
	assert.Nil(t, os.WriteFile(path, []byte(content), 0o644))
	provider := LoadProfileFile(path)
	hello := provider.Get("hello")
	assert.Equal(t, int32(2), hello.Worker.ReservationCount)
	assert.Equal(t, int32(10), hello.Worker.MaxActivateRequests)
	assert.Equal(t, int64(268435456), hello.ResourceLimit.Memory)
	assert.NotNil(t, provider.Get("bye"))

	bad := filepath.Join(dir, "bad.yaml")
	assert.Nil(t, os.WriteFile(bad, []byte("profiles:\n  - worker: {}\n"), 0o644))
	assert.Panics(t, func() { LoadProfileFile(bad) })
}

func TestEtcdProfileManager(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := etcdprov.NewFakeEtcdProvider()
	prefix := config.GetCurrentPathManager().GetProfilePathPrefix()
	fake.Set(ctx, prefix+"hello", `{"name":"hello","worker":{"max_activate_requests":10}}`)
	fake.Set(ctx, prefix+"broken", `{`)

	etcdprov.RunWithEtcdProvider(fake, func() {
		mgr := NewEtcdProfileManager(ctx)
		assert.Equal(t, int32(10), mgr.Get("hello").Worker.MaxActivateRequests)
		assert.Nil(t, mgr.Get("broken"))

		fake.Set(ctx, prefix+"world", `{"name":"world"}`)
		assert.Eventually(t, func() bool { return mgr.Get("world") != nil }, time.Second, 5*time.Millisecond)

		fake.Delete(ctx, prefix+"hello", true)
		assert.Eventually(t, func() bool { return mgr.Get("hello") == nil }, time.Second, 5*time.Millisecond)

		fake.Set(ctx, prefix+"mismatch", `{"name":"other"}`)
		fake.Set(ctx, prefix+"nested/other", `{"name":"other"}`)
		time.Sleep(20 * time.Millisecond)
		assert.Nil(t, mgr.Get("mismatch"))
		assert.Nil(t, mgr.Get("other"))
	})
}

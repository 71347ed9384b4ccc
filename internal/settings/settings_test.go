package settings

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type memoryDurable struct {
	values  map[string]Settings
	saveErr error
	saves   int
}

func newMemoryDurable() *memoryDurable {
	return &memoryDurable{values: map[string]Settings{}}
}

func (m *memoryDurable) Load(site string) (Settings, bool, error) {
	s, ok := m.values[site]
	return s, ok, nil
}

func (m *memoryDurable) Save(site string, s Settings) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.values[site] = s
	return nil
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func openTestStore(t *testing.T, durable Durable, fs afero.Fs) *Store {
	t.Helper()
	store, err := Open(Options{
		Site:     "blog",
		SiteURL:  "https://blog.example.com/",
		Durable:  durable,
		Snapshot: NewSnapshotFile(fs, "/settings/config-blog.example.com.yaml"),
		Logger:   discardLogger(),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("Open 返回错误: %v", err)
	}
	return store
}

func TestDefaultsTTLAndUnits(t *testing.T) {
	s := Defaults("https://blog.example.com")
	if s.EnablePageCaching {
		t.Fatalf("缓存默认应关闭")
	}
	if s.TTL() != 24*time.Hour {
		t.Fatalf("默认 TTL 应为 24h, got %s", s.TTL())
	}
	if s.HomeURL() != "https://blog.example.com/" {
		t.Fatalf("HomeURL 应补齐斜杠: %s", s.HomeURL())
	}

	s.PageCacheLengthValue = 2
	s.PageCacheLengthUnit = UnitDays
	s.Normalize()
	if s.PageCacheLength != 2*86400 {
		t.Fatalf("days 单位换算错误: %d", s.PageCacheLength)
	}
	s.PageCacheLengthUnit = UnitMonths
	s.PageCacheLengthValue = 1
	s.Normalize()
	if s.PageCacheLength != 2629800 {
		t.Fatalf("months 单位换算错误: %d", s.PageCacheLength)
	}
	s.PageCacheLengthValue = 0
	s.Normalize()
	if s.TTL() != 0 {
		t.Fatalf("长度为 0 时 TTL 应为 0")
	}
}

func TestNormalizeSortsKeyNamesButKeepsExceptionOrder(t *testing.T) {
	s := Settings{
		CacheCookies:        []string{" wpml_lang ", "currency", "", "currency"},
		CacheQueryVariables: []string{"lang", "amp"},
		CacheExceptionURLs:  []string{"/z/*", " /a "},
	}
	s.Normalize()
	if got := s.CacheCookies; len(got) != 2 || got[0] != "currency" || got[1] != "wpml_lang" {
		t.Fatalf("cookie 名应去重并排序: %v", got)
	}
	if got := s.CacheQueryVariables; got[0] != "amp" || got[1] != "lang" {
		t.Fatalf("查询变量应排序: %v", got)
	}
	if got := s.CacheExceptionURLs; got[0] != "/z/*" || got[1] != "/a" {
		t.Fatalf("例外 URL 应保持原顺序: %v", got)
	}
}

func TestOpenWritesDefaultsToBothBackends(t *testing.T) {
	fs := afero.NewMemMapFs()
	durable := newMemoryDurable()
	store := openTestStore(t, durable, fs)

	if store.Get().Version != 1 {
		t.Fatalf("初始版本应为 1")
	}
	if _, ok := durable.values["blog"]; !ok {
		t.Fatalf("默认配置应写入持久化副本")
	}
	if ok, _ := afero.Exists(fs, "/settings/config-blog.example.com.yaml"); !ok {
		t.Fatalf("默认配置应生成快照")
	}
}

func TestOpenPrefersSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	snap := NewSnapshotFile(fs, "/settings/config-blog.example.com.yaml")
	fromSnapshot := Defaults("https://blog.example.com/")
	fromSnapshot.EnablePageCaching = true
	fromSnapshot.Version = 7
	if err := snap.Save(fromSnapshot); err != nil {
		t.Fatalf("写入快照失败: %v", err)
	}
	durable := newMemoryDurable()
	durable.values["blog"] = Defaults("https://blog.example.com/")

	store := openTestStore(t, durable, fs)
	if !store.Get().EnablePageCaching || store.Get().Version != 7 {
		t.Fatalf("应优先读取快照: %+v", store.Get())
	}
}

func TestOpenRegeneratesMissingSnapshotFromDurable(t *testing.T) {
	fs := afero.NewMemMapFs()
	durable := newMemoryDurable()
	saved := Defaults("https://blog.example.com/")
	saved.EnableMobileCaching = true
	saved.Version = 3
	durable.values["blog"] = saved

	store := openTestStore(t, durable, fs)
	if !store.Get().EnableMobileCaching {
		t.Fatalf("应从持久化副本加载")
	}
	loaded, ok, err := NewSnapshotFile(fs, "/settings/config-blog.example.com.yaml").Load()
	if err != nil || !ok || loaded.Version != 3 {
		t.Fatalf("快照应被重新生成: ok=%v err=%v version=%d", ok, err, loaded.Version)
	}
}

func TestUpdateKeepsBackendsConsistent(t *testing.T) {
	fs := afero.NewMemMapFs()
	durable := newMemoryDurable()
	store := openTestStore(t, durable, fs)

	var observed []int64
	store.OnChange(func(prev, next Settings) {
		observed = append(observed, prev.Version, next.Version)
	})

	next, err := store.Update(func(s *Settings) {
		s.EnablePageCaching = true
		s.CacheExceptionURLs = []string{"/private/*"}
	})
	if err != nil {
		t.Fatalf("Update 返回错误: %v", err)
	}
	if next.Version != 2 {
		t.Fatalf("版本号应递增: %d", next.Version)
	}
	snap, _, _ := NewSnapshotFile(fs, "/settings/config-blog.example.com.yaml").Load()
	if durable.values["blog"].Version != 2 || snap.Version != 2 || !snap.EnablePageCaching {
		t.Fatalf("两个持久化副本应保持一致")
	}
	if len(observed) != 2 || observed[0] != 1 || observed[1] != 2 {
		t.Fatalf("变更回调参数错误: %v", observed)
	}
}

// gatedDurable 在 armed 时阻塞第一次 Save，直到 release 被关闭。
type gatedDurable struct {
	*MemoryBackend
	once    sync.Once
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDurable) Save(site string, s Settings) error {
	if g.armed {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.MemoryBackend.Save(site, s)
}

func TestConcurrentUpdatesPersistInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	durable := &gatedDurable{
		MemoryBackend: NewMemoryBackend(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	store := openTestStore(t, durable, fs)
	durable.armed = true

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = store.Update(func(s *Settings) { s.TimezoneString = "Europe/Berlin" })
	}()
	<-durable.entered

	bDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(bDone)
		_, _ = store.Update(func(s *Settings) { s.EnablePageCaching = true })
	}()
	select {
	case <-bDone:
		t.Fatalf("第二次写入应等待第一次持久化完成")
	case <-time.After(50 * time.Millisecond):
	}
	close(durable.release)
	wg.Wait()

	memory := store.Get()
	stored, _, _ := durable.Load("blog")
	snap, _, _ := NewSnapshotFile(fs, "/settings/config-blog.example.com.yaml").Load()
	for name, got := range map[string]Settings{"memory": memory, "durable": stored, "snapshot": snap} {
		if got.Version != 3 {
			t.Fatalf("%s 版本应为 3，得到 %d", name, got.Version)
		}
		if !got.EnablePageCaching || got.TimezoneString != "Europe/Berlin" {
			t.Fatalf("%s 应同时包含两次写入: %+v", name, got)
		}
	}
}

func TestTransactErrorLeavesSettingsUntouched(t *testing.T) {
	durable := newMemoryDurable()
	store := openTestStore(t, durable, afero.NewMemMapFs())
	saves := durable.saves

	boom := errors.New("rejected")
	prev, next, err := store.Transact(func(cur Settings) (Settings, error) {
		cur.EnablePageCaching = true
		return cur, boom
	})
	if !errors.Is(err, boom) || errors.Is(err, ErrPersist) {
		t.Fatalf("应原样返回计算错误, got %v", err)
	}
	if next.Version != prev.Version || store.Get().EnablePageCaching || durable.saves != saves {
		t.Fatalf("计算失败时不应修改配置")
	}
}

func TestUpdatePersistFailureKeepsInMemoryValue(t *testing.T) {
	fs := afero.NewMemMapFs()
	durable := newMemoryDurable()
	store := openTestStore(t, durable, fs)
	durable.saveErr = errors.New("disk full")

	_, err := store.Update(func(s *Settings) { s.EnablePageCaching = true })
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("持久化失败应返回 ErrPersist, got %v", err)
	}
	if !store.Get().EnablePageCaching {
		t.Fatalf("内存中的配置应已生效")
	}
}

func TestUpdatePartialRejectsUnknownKeys(t *testing.T) {
	store := openTestStore(t, newMemoryDurable(), afero.NewMemMapFs())
	if _, err := store.UpdatePartial(map[string]any{"no_such_option": true}); err == nil {
		t.Fatalf("未知字段应返回错误")
	}

	next, err := store.UpdatePartial(map[string]any{
		"enable_page_caching":     true,
		"page_cache_length_value": float64(2),
		"page_cache_length_unit":  "days",
		"cache_cookies":           []any{"b", "a"},
		"version":                 float64(99),
	})
	if err != nil {
		t.Fatalf("UpdatePartial 返回错误: %v", err)
	}
	if !next.EnablePageCaching || next.PageCacheLength != 2*86400 {
		t.Fatalf("部分更新未生效: %+v", next)
	}
	if next.CacheCookies[0] != "a" {
		t.Fatalf("cookie 名应排序: %v", next.CacheCookies)
	}
	if next.Version != 2 {
		t.Fatalf("version 由 Store 维护, got %d", next.Version)
	}
	if next.SiteURL != "https://blog.example.com/" {
		t.Fatalf("未提供的字段应保持原值")
	}
}

func TestDecodeYAML(t *testing.T) {
	partial, err := DecodeYAML([]byte("enable_page_caching: true\ncache_exception_urls:\n  - /cart/*\n"))
	if err != nil {
		t.Fatalf("DecodeYAML 返回错误: %v", err)
	}
	merged, err := Merge(Defaults("https://blog.example.com/"), partial)
	if err != nil {
		t.Fatalf("Merge 返回错误: %v", err)
	}
	if !merged.EnablePageCaching || len(merged.CacheExceptionURLs) != 1 {
		t.Fatalf("YAML 部分更新未生效: %+v", merged)
	}
}

func TestReloadOnlyAcceptsNewerVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := openTestStore(t, newMemoryDurable(), fs)
	snap := NewSnapshotFile(fs, "/settings/config-blog.example.com.yaml")

	older := store.Get()
	older.EnablePageCaching = true
	if err := snap.Save(older); err != nil {
		t.Fatalf("写入快照失败: %v", err)
	}
	if reloaded, _ := store.Reload(); reloaded {
		t.Fatalf("相同版本不应重新加载")
	}

	newer := older
	newer.Version = older.Version + 1
	if err := snap.Save(newer); err != nil {
		t.Fatalf("写入快照失败: %v", err)
	}
	if reloaded, err := store.Reload(); err != nil || !reloaded {
		t.Fatalf("新版本应被加载: %v", err)
	}
	if !store.Get().EnablePageCaching {
		t.Fatalf("重新加载后的配置未生效")
	}
}

func TestPurgeRelevantChanges(t *testing.T) {
	prev := Defaults("https://blog.example.com/")
	next := prev.Clone()
	next.EnablePageCaching = true
	next.DateFormat = "Y-m-d"
	if changed := PurgeRelevantChanges(prev, next); len(changed) != 0 {
		t.Fatalf("开关与展示字段不应触发清理: %v", changed)
	}
	next.EnableMobileCaching = true
	next.CacheExceptionURLs = []string{"/x"}
	changed := PurgeRelevantChanges(prev, next)
	if len(changed) != 2 || changed[0] != "enable_mobile_caching" || changed[1] != "cache_exception_urls" {
		t.Fatalf("应报告影响缓存的字段: %v", changed)
	}
}

func TestBoltBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.db")
	backend := NewBoltBackend(path, time.Second)

	if _, ok, err := backend.Load("blog"); err != nil || ok {
		t.Fatalf("空库应返回未命中: ok=%v err=%v", ok, err)
	}
	want := Defaults("https://blog.example.com/")
	want.EnablePageCaching = true
	want.CacheExceptionCookies = []string{"woocommerce_items_in_cart"}
	if err := backend.Save("blog", want); err != nil {
		t.Fatalf("Save 返回错误: %v", err)
	}
	got, ok, err := backend.Load("blog")
	if err != nil || !ok {
		t.Fatalf("Load 返回错误: ok=%v err=%v", ok, err)
	}
	if !got.EnablePageCaching || got.CacheExceptionCookies[0] != "woocommerce_items_in_cart" {
		t.Fatalf("读取内容不一致: %+v", got)
	}
	if _, ok, _ := backend.Load("shop"); ok {
		t.Fatalf("其他站点不应命中")
	}
}

func TestMemoryBackendStoresCopies(t *testing.T) {
	backend := NewMemoryBackend()
	s := Defaults("https://blog.example.com/")
	s.CacheExceptionURLs = []string{"/cart/"}
	if err := backend.Save("blog", s); err != nil {
		t.Fatalf("Save 返回错误: %v", err)
	}
	s.CacheExceptionURLs[0] = "/changed/"

	got, ok, err := backend.Load("blog")
	if err != nil || !ok {
		t.Fatalf("Load 返回错误: ok=%v err=%v", ok, err)
	}
	if got.CacheExceptionURLs[0] != "/cart/" {
		t.Fatalf("保存后修改原切片不应影响副本: %v", got.CacheExceptionURLs)
	}
}

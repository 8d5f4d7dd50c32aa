package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// testAPI answers with a JSON payload counting the hits per request URI
type testAPI struct {
	*httptest.Server

	m       sync.Mutex
	hits    map[string]int
	failing map[string]bool
}

func newTestAPI(t *testing.T) *testAPI {
	api := &testAPI{
		hits:    map[string]int{},
		failing: map[string]bool{},
	}
	api.Server = httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		api.m.Lock()
		api.hits[req.URL.RequestURI()]++
		n := api.hits[req.URL.RequestURI()]
		failing := api.failing[req.URL.Path]
		api.m.Unlock()

		switch {
		case failing:
			http.Error(res, "boom", http.StatusInternalServerError)
		case req.URL.Path == "/api/broken":
			fmt.Fprint(res, "<html>not json</html>")
		default:
			res.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(res, `{"uri":%q,"hit":%d}`, req.URL.RequestURI(), n)
		}
	}))
	t.Cleanup(api.Close)
	return api
}

func (api *testAPI) hitCount(uri string) int {
	api.m.Lock()
	defer api.m.Unlock()
	return api.hits[uri]
}

func (api *testAPI) totalHits() int {
	api.m.Lock()
	defer api.m.Unlock()
	total := 0
	for _, n := range api.hits {
		total += n
	}
	return total
}

func (api *testAPI) fail(p string, failing bool) {
	api.m.Lock()
	api.failing[p] = failing
	api.m.Unlock()
}

// memStorage is an in-memory Storage with injectable write failures
type memStorage struct {
	m      sync.Mutex
	data   map[string][]byte
	setErr error
}

func newMemStorage() *memStorage {
	return &memStorage{data: map[string][]byte{}}
}

func (s *memStorage) Get(key string) ([]byte, error) {
	s.m.Lock()
	defer s.m.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotExist
	}
	return v, nil
}

func (s *memStorage) Set(key string, data []byte) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = data
	return nil
}

func newTestAdapter(t *testing.T, base string, storage Storage, offline bool) *Adapter {
	a, err := New(&Config{
		BaseURL: base,
		Storage: storage,
		Offline: offline,
	})
	require.NoError(t, err)
	t.Cleanup(a.Wait)
	return a
}

var ctx = context.Background()

func TestNew(t *testing.T) {
	_, err := New(&Config{Storage: newMemStorage()})
	assert.Error(t, err)
	_, err = New(&Config{BaseURL: "http://example.org"})
	assert.Error(t, err)

	a, err := New(&Config{BaseURL: "http://example.org", Storage: newMemStorage()})
	require.NoError(t, err)
	assert.True(t, a.Online())
	assert.Equal(t, Online, a.Connectivity())
}

func TestKey(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("/api/stats", Key("/api/stats", nil))
	assert.Equal("/api/stats", Key("/api/stats", url.Values{}))
	assert.Equal(
		Key("/api/stats", url.Values{"region": {"idlib"}, "lang": {"ar"}}),
		Key("/api/stats", url.Values{"lang": {"ar"}, "region": {"idlib"}}),
	)
	assert.NotEqual(
		Key("/api/stats", url.Values{"lang": {"ar"}}),
		Key("/api/stats", url.Values{"lang": {"en"}}),
	)
	assert.NotEqual(Key("/api/stats", nil), Key("/api/projects", nil))
	assert.Equal(Key("/api/stats", nil), Key("api/stats", nil))
	assert.Equal("online", Online.String())
	assert.Equal("offline", Offline.String())
}

func TestFetchDataNormalizesEndpoint(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	storage := newMemStorage()
	a := newTestAdapter(t, api.URL, storage, false)

	first, err := a.FetchData(ctx, "api/stats", nil, false)
	require.NoError(t, err)
	second, err := a.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)
	assert.Same(&first[0], &second[0])
	assert.Equal(1, api.hitCount("/api/stats"))

	stored := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(storage.data[DefaultStorageKey], &stored))
	assert.Len(stored, 1)
	assert.Contains(stored, "/api/stats")
}

func TestFetchDataMemoizes(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	a := newTestAdapter(t, api.URL, newMemStorage(), false)
	params := url.Values{"lang": {"ar"}}

	first, err := a.FetchData(ctx, "/api/stats", params, false)
	require.NoError(t, err)
	second, err := a.FetchData(ctx, "/api/stats", url.Values{"lang": {"ar"}}, false)
	require.NoError(t, err)

	assert.Equal(1, api.hitCount("/api/stats?lang=ar"))
	assert.Equal(first, second)
	assert.Same(&first[0], &second[0])

	// memoized payloads are served while offline as well
	a.SetOnlineStatus(false)
	third, err := a.FetchData(ctx, "/api/stats", params, false)
	require.NoError(t, err)
	assert.Same(&first[0], &third[0])

	a.SetOnlineStatus(true)
	a.Wait()
	refreshed, err := a.FetchData(ctx, "/api/stats", params, true)
	require.NoError(t, err)
	assert.Equal(int64(3), gjson.GetBytes(refreshed, "hit").Int())
}

func TestFetchDataOfflineWithoutFallback(t *testing.T) {
	api := newTestAPI(t)
	a := newTestAdapter(t, api.URL, newMemStorage(), true)

	_, err := a.FetchData(ctx, "/api/stats", nil, false)
	assert.True(t, errors.Is(err, ErrDisconnected))
	assert.False(t, errors.Is(err, ErrFetchFailed))
	assert.Zero(t, api.totalHits())
}

func TestFetchDataOfflineFallback(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	storage := newMemStorage()
	storage.data[DefaultStorageKey] = []byte(`{"/api/stats":{"value":"x"}}`)
	a := newTestAdapter(t, api.URL, storage, true)

	payload, err := a.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)
	assert.JSONEq(`{"value":"x"}`, string(payload))

	// offline wins over forceRefresh
	payload, err = a.FetchData(ctx, "/api/stats", nil, true)
	require.NoError(t, err)
	assert.JSONEq(`{"value":"x"}`, string(payload))

	assert.Zero(api.totalHits())
}

func TestFetchDataFailures(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	storage := newMemStorage()
	storage.data[DefaultStorageKey] = []byte(`{"/api/stats":{"value":"stale"}}`)
	a := newTestAdapter(t, api.URL, storage, false)

	// a failed fetch while online does not fall back to offline data
	api.fail("/api/stats", true)
	_, err := a.FetchData(ctx, "/api/stats", nil, false)
	assert.True(errors.Is(err, ErrFetchFailed))
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal("/api/stats", fe.Endpoint)
	assert.Contains(fe.Err.Error(), "500")

	_, err = a.FetchData(ctx, "/api/broken", nil, false)
	assert.True(errors.Is(err, ErrFetchFailed))

	api.Close()
	_, err = a.FetchData(ctx, "/api/projects", nil, false)
	assert.True(errors.Is(err, ErrFetchFailed))
	assert.False(errors.Is(err, ErrDisconnected))
}

func TestClearCacheKeepsFallback(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	a := newTestAdapter(t, api.URL, newMemStorage(), false)

	live, err := a.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)

	a.ClearCache()
	a.SetOnlineStatus(false)

	payload, err := a.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)
	assert.JSONEq(string(live), string(payload))
	assert.Equal(1, api.totalHits())

	// after a clear, nothing is left to sync on reconnect
	a.SetOnlineStatus(true)
	a.Wait()
	assert.Equal(1, api.totalHits())
}

func TestReconnectSyncsEveryKey(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	a := newTestAdapter(t, api.URL, newMemStorage(), false)

	uris := []string{"/api/stats", "/api/projects?lang=en", "/api/projects?lang=ar", "/api/volunteers"}
	for _, uri := range uris {
		u, err := url.Parse(uri)
		require.NoError(t, err)
		_, err = a.FetchData(ctx, u.Path, u.Query(), false)
		require.NoError(t, err)
	}

	a.SetOnlineStatus(false)
	api.fail("/api/volunteers", true)
	a.SetOnlineStatus(true)
	a.Wait()

	for _, uri := range uris {
		assert.Equal(2, api.hitCount(uri), uri)
	}

	// the failed key keeps its old payload, the others were refreshed
	a.SetOnlineStatus(false)
	payload, err := a.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)
	assert.Equal(int64(2), gjson.GetBytes(payload, "hit").Int())
	payload, err = a.FetchData(ctx, "/api/volunteers", nil, false)
	require.NoError(t, err)
	assert.Equal(int64(1), gjson.GetBytes(payload, "hit").Int())
}

func TestSyncDataCombinesErrors(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	a := newTestAdapter(t, api.URL, newMemStorage(), false)

	for _, p := range []string{"/api/a", "/api/b", "/api/c"} {
		_, err := a.FetchData(ctx, p, nil, false)
		require.NoError(t, err)
	}
	api.fail("/api/a", true)
	api.fail("/api/c", true)

	err := a.SyncData(ctx)
	require.Error(t, err)
	assert.True(errors.Is(err, ErrFetchFailed))
	assert.Contains(err.Error(), "/api/a")
	assert.Contains(err.Error(), "/api/c")
	assert.Equal(2, api.hitCount("/api/b"))

	api.fail("/api/a", false)
	api.fail("/api/c", false)
	assert.NoError(a.SyncData(ctx))
}

func TestConnectivityNotifications(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	a := newTestAdapter(t, api.URL, newMemStorage(), false)
	_, err := a.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)

	var (
		m      sync.Mutex
		events []ConnectivityEvent
	)
	unsubscribe := a.Subscribe(func(ev ConnectivityEvent) {
		m.Lock()
		events = append(events, ev)
		m.Unlock()
	})

	// repeated statuses are notified too, but only a real reconnect syncs
	a.SetOnlineStatus(true)
	a.SetOnlineStatus(true)
	a.Wait()
	assert.Equal(1, api.totalHits())

	a.SetOnlineStatus(false)
	a.SetOnlineStatus(false)
	assert.Equal(Offline, a.Connectivity())

	unsubscribe()
	a.SetOnlineStatus(true)
	a.Wait()

	m.Lock()
	defer m.Unlock()
	assert.Equal([]ConnectivityEvent{{Online: true}, {Online: true}, {Online: false}, {Online: false}}, events)
}

func TestWatch(t *testing.T) {
	api := newTestAPI(t)
	a := newTestAdapter(t, api.URL, newMemStorage(), false)

	got := make(chan bool, 4)
	a.Subscribe(func(ev ConnectivityEvent) { got <- ev.Online })

	signals := make(chan bool)
	done := make(chan struct{})
	go func() {
		a.Watch(context.Background(), signals)
		close(done)
	}()

	signals <- false
	assert.False(t, <-got)
	assert.False(t, a.Online())
	signals <- true
	assert.True(t, <-got)
	close(signals)
	<-done
	assert.True(t, a.Online())
}

func TestPersistenceIsBestEffort(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	storage := newMemStorage()
	storage.setErr = errors.New("quota exceeded")
	a := newTestAdapter(t, api.URL, storage, false)

	payload, err := a.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)
	assert.NotEmpty(payload)
	assert.Empty(storage.data)
}

func TestCorruptOfflineDataIsEmpty(t *testing.T) {
	api := newTestAPI(t)
	storage := newMemStorage()
	storage.data[DefaultStorageKey] = []byte("{not json")
	a := newTestAdapter(t, api.URL, storage, true)

	_, err := a.FetchData(ctx, "/api/stats", nil, false)
	assert.True(t, errors.Is(err, ErrDisconnected))

	// the next successful fetch rewrites the blob
	a.SetOnlineStatus(true)
	_, err = a.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)
	assert.True(t, gjson.ValidBytes(storage.data[DefaultStorageKey]))
}

func TestOfflineDataIsMerged(t *testing.T) {
	assert := assert.New(t)
	api := newTestAPI(t)
	storage, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	// two adapters sharing one storage, like two open tabs
	a1 := newTestAdapter(t, api.URL, storage, false)
	a2 := newTestAdapter(t, api.URL, storage, false)
	_, err = a1.FetchData(ctx, "/api/stats", nil, false)
	require.NoError(t, err)
	_, err = a2.FetchData(ctx, "/api/projects", url.Values{"lang": {"ar"}}, false)
	require.NoError(t, err)

	blob, err := storage.Get(DefaultStorageKey)
	require.NoError(t, err)
	stored := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(blob, &stored))
	assert.Contains(stored, "/api/stats")
	assert.Contains(stored, "/api/projects?lang=ar")

	// a fresh adapter loads both keys
	a3 := newTestAdapter(t, api.URL, storage, true)
	_, err = a3.FetchData(ctx, "/api/stats", nil, false)
	assert.NoError(err)
	_, err = a3.FetchData(ctx, "/api/projects", url.Values{"lang": {"ar"}}, false)
	assert.NoError(err)
	assert.Equal(2, api.totalHits())
}

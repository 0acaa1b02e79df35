package discover

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/mock"
	"github.com/snapp-incubator/mokzi/internal/watcher"
)

type fakeWatcher struct {
	ch   chan watcher.Event
	once sync.Once
}

func (f *fakeWatcher) Events() <-chan watcher.Event { return f.ch }

func (f *fakeWatcher) Close() error {
	f.once.Do(func() { close(f.ch) })
	return nil
}

type fixture struct {
	builder *fileurl.Builder
	events  chan Event
	d       *Discover

	mu       sync.Mutex
	watchers []*fakeWatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		builder: fileurl.NewBuilder(t.TempDir()),
		events:  make(chan Event, 100),
	}
	f.d = New(f.builder, Options{
		Workers:  2,
		Listener: func(ev Event) { f.events <- ev },
		Watch: func(string) (watcher.Watcher, error) {
			w := &fakeWatcher{ch: make(chan watcher.Event, 10)}
			f.mu.Lock()
			f.watchers = append(f.watchers, w)
			f.mu.Unlock()
			return w, nil
		},
	}, zaptest.NewLogger(t))
	t.Cleanup(f.d.Close)

	require.NoError(t, f.builder.EnsureDomainSkeleton("Dev"))
	return f
}

func (f *fixture) lastWatcher() *fakeWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchers[len(f.watchers)-1]
}

func (f *fixture) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a discover event")
		return Event{}
	}
}

func (f *fixture) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.events:
		t.Fatalf("unexpected %s event for %s", ev.Kind, ev.Domain)
	default:
	}
}

func (f *fixture) write(t *testing.T, domain string, r *mock.Record) string {
	t.Helper()
	path, err := f.builder.MockFilePath(domain, r)
	require.NoError(t, err)
	writeRecord(t, path, r)
	return path
}

func writeRecord(t *testing.T, path string, r *mock.Record) {
	t.Helper()
	data, err := mock.Encode(r)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func record(rawURL, method string) *mock.Record {
	r := mock.New(rawURL, method)
	r.HTTPStatus = 200
	r.ResponseBody = mock.NewBody([]byte(`{"name":"a","items":[]}`))
	return r
}

func (f *fixture) load(t *testing.T, domain string) Event {
	t.Helper()
	require.NoError(t, f.d.UpdateDomain(domain))
	require.Equal(t, Loading, f.next(t).Kind)
	ev := f.next(t)
	require.Equal(t, Catalog, ev.Kind)
	require.Equal(t, domain, ev.Domain)
	return ev
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Record.ID)
	}
	return out
}

func TestUpdateDomainLoadsCatalog(t *testing.T) {
	f := newFixture(t)

	users := record("https://api.example.com/users/1", "GET")
	orders := record("https://api.example.com/orders?page=2", "POST")
	f.write(t, "Dev", users)
	f.write(t, "Dev", orders)

	mocks, err := f.builder.MocksFolder("Dev")
	require.NoError(t, err)
	broken := filepath.Join(mocks, "+broken", "GET", "broken_x.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(broken), 0o755))
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0o644))

	ev := f.load(t, "Dev")
	assert.Equal(t, []string{orders.ID, users.ID}, ids(ev.Entries))
	assert.Equal(t, "name,items", ev.Entries[0].Outline)
	assert.False(t, ev.Entries[0].PathViolated)

	snapshot, err := f.d.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, ids(ev.Entries), ids(snapshot))

	domain, err := f.d.Domain()
	require.NoError(t, err)
	assert.Equal(t, "Dev", domain)
}

func TestUpdateDomainIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "Dev", record("https://api.example.com/users/1", "GET"))
	f.load(t, "Dev")

	require.NoError(t, f.d.UpdateDomain("Dev"))
	f.assertQuiet(t)

	require.NoError(t, f.d.Reload())
	assert.Equal(t, Loading, f.next(t).Kind)
	ev := f.next(t)
	assert.Equal(t, Catalog, ev.Kind)
	assert.Len(t, ev.Entries, 1)
}

func TestEmptyDomainRescansAgain(t *testing.T) {
	f := newFixture(t)
	f.load(t, "Dev")

	require.NoError(t, f.d.UpdateDomain("Dev"))
	assert.Equal(t, Loading, f.next(t).Kind)
}

func TestUpdateDomainRejectsMalformedDomain(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.d.UpdateDomain("../x"), fileurl.ErrMalformedURL)
}

func TestSupersededRescanIsNotEmitted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.builder.EnsureDomainSkeleton("Stage"))
	for i := 0; i < 20; i++ {
		f.write(t, "Dev", record("https://api.example.com/dev/"+string(rune('a'+i)), "GET"))
	}
	stage := record("https://api.example.com/stage", "GET")
	f.write(t, "Stage", stage)

	require.NoError(t, f.d.UpdateDomain("Dev"))
	require.NoError(t, f.d.UpdateDomain("Stage"))

	switched := false
	for {
		ev := f.next(t)
		if ev.Kind == Loading && ev.Domain == "Stage" {
			switched = true
			continue
		}
		if switched {
			require.Equal(t, "Stage", ev.Domain)
		}
		if ev.Kind == Catalog && ev.Domain == "Stage" {
			assert.Equal(t, []string{stage.ID}, ids(ev.Entries))
			break
		}
	}

	time.Sleep(50 * time.Millisecond)
	f.assertQuiet(t)
}

func TestMockFileChanged(t *testing.T) {
	f := newFixture(t)
	first := record("https://api.example.com/users/1", "GET")
	f.write(t, "Dev", first)
	f.load(t, "Dev")

	added := record("https://api.example.com/users/2", "GET")
	path := f.write(t, "Dev", added)
	require.NoError(t, f.d.MockFileChanged(path))
	ev := f.next(t)
	assert.ElementsMatch(t, []string{first.ID, added.ID}, ids(ev.Entries))

	added.HTTPStatus = 500
	writeRecord(t, path, added)
	require.NoError(t, f.d.MockFileChanged(path))
	ev = f.next(t)
	for _, e := range ev.Entries {
		if e.Record.ID == added.ID {
			assert.Equal(t, 500, e.Record.HTTPStatus)
		}
	}

	require.NoError(t, os.Remove(path))
	require.NoError(t, f.d.MockFileChanged(path))
	ev = f.next(t)
	assert.Equal(t, []string{first.ID}, ids(ev.Entries))
}

func TestMockFileChangedIgnoresOtherFolders(t *testing.T) {
	f := newFixture(t)
	f.write(t, "Dev", record("https://api.example.com/users/1", "GET"))
	f.load(t, "Dev")

	require.NoError(t, f.d.MockFileChanged(filepath.Join(t.TempDir(), "x.json")))
	f.assertQuiet(t)
}

func TestMocksFolderChangedPrunesAndPicksUp(t *testing.T) {
	f := newFixture(t)
	users := record("https://api.example.com/users/1", "GET")
	orders := record("https://api.example.com/orders", "GET")
	usersPath := f.write(t, "Dev", users)
	f.write(t, "Dev", orders)
	f.load(t, "Dev")

	usersFolder := filepath.Dir(filepath.Dir(usersPath))
	require.NoError(t, os.RemoveAll(usersFolder))
	require.NoError(t, f.d.MocksFolderChanged(usersFolder))
	ev := f.next(t)
	assert.Equal(t, []string{orders.ID}, ids(ev.Entries))

	moved := record("https://api.example.com/users/9", "DELETE")
	path := f.write(t, "Dev", moved)
	require.NoError(t, f.d.MocksFolderChanged(filepath.Dir(filepath.Dir(path))))
	ev = f.next(t)
	assert.ElementsMatch(t, []string{orders.ID, moved.ID}, ids(ev.Entries))
}

func TestWatcherEventsPatchCatalog(t *testing.T) {
	f := newFixture(t)
	f.write(t, "Dev", record("https://api.example.com/users/1", "GET"))
	f.load(t, "Dev")

	added := record("https://api.example.com/users/2", "GET")
	path := f.write(t, "Dev", added)
	f.lastWatcher().ch <- watcher.Event{Op: watcher.Added, Path: path}
	ev := f.next(t)
	assert.Contains(t, ids(ev.Entries), added.ID)

	require.NoError(t, os.Remove(path))
	f.lastWatcher().ch <- watcher.Event{Op: watcher.Removed, Path: path}
	ev = f.next(t)
	assert.NotContains(t, ids(ev.Entries), added.ID)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	users := record("https://api.example.com/users/1", "GET")
	cart := record("https://api.example.com/cart", "GET")
	cart.Scenario = "emptyCart"
	cart.ResponseBody = mock.NewBody([]byte(`{"basket":[]}`))
	f.write(t, "Dev", users)
	f.write(t, "Dev", cart)
	f.load(t, "Dev")

	found, err := f.d.Search("EMPTYcart")
	require.NoError(t, err)
	assert.Equal(t, []string{cart.ID}, ids(found))

	found, err = f.d.Search("users/1")
	require.NoError(t, err)
	assert.Equal(t, []string{users.ID}, ids(found))

	found, err = f.d.Search("basket")
	require.NoError(t, err)
	assert.Equal(t, []string{cart.ID}, ids(found))

	found[0].Record.HTTPStatus = 999
	again, err := f.d.Search("basket")
	require.NoError(t, err)
	assert.Equal(t, 200, again[0].Record.HTTPStatus)
}

func TestPathViolationIsFlagged(t *testing.T) {
	f := newFixture(t)
	r := record("https://api.example.com/users/1", "GET")
	path := f.write(t, "Dev", r)
	require.NoError(t, os.Rename(path, filepath.Join(filepath.Dir(path), "renamed.json")))

	ev := f.load(t, "Dev")
	require.Len(t, ev.Entries, 1)
	assert.True(t, ev.Entries[0].PathViolated)
}

func TestCloseRejectsCalls(t *testing.T) {
	f := newFixture(t)
	f.d.Close()
	f.d.Close()

	assert.ErrorIs(t, f.d.UpdateDomain("Dev"), ErrClosed)
	_, err := f.d.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScanReusesUnchangedFiles(t *testing.T) {
	f := newFixture(t)
	kept := record("https://api.example.com/users/1", "GET")
	changed := record("https://api.example.com/orders", "GET")
	f.write(t, "Dev", kept)
	changedPath := f.write(t, "Dev", changed)

	mocks, err := f.builder.MocksFolder("Dev")
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	first, err := scan(context.Background(), mocks, nil, 2, logger)
	require.NoError(t, err)
	require.Len(t, first, 2)

	changed.ResponseBody = mock.NewBody([]byte(`{"name":"a much longer body than before"}`))
	writeRecord(t, changedPath, changed)

	second, err := scan(context.Background(), mocks, byPath(first), 2, logger)
	require.NoError(t, err)
	assert.Same(t, first[kept.ID], second[kept.ID])
	assert.NotSame(t, first[changed.ID], second[changed.ID])
	assert.Equal(t, "name", second[changed.ID].Outline)
}

func TestScanCancelled(t *testing.T) {
	f := newFixture(t)
	f.write(t, "Dev", record("https://api.example.com/users/1", "GET"))
	mocks, err := f.builder.MocksFolder("Dev")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = scan(ctx, mocks, nil, 1, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanMissingFolder(t *testing.T) {
	catalog, err := scan(context.Background(), filepath.Join(t.TempDir(), "none"), nil, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

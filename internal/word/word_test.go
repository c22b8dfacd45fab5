package word

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWords = []string{"aberration", "abstractly", "basketball", "strawberry", "short", "BASKETBALL"}

func newTestDictionary(t *testing.T) *Dictionary {
	t.Helper()
	d, err := NewDictionary(testWords)
	require.NoError(t, err)
	return d
}

func TestDictionaryFiltersLengthAndDuplicates(t *testing.T) {
	d := newTestDictionary(t)
	assert.Equal(t, 4, d.Size())
	assert.True(t, d.Contains("Basketball"))
	assert.False(t, d.Contains("short"))
}

func TestDictionaryEmpty(t *testing.T) {
	_, err := NewDictionary([]string{"one", "two"})
	assert.ErrorIs(t, err, ErrEmptyDictionary)
}

func TestLoadDictionary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("aberration\n\n  strawberry \nxx\n"), 0o644))

	d, err := LoadDictionary(path)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Size())
}

func TestRandomExceptNeverRepeats(t *testing.T) {
	d := newTestDictionary(t)
	for i := 0; i < 200; i++ {
		assert.NotEqual(t, "basketball", d.RandomExcept("basketball"))
	}

	single, err := NewDictionary([]string{"aberration"})
	require.NoError(t, err)
	assert.Equal(t, "aberration", single.RandomExcept("aberration"))
}

type countingTranslator struct {
	calls atomic.Int32
	err   error
}

func (c *countingTranslator) Translate(_ context.Context, w string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return "tr-" + w, nil
}

func TestRotateIfExpired(t *testing.T) {
	tr := &countingTranslator{}
	o := NewOracle(newTestDictionary(t), tr)
	ttl := time.Minute
	now := time.Now()

	require.True(t, o.RotateIfExpired(now, ttl), "первая ротация должна сработать")
	first := o.Current()
	assert.Equal(t, 1, first.RoundNumber)
	assert.Equal(t, "tr-"+first.Word, first.Translation)

	// второй вызов в том же окне не меняет состояние
	assert.False(t, o.RotateIfExpired(now.Add(time.Second), ttl))
	assert.Equal(t, first, o.Current())

	require.True(t, o.RotateIfExpired(now.Add(ttl), ttl))
	second := o.Current()
	assert.Equal(t, 2, second.RoundNumber)
	assert.NotEqual(t, first.Word, second.Word)
	assert.Equal(t, int32(2), tr.calls.Load())
}

func TestRotateConcurrentOnlyOnce(t *testing.T) {
	o := NewOracle(newTestDictionary(t), nil)
	now := time.Now()
	o.RotateIfExpired(now, time.Minute)

	later := now.Add(time.Minute)
	var rotated atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.RotateIfExpired(later, time.Minute) {
				rotated.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), rotated.Load())
	assert.Equal(t, 2, o.Current().RoundNumber)
}

func TestRotateTranslatorFailureIsNotFatal(t *testing.T) {
	o := NewOracle(newTestDictionary(t), &countingTranslator{err: errors.New("offline")})
	require.True(t, o.RotateIfExpired(time.Now(), time.Minute))
	assert.Empty(t, o.Current().Translation)
	assert.NotEmpty(t, o.Current().Word)
}

func TestRestore(t *testing.T) {
	o := NewOracle(newTestDictionary(t), nil)
	s := State{Word: "strawberry", RoundNumber: 41, ExtractedAt: time.Now()}
	o.Restore(s)
	assert.Equal(t, 41, o.Current().RoundNumber)

	o.Restore(State{})
	assert.Equal(t, "strawberry", o.Current().Word)
}

func TestRotatorStopsPromptly(t *testing.T) {
	o := NewOracle(newTestDictionary(t), nil)
	o.RotateIfExpired(time.Now(), time.Hour)

	r := NewRotator(o, 10*time.Millisecond)
	r.Start(context.Background())

	assert.Eventually(t, func() bool { return o.Current().RoundNumber >= 2 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ротатор не остановился")
	}
}

func TestRotatorLongLifetimeStopsImmediately(t *testing.T) {
	o := NewOracle(newTestDictionary(t), nil)
	r := NewRotator(o, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	start := time.Now()
	cancel()
	r.Stop()
	assert.Less(t, time.Since(start), time.Second)
}

func TestMyMemoryTranslator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "strawberry", r.URL.Query().Get("q"))
		assert.Equal(t, "en|it", r.URL.Query().Get("langpair"))
		_, _ = w.Write([]byte(`{"responseData":{"translatedText":"fragola"},"responseStatus":200}`))
	}))
	defer srv.Close()

	tr := NewMyMemoryTranslator(srv.URL, "en|it")
	got, err := tr.Translate(context.Background(), "strawberry")
	require.NoError(t, err)
	assert.Equal(t, "fragola", got)
}

func TestMyMemoryTranslatorHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewMyMemoryTranslator(srv.URL, "en|it").Translate(context.Background(), "strawberry")
	assert.Error(t, err)
}

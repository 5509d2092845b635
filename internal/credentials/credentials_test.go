package credentials

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/bundlehub/internal/apperr"
)

func TestLoaderPrefersExplicitValues(t *testing.T) {
	creds, err := Loader{Username: "env_user", Key: "env_key", File: "/does/not/exist"}.Load()
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "env_user", Key: "env_key"}, creds)
}

func TestLoaderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"file_user","key":"file_key"}`), 0o600))

	creds, err := Loader{Username: "only_user", File: path}.Load()
	require.NoError(t, err)
	assert.Equal(t, "file_user", creds.Username)
	assert.Equal(t, "file_key", creds.Key)
}

func TestLoaderFileErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"invalid": `{not json`,
		"no-user": `{"key":"k"}`,
		"no-key":  `{"username":"u"}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		_, err := Loader{File: path}.Load()
		require.Error(t, err, name)
		assert.True(t, apperr.Is(err, apperr.KindCredentials), name)
	}
}

func TestLoaderNotFound(t *testing.T) {
	_, err := Loader{File: filepath.Join(t.TempDir(), "missing.json")}.Load()
	require.ErrorIs(t, err, apperr.ErrCredentials)
	assert.Contains(t, err.Error(), "no credentials found")

	_, err = Loader{}.Load()
	require.ErrorIs(t, err, apperr.ErrCredentials)
}

func TestStaticRequiresBothValues(t *testing.T) {
	_, err := Static{Username: "u"}.Credentials()
	require.ErrorIs(t, err, apperr.ErrCredentials)

	creds, err := Static{Username: "u", Key: "k"}.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "k", creds.Key)
}

func TestCacheLoadsOnceUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	cache := NewCache(func() (Credentials, error) {
		calls.Add(1)
		return Credentials{Username: "u", Key: "k"}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := cache.Credentials()
			assert.NoError(t, err)
			assert.Equal(t, "u", creds.Username)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	cache := NewCache(func() (Credentials, error) {
		if calls.Add(1) == 1 {
			return Credentials{}, apperr.New(apperr.KindCredentials, "not yet")
		}
		return Credentials{Username: "u", Key: "k"}, nil
	})

	_, err := cache.Credentials()
	require.Error(t, err)
	creds, err := cache.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "k", creds.Key)
}

func TestCacheSetOverrides(t *testing.T) {
	cache := NewCache(func() (Credentials, error) {
		t.Fatalf("loader must not run after Set")
		return Credentials{}, nil
	})
	cache.Set("manual", "secret")
	creds, err := cache.Credentials()
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "manual", Key: "secret"}, creds)
}

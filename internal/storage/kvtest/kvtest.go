// Package kvtest holds the behaviour every storage.KV backend must share.
package kvtest

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
)

// Run exercises kv. Keys are written under a random prefix so a shared
// Redis or MongoDB instance can be used.
func Run(t *testing.T, kv storage.KV) {
	ctx := context.Background()
	prefix := "kvtest:" + uuid.NewString() + ":"
	k := func(name string) string { return prefix + name }
	t.Cleanup(func() {
		keys, err := kv.Keys(ctx, prefix)
		if err == nil {
			kv.Delete(ctx, keys...)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, ok, err := kv.Get(ctx, k("nothing"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set overwrite get", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, k("a"), "1", 0))
		require.NoError(t, kv.Set(ctx, k("a"), "2", 0))
		v, ok, err := kv.Get(ctx, k("a"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2", v)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, k("list:x"), "x", 0))
		require.NoError(t, kv.Set(ctx, k("list:y"), "y", time.Minute))
		require.NoError(t, kv.Set(ctx, k("other"), "z", 0))
		keys, err := kv.Keys(ctx, k("list:"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{k("list:x"), k("list:y")}, keys)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, k("d1"), "1", 0))
		require.NoError(t, kv.Set(ctx, k("d2"), "2", 0))
		require.NoError(t, kv.Delete(ctx, k("d1"), k("d2"), k("never-set")))
		require.NoError(t, kv.Delete(ctx))
		for _, name := range []string{"d1", "d2"} {
			_, ok, err := kv.Get(ctx, k(name))
			require.NoError(t, err)
			assert.False(t, ok, name)
		}
	})

	t.Run("ttl", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, k("short"), "v", 50*time.Millisecond))
		_, ok, err := kv.Get(ctx, k("short"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Eventually(t, func() bool {
			_, ok, err := kv.Get(ctx, k("short"))
			return err == nil && !ok
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("update", func(t *testing.T) {
		require.NoError(t, kv.Update(ctx, k("u"), 0, func(cur string, ok bool) (string, error) {
			assert.False(t, ok)
			assert.Empty(t, cur)
			return "first", nil
		}))
		require.NoError(t, kv.Update(ctx, k("u"), 0, func(cur string, ok bool) (string, error) {
			assert.True(t, ok)
			return cur + "+second", nil
		}))
		v, _, err := kv.Get(ctx, k("u"))
		require.NoError(t, err)
		assert.Equal(t, "first+second", v)

		boom := assert.AnError
		assert.ErrorIs(t, kv.Update(ctx, k("u"), 0, func(string, bool) (string, error) {
			return "", boom
		}), boom)
		v, _, _ = kv.Get(ctx, k("u"))
		assert.Equal(t, "first+second", v, "a failed update writes nothing")
	})

	t.Run("concurrent updates", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- kv.Update(ctx, k("counter"), 0, func(cur string, ok bool) (string, error) {
					if cur == "" {
						return strconv.Itoa(i), nil
					}
					return cur + "," + strconv.Itoa(i), nil
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		v, _, err := kv.Get(ctx, k("counter"))
		require.NoError(t, err)
		assert.Len(t, strings.Split(v, ","), writers, v)
	})

	t.Run("concurrent answered flags", func(t *testing.T) {
		local := storage.NewLocalStore(kv, "kvtest-"+uuid.NewString())
		t.Cleanup(func() { local.ClearForLogout(ctx) })

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		want := make([]string, writers)
		for i := 0; i < writers; i++ {
			want[i] = "q" + strconv.Itoa(i)
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				errs <- local.FlagAnswered(ctx, "u1", id)
			}(want[i])
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		ids, err := local.AnsweredQuestions(ctx, "u1")
		require.NoError(t, err)
		assert.ElementsMatch(t, want, ids)
	})
}

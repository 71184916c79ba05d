package watch

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/warden/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *ledger.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPollForReview(t *testing.T) {
	ctx := context.Background()

	t.Run("returns once the review appears", func(t *testing.T) {
		client := newClient(t)
		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = client.PutReview(ctx, &ledger.Review{UserID: "101", ThreadID: "7101", Category: "tank"})
		}()

		r, err := PollForReview(ctx, client, "101", 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "7101", r.ThreadID)
	})

	t.Run("times out", func(t *testing.T) {
		client := newClient(t)
		_, err := PollForReview(ctx, client, "101", 500*time.Millisecond)
		assert.ErrorContains(t, err, "timeout waiting for review")
	})

	t.Run("context cancelled", func(t *testing.T) {
		client := newClient(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := PollForReview(cctx, client, "101", time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStream(t *testing.T) {
	for _, format := range []OutputFormat{OutputFormatDefault, OutputFormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			client := newClient(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sub, err := client.SubscribeEvents(ctx)
			require.NoError(t, err)
			defer sub.Close()

			out := &syncBuffer{}
			done := make(chan error, 1)
			go func() { done <- Stream(ctx, sub, format, out) }()

			require.NoError(t, client.PutReview(ctx, &ledger.Review{UserID: "101", ThreadID: "7101", Category: "tank"}))
			require.NoError(t, client.RemoveReview(ctx, "101"))

			require.Eventually(t, func() bool {
				return strings.Count(out.String(), "\n") == 2
			}, 2*time.Second, 20*time.Millisecond)

			cancel()
			require.NoError(t, <-done)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			if format == OutputFormatJSON {
				assert.Contains(t, lines[0], `"kind":"upserted"`)
				assert.Contains(t, lines[1], `"kind":"removed"`)
			} else {
				assert.Contains(t, lines[0], "review open: user=101 thread=7101 category=tank")
				assert.Contains(t, lines[1], "review removed: user=101")
			}
		})
	}
}

package idempotency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Build My   DAILY digest ", "build my daily digest"},
		{"build my daily digest", "build my daily digest"},
		{"A\tB\nC", "a b c"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalText(tt.in))
	}
}

func TestFingerprintMapStable(t *testing.T) {
	fields := map[string]interface{}{
		"prompt":  CanonicalText("Send me  TOP  Hacker News stories"),
		"notify":  false,
		"options": map[string]interface{}{"limit": 5, "channel": "novachat"},
	}

	fp1, err := FingerprintMap(fields)
	require.NoError(t, err)
	fp2, err := FingerprintMap(fields)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64, "BLAKE3-256 hex")
}

func TestFingerprintMapNormalizesWhitespaceAndCase(t *testing.T) {
	a, err := FingerprintMap(map[string]interface{}{
		"prompt": CanonicalText("Send me top Hacker News stories"),
		"notify": false,
	})
	require.NoError(t, err)

	b, err := FingerprintMap(map[string]interface{}{
		"prompt": CanonicalText("  send me   top hacker news STORIES "),
		"notify": false,
	})
	require.NoError(t, err)

	assert.Equal(t, a, b, "大小写和空白差异不产生新指纹")
}

func TestFingerprintMapDistinguishesContent(t *testing.T) {
	a, err := FingerprintMap(map[string]interface{}{"prompt": "daily digest", "notify": false})
	require.NoError(t, err)
	b, err := FingerprintMap(map[string]interface{}{"prompt": "weekly digest", "notify": false})
	require.NoError(t, err)
	c, err := FingerprintMap(map[string]interface{}{"prompt": "daily digest", "notify": true})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRegistryBeginFinish(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.Begin("fp-1"))
	assert.False(t, r.Begin("fp-1"), "同键在飞时拒绝")
	assert.True(t, r.Begin("fp-2"), "不同键互不影响")

	startedAt, ok := r.InFlight("fp-1")
	assert.True(t, ok)
	assert.False(t, startedAt.IsZero())
	assert.Equal(t, 2, r.Len())

	r.Finish("fp-1")
	_, ok = r.InFlight("fp-1")
	assert.False(t, ok)
	assert.True(t, r.Begin("fp-1"), "完成后同键可重新登记")
}

func TestRegistryConcurrentBeginSingleWinner(t *testing.T) {
	r := NewRegistry()

	const attempts = 50
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- r.Begin("same-fingerprint")
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for ok := range wins {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, r.Len())
}

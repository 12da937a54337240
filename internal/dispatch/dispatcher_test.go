package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/eleven-am/rentd/internal/adapters/allocator"
	"github.com/eleven-am/rentd/internal/adapters/expiry"
	"github.com/eleven-am/rentd/internal/adapters/registry"
	"github.com/eleven-am/rentd/internal/adapters/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, leaseDuration time.Duration) (*Dispatcher, *registry.MemoryClientRegistry) {
	t.Helper()

	store := memory.NewStore(nil)
	scheduler := expiry.NewScheduler(nil, nil)
	alloc := allocator.New(store, scheduler, leaseDuration, nil)
	scheduler.Bind(alloc)
	t.Cleanup(scheduler.Stop)

	reg := registry.NewMemoryClientRegistry(nil)
	return NewDispatcher(alloc, store, reg, nil), reg
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		line string
		verb string
		arg  string
	}{
		{"add::hello world", "add", "hello world"},
		{"ADD:: padded  ", "add", "padded"},
		{"rent", "rent", ""},
		{"STATUS", "status", ""},
		{"  rent  ", "rent", ""},
		{"add::", "add", ""},
	}
	for _, tc := range cases {
		verb, arg := ParseLine(tc.line)
		assert.Equal(t, tc.verb, verb, "line %q", tc.line)
		assert.Equal(t, tc.arg, arg, "line %q", tc.line)
	}
}

func TestDispatchAdd(t *testing.T) {
	d, _ := newTestDispatcher(t, time.Minute)
	ctx := context.Background()

	reply, ok := d.Dispatch(ctx, "client-a", "add::just do it")
	require.True(t, ok)
	require.Equal(t, "just do it\r\n", reply)

	reply, ok = d.Dispatch(ctx, "client-a", "add::just do it")
	require.True(t, ok)
	require.Equal(t, "error: slogan already exists\r\n", reply)
}

func TestDispatchRent(t *testing.T) {
	d, _ := newTestDispatcher(t, time.Minute)
	ctx := context.Background()

	_, ok := d.Dispatch(ctx, "client-a", "add::hello")
	require.True(t, ok)

	reply, ok := d.Dispatch(ctx, "client-a", "rent")
	require.True(t, ok)
	require.Equal(t, "OK: id:1 title:hello\r\n", reply)

	reply, _ = d.Dispatch(ctx, "client-a", "rent")
	require.Equal(t, "error: You can rent only one slogan per client\r\n", reply)

	reply, _ = d.Dispatch(ctx, "client-b", "rent")
	require.Equal(t, "error: Can't rent at this time\r\n", reply)
}

func TestDispatchUnknownVerbIsSilent(t *testing.T) {
	d, _ := newTestDispatcher(t, time.Minute)

	reply, ok := d.Dispatch(context.Background(), "client-a", "frobnicate::x")
	require.False(t, ok)
	require.Empty(t, reply)
}

func TestDispatchStatusListing(t *testing.T) {
	d, reg := newTestDispatcher(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, reg.Register("client-a", "127.0.0.1:50001"))

	d.Dispatch(ctx, "client-a", "add::hello")
	d.Dispatch(ctx, "client-a", "add::world")
	d.Dispatch(ctx, "client-a", "rent")

	reply, ok := d.Dispatch(ctx, "client-a", "status")
	require.True(t, ok)

	expected := "Slogans:\r\n" +
		"hello - rented by client-a\r\n" +
		"world - not rented\r\n" +
		"Clients:\r\n" +
		"127.0.0.1:50001:client-a\r\n" +
		"\r\n"
	require.Equal(t, expected, reply)
}

// End-to-end walk through the protocol: add, rent until exhaustion, wait out
// the lease, verify the pool recovers.
func TestDispatchRentExpiryScenario(t *testing.T) {
	const leaseDuration = 50 * time.Millisecond
	d, _ := newTestDispatcher(t, leaseDuration)
	ctx := context.Background()

	reply, _ := d.Dispatch(ctx, "client-a", "add::hello")
	require.Equal(t, "hello\r\n", reply)

	reply, _ = d.Dispatch(ctx, "client-a", "rent")
	require.Equal(t, "OK: id:1 title:hello\r\n", reply)

	reply, _ = d.Dispatch(ctx, "client-a", "rent")
	require.Equal(t, "error: You can rent only one slogan per client\r\n", reply)

	reply, _ = d.Dispatch(ctx, "client-b", "rent")
	require.Equal(t, "error: Can't rent at this time\r\n", reply)

	require.Eventually(t, func() bool {
		status, _ := d.Dispatch(ctx, "client-b", "status")
		return containsLine(status, "hello - not rented")
	}, time.Second, 10*time.Millisecond)

	reply, _ = d.Dispatch(ctx, "client-b", "rent")
	require.Equal(t, "OK: id:1 title:hello\r\n", reply)
}

func containsLine(block, line string) bool {
	for _, l := range splitLines(block) {
		if l == line {
			return true
		}
	}
	return false
}

func splitLines(block string) []string {
	var lines []string
	start := 0
	for i := 0; i+1 < len(block); i++ {
		if block[i] == '\r' && block[i+1] == '\n' {
			lines = append(lines, block[start:i])
			start = i + 2
		}
	}
	if start < len(block) {
		lines = append(lines, block[start:])
	}
	return lines
}

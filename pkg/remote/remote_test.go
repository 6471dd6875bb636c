package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func countingDial(n *atomic.Int32, conns *[]*fakeConn) DialFunc {
	return func(ctx context.Context) (io.Closer, error) {
		n.Add(1)
		c := &fakeConn{}
		*conns = append(*conns, c)
		return c, nil
	}
}

func TestPoolReusesConnection(t *testing.T) {
	pool := NewPool()
	var dials atomic.Int32
	var conns []*fakeConn

	lease, err := pool.Acquire(context.Background(), 1, countingDial(&dials, &conns))
	require.NoError(t, err)
	require.True(t, pool.InUse(1))
	lease.Release(false)
	lease.Release(false)
	require.False(t, pool.InUse(1))

	lease, err = pool.Acquire(context.Background(), 1, countingDial(&dials, &conns))
	require.NoError(t, err)
	lease.Release(true)

	require.Equal(t, int32(1), dials.Load())
	require.True(t, conns[0].closed.Load())

	lease, err = pool.Acquire(context.Background(), 1, countingDial(&dials, &conns))
	require.NoError(t, err)
	lease.Release(false)
	require.Equal(t, int32(2), dials.Load())
}

func TestPoolLeaseIsExclusive(t *testing.T) {
	pool := NewPool()
	var dials atomic.Int32
	var conns []*fakeConn

	lease, err := pool.Acquire(context.Background(), 7, countingDial(&dials, &conns))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, 7, countingDial(&dials, &conns))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// a different host is not blocked
	other, err := pool.Acquire(context.Background(), 8, countingDial(&dials, &conns))
	require.NoError(t, err)
	other.Release(false)

	acquired := make(chan struct{})
	go func() {
		l, err := pool.Acquire(context.Background(), 7, countingDial(&dials, &conns))
		if err == nil {
			l.Release(false)
		}
		close(acquired)
	}()

	lease.Release(false)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lease")
	}
}

func TestPoolDialFailureReleasesSlot(t *testing.T) {
	pool := NewPool()
	_, err := pool.Acquire(context.Background(), 3, func(ctx context.Context) (io.Closer, error) {
		return nil, errors.New("refused")
	})
	require.Error(t, err)
	require.False(t, pool.InUse(3))
}

func TestBuildCommand(t *testing.T) {
	cmd := BuildCommand("docker ps", "/opt/app dir", map[string]string{
		"B":        "it's",
		"A":        "1",
		"bad key;": "x",
	})
	require.Equal(t, `export A='1'; export B='it'\''s'; cd '/opt/app dir' && docker ps`, cmd)
	require.Equal(t, "uptime", BuildCommand("uptime", "", nil))
}

func TestRefResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key"), []byte("secret"), 0o600))
	t.Setenv("FLEET_TEST_SECRET", "pw")

	r := RefResolver{Dir: dir}
	ctx := context.Background()

	b, err := r.Resolve(ctx, "file:key")
	require.NoError(t, err)
	require.Equal(t, "secret", string(b))

	b, err = r.Resolve(ctx, "env:FLEET_TEST_SECRET")
	require.NoError(t, err)
	require.Equal(t, "pw", string(b))

	_, err = r.Resolve(ctx, "vault:x")
	require.Error(t, err)
	_, err = r.Resolve(ctx, "nocolon")
	require.Error(t, err)

	r.Vault = fakeVault{"ssh/web#private_key": "vaulted"}
	b, err = r.Resolve(ctx, "vault:ssh/web#private_key")
	require.NoError(t, err)
	require.Equal(t, "vaulted", string(b))
}

type fakeVault map[string]string

func (f fakeVault) Read(_ context.Context, ref string) ([]byte, error) {
	v, ok := f[ref]
	if !ok {
		return nil, fmt.Errorf("no secret at %s", ref)
	}
	return []byte(v), nil
}

func TestOutputCombined(t *testing.T) {
	require.Equal(t, "", (*Output)(nil).Combined())
	require.Equal(t, "a\nb", (&Output{Stdout: "a", Stderr: "b"}).Combined())
	require.Equal(t, "b", (&Output{Stderr: "b"}).Combined())
}

package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// block waits until release is closed or ctx is cancelled.
func block(release <-chan struct{}) Work[int, int] {
	return func(ctx context.Context, arg int) (int, error) {
		select {
		case <-release:
			return arg, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func double(ctx context.Context, arg int) (int, error) {
	return arg * 2, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	spawned  []string
	rejected []string
	released []string
}

func (o *recordingObserver) Spawned(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spawned = append(o.spawned, name)
}

func (o *recordingObserver) Rejected(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, name)
}

func (o *recordingObserver) Released(name string, how string, lifetime time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = append(o.released, name+":"+how)
}

func TestNew_Defaults(t *testing.T) {
	pool := New[int, int]()

	assert.Equal(t, DefaultMaxThreads, pool.Capacity())
	assert.Equal(t, 0, pool.ActiveCount())
	assert.Equal(t, DefaultMaxThreads, pool.FreeCount())
	assert.Empty(t, pool.Slots())
}

func TestNew_IgnoresNonPositiveCapacity(t *testing.T) {
	pool := New[int, int](WithCapacity(0))
	assert.Equal(t, DefaultMaxThreads, pool.Capacity())
}

func TestSpawn_CountsForEveryN(t *testing.T) {
	const capacity = 5
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(capacity))

	for n := 0; n <= capacity; n++ {
		assert.Equal(t, n, pool.ActiveCount(), "after %d spawns", n)
		assert.Equal(t, capacity-n, pool.FreeCount(), "after %d spawns", n)
		if n == capacity {
			break
		}
		_, err := pool.Spawn(fmt.Sprintf("w%d", n), block(release), n)
		require.NoError(t, err)
	}
}

func TestSpawn_FullPoolRejects(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	observer := &recordingObserver{}
	pool := New[int, int](WithCapacity(2), WithObserver(observer))

	_, err := pool.Spawn("a", block(release), 1)
	require.NoError(t, err)
	_, err = pool.Spawn("b", block(release), 2)
	require.NoError(t, err)

	h, err := pool.Spawn("c", block(release), 3)
	assert.ErrorIs(t, err, ErrMaxThreadsReached)
	assert.Equal(t, ErrorMaxThreadsReached, CodeOf(err))
	assert.True(t, h.IsZero())
	assert.Equal(t, 2, pool.ActiveCount())
	assert.Equal(t, []string{"c"}, observer.rejected)
}

func TestSpawn_LowestFreeIndexWins(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(3))
	a, _ := pool.Spawn("a", block(release), 0)
	b, _ := pool.Spawn("b", block(release), 0)
	c, _ := pool.Spawn("c", block(release), 0)
	assert.Equal(t, []int{0, 1, 2}, []int{a.Index(), b.Index(), c.Index()})

	require.NoError(t, pool.Cancel(b))
	d, err := pool.Spawn("d", block(release), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Index())
}

func TestSpawn_NilWork(t *testing.T) {
	pool := New[int, int](WithCapacity(1))

	_, err := pool.Spawn("nil", nil, 0)
	assert.ErrorIs(t, err, ErrNilWork)
	assert.Equal(t, 0, pool.ActiveCount())
}

func TestFindByName(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(3))
	spawned, err := pool.Spawn("worker", block(release), 1)
	require.NoError(t, err)

	found, ok := pool.FindByName("worker")
	require.True(t, ok)
	assert.Equal(t, spawned, found)

	_, ok = pool.FindByName("never-spawned")
	assert.False(t, ok)
	_, ok = pool.FindByName("")
	assert.False(t, ok)

	require.NoError(t, pool.Detach(found))
	_, ok = pool.FindByName("worker")
	assert.False(t, ok, "released workers must not resolve")
}

func TestFindByName_DuplicateNamesResolveLowestIndex(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(3))
	first, _ := pool.Spawn("dup", block(release), 1)
	second, _ := pool.Spawn("dup", block(release), 2)

	h, ok := pool.FindByName("dup")
	require.True(t, ok)
	assert.Equal(t, first, h)

	require.NoError(t, pool.Cancel(first))
	h, ok = pool.FindByName("dup")
	require.True(t, ok)
	assert.Equal(t, second, h)
}

func TestJoin_ReturnsResultAndReleases(t *testing.T) {
	observer := &recordingObserver{}
	pool := New[int, int](WithCapacity(2), WithObserver(observer))
	before := pool.ActiveCount()

	h, err := pool.Spawn("double", double, 21)
	require.NoError(t, err)

	res, err := pool.Join(h)
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, before, pool.ActiveCount())

	_, ok := pool.FindByName("double")
	assert.False(t, ok)
	assert.Equal(t, []string{"double"}, observer.spawned)
	assert.Equal(t, []string{"double:join"}, observer.released)
}

func TestJoin_ReturnsWorkError(t *testing.T) {
	boom := errors.New("boom")
	pool := New[int, int](WithCapacity(1))

	h, _ := pool.Spawn("fail", func(ctx context.Context, arg int) (int, error) {
		return 0, boom
	}, 0)

	_, err := pool.Join(h)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pool.ActiveCount())
}

func TestJoin_PanicBecomesError(t *testing.T) {
	pool := New[int, int](WithCapacity(1))

	h, _ := pool.Spawn("panic", func(ctx context.Context, arg int) (int, error) {
		panic("bad worker")
	}, 0)

	_, err := pool.Join(h)
	assert.ErrorIs(t, err, ErrWorkPanicked)
	assert.Equal(t, 1, pool.FreeCount())
}

func TestJoin_KeepsSlotUntilWorkerReturns(t *testing.T) {
	release := make(chan struct{})
	pool := New[int, int](WithCapacity(1))
	h, _ := pool.Spawn("slow", block(release), 7)

	joined := make(chan int, 1)
	go func() {
		res, _ := pool.Join(h)
		joined <- res
	}()

	require.Eventually(t, func() bool {
		slots := pool.Slots()
		return len(slots) == 1 && slots[0].Terminating
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, pool.ActiveCount())
	_, err := pool.Spawn("other", double, 1)
	assert.ErrorIs(t, err, ErrMaxThreadsReached, "the slot is still held while joining")
	assert.ErrorIs(t, pool.Cancel(h), ErrInvalidHandle, "a second terminal op must not steal the slot")

	close(release)
	select {
	case res := <-joined:
		assert.Equal(t, 7, res)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Join")
	}
	assert.Equal(t, 0, pool.ActiveCount())
}

func TestDetach_ReleasesWithoutWaiting(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	pool := New[int, int](WithCapacity(1))

	h, _ := pool.Spawn("bg", func(ctx context.Context, arg int) (int, error) {
		defer close(finished)
		<-release
		return arg, nil
	}, 1)

	require.NoError(t, pool.Detach(h))
	assert.Equal(t, 0, pool.ActiveCount())
	assert.Equal(t, 1, pool.FreeCount())

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("detached worker never finished")
	}
}

func TestCancel_ReleasesAndCancelsContext(t *testing.T) {
	stopped := make(chan error, 1)
	pool := New[int, int](WithCapacity(1))

	h, _ := pool.Spawn("loop", func(ctx context.Context, arg int) (int, error) {
		<-ctx.Done()
		stopped <- ctx.Err()
		return 0, ctx.Err()
	}, 0)

	require.NoError(t, pool.Cancel(h))
	assert.Equal(t, 0, pool.ActiveCount())

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled worker never saw its context end")
	}
}

func TestTerminalOpsAreIdempotent(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(3))
	joined, _ := pool.Spawn("j", double, 1)
	detached, _ := pool.Spawn("d", block(release), 1)
	cancelled, _ := pool.Spawn("c", block(release), 1)

	_, err := pool.Join(joined)
	require.NoError(t, err)
	require.NoError(t, pool.Detach(detached))
	require.NoError(t, pool.Cancel(cancelled))
	assert.Equal(t, 0, pool.ActiveCount())

	for _, h := range []Handle{joined, detached, cancelled} {
		for i := 0; i < 2; i++ {
			_, err := pool.Join(h)
			assert.ErrorIs(t, err, ErrInvalidHandle)
			assert.ErrorIs(t, pool.Detach(h), ErrInvalidHandle)
			assert.ErrorIs(t, pool.Cancel(h), ErrInvalidHandle)
		}
	}
	assert.Equal(t, 0, pool.ActiveCount())
	assert.Equal(t, 3, pool.FreeCount())
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(1))
	old, _ := pool.Spawn("same", block(release), 1)
	require.NoError(t, pool.Cancel(old))

	current, err := pool.Spawn("same", block(release), 2)
	require.NoError(t, err)
	assert.Equal(t, old.Index(), current.Index())
	assert.NotEqual(t, old, current)

	assert.ErrorIs(t, pool.Cancel(old), ErrInvalidHandle)
	assert.Equal(t, 1, pool.ActiveCount(), "a stale handle must not release the new occupant")
}

func TestForeignHandleIsInvalid(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	a := New[int, int](WithCapacity(1))
	b := New[int, int](WithCapacity(1))

	ha, err := a.Spawn("x", block(release), 1)
	require.NoError(t, err)
	hb, err := b.Spawn("y", block(release), 2)
	require.NoError(t, err)
	assert.Equal(t, ha.Index(), hb.Index())
	assert.Equal(t, ha.Generation(), hb.Generation())
	assert.NotEqual(t, ha, hb)

	assert.ErrorIs(t, b.Cancel(ha), ErrInvalidHandle)
	assert.ErrorIs(t, b.Detach(ha), ErrInvalidHandle)
	_, err = b.Join(ha)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	assert.Equal(t, 1, b.ActiveCount())
	found, ok := b.FindByName("y")
	require.True(t, ok)
	assert.Equal(t, hb, found)

	// The handle still works on the pool that issued it.
	require.NoError(t, a.Cancel(ha))
	assert.Equal(t, 0, a.ActiveCount())
}

func TestFindByName_SkipsWorkersBeingJoined(t *testing.T) {
	release := make(chan struct{})
	pool := New[int, int](WithCapacity(2))
	first, _ := pool.Spawn("dup", block(release), 1)
	second, _ := pool.Spawn("dup", block(release), 2)

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		_, _ = pool.Join(first)
	}()

	require.Eventually(t, func() bool {
		h, ok := pool.FindByName("dup")
		return ok && h == second
	}, time.Second, time.Millisecond)

	close(release)
	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Join")
	}
	_, err := pool.JoinByName("dup")
	require.NoError(t, err)
	_, ok := pool.FindByName("dup")
	assert.False(t, ok)
}

func TestZeroHandleIsInvalid(t *testing.T) {
	pool := New[int, int](WithCapacity(1))
	_, _ = pool.Spawn("a", double, 1)

	_, err := pool.Join(Handle{})
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, pool.Detach(Handle{}), ErrInvalidHandle)
	assert.ErrorIs(t, pool.Cancel(Handle{}), ErrInvalidHandle)
}

// Capacity 2: a and b fit, c is rejected, joining a makes room for c.
func TestScenario_CapacityTwo(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(2))

	_, err := pool.Spawn("a", double, 5)
	assert.Equal(t, ErrorNone, CodeOf(err))
	_, err = pool.Spawn("b", block(release), 6)
	assert.Equal(t, ErrorNone, CodeOf(err))
	_, err = pool.Spawn("c", double, 7)
	assert.Equal(t, ErrorMaxThreadsReached, CodeOf(err))

	h, ok := pool.FindByName("a")
	require.True(t, ok)
	res, err := pool.Join(h)
	require.NoError(t, err)
	assert.Equal(t, 10, res)

	_, err = pool.Spawn("c", double, 7)
	assert.Equal(t, ErrorNone, CodeOf(err))
}

func TestByNameHelpers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(3))
	_, _ = pool.Spawn("join", double, 4)
	_, _ = pool.Spawn("detach", block(release), 0)
	_, _ = pool.Spawn("cancel", block(release), 0)

	res, err := pool.JoinByName("join")
	require.NoError(t, err)
	assert.Equal(t, 8, res)
	require.NoError(t, pool.DetachByName("detach"))
	require.NoError(t, pool.CancelByName("cancel"))
	assert.Equal(t, 0, pool.ActiveCount())

	_, err = pool.JoinByName("join")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, pool.DetachByName("missing"), ErrNotFound)
	assert.ErrorIs(t, pool.CancelByName("missing"), ErrNotFound)
}

func TestSpawnWait_UnblocksOnRelease(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(1))
	first, _ := pool.Spawn("first", block(release), 0)

	spawned := make(chan Handle, 1)
	go func() {
		h, err := pool.SpawnWait(context.Background(), "second", double, 3)
		if err == nil {
			spawned <- h
		}
	}()

	select {
	case <-spawned:
		t.Fatal("SpawnWait returned while the pool was full")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, pool.Cancel(first))

	select {
	case h := <-spawned:
		res, err := pool.Join(h)
		require.NoError(t, err)
		assert.Equal(t, 6, res)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SpawnWait")
	}
}

func TestSpawnWait_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(1))
	_, _ = pool.Spawn("first", block(release), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := pool.SpawnWait(ctx, "second", double, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, pool.ActiveCount())
}

func TestShutdown_CancelsAndCollectsErrors(t *testing.T) {
	cleanup := errors.New("cleanup failed")
	observer := &recordingObserver{}
	pool := New[int, int](WithCapacity(3), WithObserver(observer))

	quiet := func(ctx context.Context, arg int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	noisy := func(ctx context.Context, arg int) (int, error) {
		<-ctx.Done()
		return 0, cleanup
	}
	_, _ = pool.Spawn("quiet", quiet, 0)
	_, _ = pool.Spawn("noisy", noisy, 0)

	err := pool.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cleanup)
	assert.Contains(t, err.Error(), `worker "noisy"`)
	assert.NotContains(t, err.Error(), `worker "quiet"`)
	assert.Equal(t, 0, pool.ActiveCount())
	assert.ElementsMatch(t, []string{"quiet:shutdown", "noisy:shutdown"}, observer.released)

	// The pool can be used again.
	h, err := pool.Spawn("after", double, 1)
	require.NoError(t, err)
	res, err := pool.Join(h)
	require.NoError(t, err)
	assert.Equal(t, 2, res)
}

func TestShutdown_ContextExpires(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := New[int, int](WithCapacity(2))
	stubborn := func(ctx context.Context, arg int) (int, error) {
		<-release
		return 0, nil
	}
	_, _ = pool.Spawn("stubborn", stubborn, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, pool.ActiveCount())
}

func TestShutdown_Empty(t *testing.T) {
	pool := New[int, int](WithCapacity(2))
	assert.NoError(t, pool.Shutdown(context.Background()))
}

func TestWithContext_CancelsWorkers(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	pool := New[int, int](WithCapacity(1), WithContext(parent))

	h, _ := pool.Spawn("child", func(ctx context.Context, arg int) (int, error) {
		<-ctx.Done()
		return -1, ctx.Err()
	}, 0)

	cancel()
	res, err := pool.Join(h)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, res)
}

func TestNilPool(t *testing.T) {
	var pool *Pool[int, int]

	_, err := pool.Spawn("a", double, 1)
	assert.ErrorIs(t, err, ErrNilPool)
	_, err = pool.SpawnWait(context.Background(), "a", double, 1)
	assert.ErrorIs(t, err, ErrNilPool)

	_, ok := pool.FindByName("a")
	assert.False(t, ok)
	_, err = pool.Join(Handle{})
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, pool.Detach(Handle{}), ErrInvalidHandle)
	assert.ErrorIs(t, pool.Cancel(Handle{}), ErrInvalidHandle)

	assert.Equal(t, 0, pool.ActiveCount())
	assert.Equal(t, 0, pool.FreeCount())
	assert.Equal(t, 0, pool.Capacity())
	assert.Nil(t, pool.Slots())
	assert.NoError(t, pool.Shutdown(context.Background()))
}

func TestConcurrentSpawnAndJoin(t *testing.T) {
	const capacity = 4
	pool := New[int, int](WithCapacity(capacity))

	var wg sync.WaitGroup
	var mu sync.Mutex
	sum := 0

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := pool.SpawnWait(context.Background(), fmt.Sprintf("w%d", i), double, i)
			if err != nil {
				t.Errorf("SpawnWait: %v", err)
				return
			}
			res, err := pool.Join(h)
			if err != nil {
				t.Errorf("Join: %v", err)
				return
			}
			mu.Lock()
			sum += res
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// 2 * (0 + 1 + ... + 63)
	assert.Equal(t, 2*63*64/2, sum)
	assert.Equal(t, 0, pool.ActiveCount())
	assert.Equal(t, capacity, pool.FreeCount())
}

package capture

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestFrameKeepsNewest(t *testing.T) {
	l := NewLatestFrame()
	_, ok := l.Latest()
	assert.False(t, ok)

	a := image.NewRGBA(image.Rect(0, 0, 2, 2))
	b := image.NewRGBA(image.Rect(0, 0, 4, 4))
	assert.Equal(t, 1, l.Publish(a, time.Now()))
	assert.Equal(t, 2, l.Publish(b, time.Now()))

	f, ok := l.Latest()
	require.True(t, ok)
	assert.Same(t, b, f.Image)
	assert.Equal(t, 2, f.Index)
}

func TestLatestFrameWait(t *testing.T) {
	l := NewLatestFrame()
	ctx := context.Background()

	_, ok := l.Wait(ctx, 0, 10*time.Millisecond)
	assert.False(t, ok, "nothing published yet")

	go func() {
		time.Sleep(5 * time.Millisecond)
		l.Publish(image.NewRGBA(image.Rect(0, 0, 1, 1)), time.Now())
	}()
	f, ok := l.Wait(ctx, 0, time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, f.Index)

	// already consumed
	_, ok = l.Wait(ctx, 1, 10*time.Millisecond)
	assert.False(t, ok)
}

func TestLatestFrameWaitHonoursContext(t *testing.T) {
	l := NewLatestFrame()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, ok := l.Wait(ctx, 0, time.Minute)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

// fakeCamera yields n frames then blocks until closed.
type fakeCamera struct {
	mu      sync.Mutex
	n       int
	openErr error
	readErr error
	closed  chan struct{}
	once    sync.Once
}

func newFakeCamera(n int) *fakeCamera {
	return &fakeCamera{n: n, closed: make(chan struct{})}
}

func (c *fakeCamera) Open(context.Context) error { return c.openErr }
func (c *fakeCamera) Size() (int, int)           { return 8, 8 }

func (c *fakeCamera) Read() (*image.RGBA, error) {
	c.mu.Lock()
	if c.n > 0 {
		c.n--
		c.mu.Unlock()
		return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
	}
	err := c.readErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	<-c.closed
	return nil, ErrClosed
}

func (c *fakeCamera) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestProducerPublishesAndStops(t *testing.T) {
	cam := newFakeCamera(3)
	slot := NewLatestFrame()
	p := NewProducer(cam, slot)

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, StateConnected, p.State())

	var f = waitIndex(t, slot, 3)
	assert.Equal(t, 3, f)

	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop")
	}
	assert.Equal(t, StateDisconnected, p.State())
	assert.NoError(t, p.Err())
}

func TestProducerOpenFailure(t *testing.T) {
	cam := newFakeCamera(0)
	cam.openErr = errors.New("no such device")
	p := NewProducer(cam, NewLatestFrame())

	assert.Error(t, p.Start(context.Background()))
	assert.Equal(t, StateError, p.State())
	p.Stop() // no-op
}

func TestProducerReadFailure(t *testing.T) {
	cam := newFakeCamera(1)
	cam.readErr = errors.New("unplugged")
	p := NewProducer(cam, NewLatestFrame())

	require.NoError(t, p.Start(context.Background()))
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("producer should exit on read error")
	}
	assert.Equal(t, StateError, p.State())
	assert.EqualError(t, p.Err(), "unplugged")
	p.Stop()
}

func waitIndex(t *testing.T, slot *LatestFrame, want int) int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f, ok := slot.Latest(); ok && f.Index >= want {
			return f.Index
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("frame %d never published", want)
	return 0
}

func TestEnumerateStopsAtFirstMissingIndex(t *testing.T) {
	dev := t.TempDir()
	sys := t.TempDir()
	for _, n := range []string{"video0", "video1", "video3"} {
		require.NoError(t, os.WriteFile(filepath.Join(dev, n), nil, 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(sys, "video0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sys, "video0", "name"), []byte("Integrated Webcam\n"), 0o644))

	e := Enumerator{
		DevDir: dev,
		SysDir: sys,
		Probe: func(_ context.Context, path string) (int, int, error) {
			if filepath.Base(path) == "video1" {
				return 0, 0, errors.New("metadata node")
			}
			return 1280, 720, nil
		},
	}

	devices := e.Enumerate(context.Background(), 10)
	require.Len(t, devices, 1)
	assert.Equal(t, DeviceInfo{Index: 0, Path: filepath.Join(dev, "video0"), Name: "Integrated Webcam", Width: 1280, Height: 720}, devices[0])
}

func TestSourceIsDevice(t *testing.T) {
	assert.True(t, Source{Device: DevicePath(2)}.IsDevice())
	assert.False(t, Source{Device: "clip.mp4"}.IsDevice())
}

func TestFFmpegCameraReadBeforeOpen(t *testing.T) {
	_, err := NewFFmpegCamera(Source{Device: "clip.mp4"}).Read()
	assert.ErrorIs(t, err, ErrNotOpen)
}

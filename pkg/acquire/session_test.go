package acquire

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gorc/pkg/config"
	"github.com/itohio/gorc/pkg/meter"
	"github.com/itohio/gorc/pkg/picoscope"
)

// shortReader drops the last byte of every transfer.
type shortReader struct {
	*picoscope.Mock
}

func (s shortReader) Transfer(count uint32) ([]byte, error) {
	raw, err := s.Mock.Transfer(count)
	if err != nil {
		return nil, err
	}
	return raw[:len(raw)-1], nil
}

// noReady hides the ready signal of the wrapped mock.
type noReady struct {
	m *picoscope.Mock
}

func (n noReady) WriteBlock(ep picoscope.Endpoint, payload []byte) error {
	return n.m.WriteBlock(ep, payload)
}
func (n noReady) High() error                           { return n.m.High() }
func (n noReady) Low() error                            { return n.m.Low() }
func (n noReady) Transfer(count uint32) ([]byte, error) { return n.m.Transfer(count) }
func (n noReady) Close() error                          { return n.m.Close() }

// unwiredReady reports no ready line and fails the test if waited on.
type unwiredReady struct {
	*picoscope.Mock
	t *testing.T
}

func (u unwiredReady) HasReady() bool { return false }

func (u unwiredReady) WaitReady(ctx context.Context, timeout time.Duration) (bool, error) {
	u.t.Error("WaitReady called without a ready line")
	return false, nil
}

type fixedEcho struct {
	probe, drive picoscope.Block
	sent         int
}

func (e fixedEcho) ArmEcho() (probe, drive picoscope.Block, ok bool) {
	return e.probe, e.drive, true
}

func (e fixedEcho) Sent() int {
	return e.sent
}

// captureLog redirects the standard logger for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

var (
	testStimulus = Stimulus{Delay: 0, High: 10000, Low: 10000}
	testTiming   = Timing{Delay: 0, High: 20, Low: 20, Points: 5000}
	testOptions  = Options{Pulse: time.Millisecond, Margin: 10 * time.Millisecond}
)

func newTestSession(t *testing.T, dev picoscope.Device) *Session {
	t.Helper()
	s, err := Open(dev, testStimulus, testTiming, testOptions)
	require.NoError(t, err)
	return s
}

func TestOpen_Invalid(t *testing.T) {
	dev := picoscope.NewMock(nil)

	_, err := Open(dev, testStimulus, Timing{High: 20, Low: 20}, Options{})
	assert.True(t, errors.Is(err, ErrTiming))

	_, err = Open(dev, Stimulus{}, testTiming, Options{})
	assert.True(t, errors.Is(err, ErrTiming))

	s, err := Open(dev, testStimulus, testTiming, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPulse, s.opts.Pulse)
	assert.Equal(t, DefaultMargin, s.opts.Margin)
	assert.Equal(t, 20, s.SegmentCount())
}

func TestSession_Run(t *testing.T) {
	dev := picoscope.NewMock(nil)
	s := newTestSession(t, dev)
	defer s.Close()

	points, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, points, int(testTiming.Points))

	assert.Equal(t, []picoscope.Endpoint{picoscope.Probe, picoscope.Drive, picoscope.Arm}, dev.Writes())
	probe, drive, ok := dev.Blocks()
	require.True(t, ok)
	assert.Equal(t, testTiming.Block(), probe)
	assert.Equal(t, testStimulus.Block(), drive)

	for _, p := range points {
		assert.True(t, p.V >= 0 && p.V <= 1)
	}

	m, err := meter.New(&config.Default().Fit, meter.Options{})
	require.NoError(t, err)
	est, err := m.Analyze(context.Background(), points, s.SegmentCount())
	require.NoError(t, err)
	assert.Equal(t, 20, est.N)
	assert.InEpsilon(t, 1e-2, est.Mean, 0.05)
}

func TestSession_RepeatedRuns(t *testing.T) {
	dev := picoscope.NewMock(nil)
	s := newTestSession(t, dev)
	defer s.Close()

	for i := 0; i < 2; i++ {
		_, err := s.Run(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, dev.Writes(), 6)
}

func TestSession_Timestamps(t *testing.T) {
	dev := picoscope.NewMock(nil)
	s, err := Open(dev, Stimulus{High: 100, Low: 100}, Timing{High: 10, Low: 10, Points: 5}, testOptions)
	require.NoError(t, err)
	defer s.Close()

	points, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 5)

	for i, want := range []float64{10e-6, 30e-6, 50e-6, 70e-6, 90e-6} {
		assert.InDelta(t, want, points[i].T, 1e-12)
	}
}

func TestSession_Sequence(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, picoscope.NewMock(nil))
	defer s.Close()

	assert.True(t, errors.Is(s.Arm(ctx), ErrSequence))
	assert.True(t, errors.Is(s.TriggerAndWait(ctx), ErrSequence))
	_, err := s.Capture(ctx)
	assert.True(t, errors.Is(err, ErrSequence))

	require.NoError(t, s.Configure(ctx))
	assert.True(t, errors.Is(s.TriggerAndWait(ctx), ErrSequence))
	require.NoError(t, s.Arm(ctx))
	_, err = s.Capture(ctx)
	assert.True(t, errors.Is(err, ErrSequence))
	require.NoError(t, s.TriggerAndWait(ctx))
	_, err = s.Capture(ctx)
	require.NoError(t, err)

	// A completed capture starts over from Configure.
	_, err = s.Capture(ctx)
	assert.True(t, errors.Is(err, ErrSequence))
}

func TestSession_TransportFaults(t *testing.T) {
	nack := errors.New("nack")

	for _, ep := range []picoscope.Endpoint{picoscope.Probe, picoscope.Drive, picoscope.Arm} {
		t.Run(ep.String(), func(t *testing.T) {
			dev := picoscope.NewMock(nil)
			dev.FailEndpoint(ep, nack)
			s := newTestSession(t, dev)
			defer s.Close()

			_, err := s.Run(context.Background())
			assert.True(t, errors.Is(err, picoscope.ErrTransport))
			assert.True(t, errors.Is(err, nack))

			// The session is back to idle.
			assert.True(t, errors.Is(s.Arm(context.Background()), ErrSequence))
		})
	}

	t.Run("transfer", func(t *testing.T) {
		dev := picoscope.NewMock(nil)
		dev.FailTransfer(nack)
		s := newTestSession(t, dev)
		defer s.Close()

		_, err := s.Run(context.Background())
		assert.True(t, errors.Is(err, picoscope.ErrTransport))
		assert.True(t, errors.Is(err, nack))
	})

	t.Run("short transfer", func(t *testing.T) {
		s := newTestSession(t, shortReader{picoscope.NewMock(nil)})
		defer s.Close()

		_, err := s.Run(context.Background())
		assert.True(t, errors.Is(err, picoscope.ErrTransport))
	})
}

func TestSession_NoReadySignal(t *testing.T) {
	tm := Timing{High: 20, Low: 20, Points: 500}
	s, err := Open(noReady{picoscope.NewMock(nil)}, testStimulus, tm, testOptions)
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	points, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, points, 500)
	assert.GreaterOrEqual(t, time.Since(start), SettleTime(tm, testOptions.Margin))
}

func TestSession_UnwiredReadyLine(t *testing.T) {
	logs := captureLog(t)

	tm := Timing{High: 20, Low: 20, Points: 500}
	s, err := Open(unwiredReady{Mock: picoscope.NewMock(nil), t: t}, testStimulus, tm, testOptions)
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), SettleTime(tm, testOptions.Margin))
	assert.NotContains(t, logs.String(), "No ready signal")
}

func TestSession_Echo(t *testing.T) {
	sent := 2 * int(testTiming.Points)

	tests := []struct {
		name     string
		echo     fixedEcho
		warnings []string
	}{
		{
			name: "matching",
			echo: fixedEcho{probe: testTiming.Block(), drive: testStimulus.Block(), sent: sent},
		},
		{
			name: "no transfer reported yet",
			echo: fixedEcho{probe: testTiming.Block(), drive: testStimulus.Block()},
		},
		{
			name:     "blocks differ",
			echo:     fixedEcho{probe: picoscope.Block{High: 1}, drive: picoscope.Block{High: 2}, sent: sent},
			warnings: []string{"device armed with"},
		},
		{
			name:     "transfer size differs",
			echo:     fixedEcho{probe: testTiming.Block(), drive: testStimulus.Block(), sent: 64},
			warnings: []string{"reported sending 64 bytes, expected 10000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLog(t)

			opts := testOptions
			opts.Echo = tt.echo
			s, err := Open(picoscope.NewMock(nil), testStimulus, testTiming, opts)
			require.NoError(t, err)
			defer s.Close()

			// Mismatches are only reported.
			_, err = s.Run(context.Background())
			require.NoError(t, err)

			if len(tt.warnings) == 0 {
				assert.NotContains(t, logs.String(), "Warning")
			}
			for _, w := range tt.warnings {
				assert.Contains(t, logs.String(), w)
			}
		})
	}
}

func TestSession_Cancelled(t *testing.T) {
	s := newTestSession(t, picoscope.NewMock(nil))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSession_CancelledWhileWaiting(t *testing.T) {
	tm := Timing{High: 20, Low: 20, Points: 100000}
	s, err := Open(noReady{picoscope.NewMock(nil)}, testStimulus, tm, testOptions)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = s.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSession_Close(t *testing.T) {
	s := newTestSession(t, picoscope.NewMock(nil))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Run(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(s.Arm(context.Background()), ErrClosed))
}

package sequencer

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pressurecal/busx"
	"pressurecal/control"
	"pressurecal/learnstore"
	"pressurecal/resultlog"
	"pressurecal/transport"
)

func init() {
	sampleWindowDuration = 200 * time.Millisecond
}

func TestGenerateSetpoints_MatchesSpecExample(t *testing.T) {
	got := GenerateSetpoints(100, []DUT{{Channel: 0, FS: 100}, {Channel: 1, FS: 10}})
	want := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	require.Equal(t, want, got)
}

func TestIsComplete(t *testing.T) {
	require.False(t, IsComplete(10, 10))
	require.False(t, IsComplete(10.5, 10))
	require.True(t, IsComplete(10.6, 10))
}

func TestPriorityTolerance_PicksTightestRelevantDUT(t *testing.T) {
	duts := []DUT{{Channel: 0, FS: 100}, {Channel: 1, FS: 10}}
	got := PriorityTolerance(5, 100, duts)
	require.InDelta(t, 10*0.005, got, 1e-9)
}

func TestPriorityTolerance_FallsBackToStandardWhenNoneRelevant(t *testing.T) {
	duts := []DUT{{Channel: 0, FS: 10}}
	got := PriorityTolerance(20, 100, duts)
	require.InDelta(t, 100*0.005, got, 1e-9)
}

func TestAnalyze_InsufficientData(t *testing.T) {
	diag := Analyze([]Sample{{Standard: 1, DUT: 1}, {Standard: 2, DUT: 2}}, 100)
	require.True(t, diag.InsufficientData)
	require.False(t, diag.Pass())
}

func TestAnalyze_PassingDUT(t *testing.T) {
	// S6: 11 points with dut = std + small noise, fs = 100.
	var samples []Sample
	noise := []float64{0.01, -0.02, 0.015, -0.01, 0.02, -0.015, 0.01, -0.01, 0.005, -0.005, 0}
	for i, n := range noise {
		std := float64(i) * 10
		samples = append(samples, Sample{Standard: std, DUT: std + n})
	}

	diag := Analyze(samples, 100)
	require.InDelta(t, 1, diag.Slope, 0.01)
	require.Less(t, math.Abs(diag.Intercept), 0.1)
	require.Less(t, diag.MaxResidual, 0.2)
	require.True(t, diag.Pass())
	require.Empty(t, diag.Suggestions())
}

func TestAnalyze_FailingDUT_ReportsReasons(t *testing.T) {
	var samples []Sample
	for i := 0; i <= 10; i++ {
		std := float64(i) * 10
		samples = append(samples, Sample{Standard: std, DUT: std*1.1 + 5})
	}

	diag := Analyze(samples, 100)
	require.False(t, diag.Pass())
	require.True(t, diag.ZeroOffsetSignificant)
	require.True(t, diag.SpanErrorSignificant)
	require.NotEmpty(t, diag.Suggestions())
}

func TestMeanOrNaN(t *testing.T) {
	require.True(t, math.IsNaN(meanOrNaN(nil)))
	require.InDelta(t, 2.0, meanOrNaN([]float64{1, 2, 3}), 1e-9)
}

// fakeDAQ implements daq.Reader with a fixed voltage per channel.
type fakeDAQ struct {
	mu       sync.Mutex
	voltages map[int]float64
}

func newFakeDAQ() *fakeDAQ { return &fakeDAQ{voltages: map[int]float64{}} }

func (f *fakeDAQ) Read(channel int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voltages[channel]
}
func (f *fakeDAQ) SelectChannel(channel int) error { return nil }
func (f *fakeDAQ) SetGain(gain float64) error      { return nil }
func (f *fakeDAQ) Close() error                    { return nil }

// fakeLink is a Link whose replies are chosen by matching the written
// command against a canned table, mirroring the control package's own
// test fake so the controller under test sees stable pressure/position
// readings without real hardware.
type fakeLink struct {
	mu      sync.Mutex
	replies map[string]string
	pending []byte
}

func newFakeLink() *fakeLink { return &fakeLink{replies: map[string]string{}} }

func (f *fakeLink) set(cmd, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = reply
}

func (f *fakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := strings.TrimSuffix(string(p), "\r")
	if reply, ok := f.replies[cmd]; ok {
		f.pending = []byte(reply + "\r")
	} else {
		f.pending = nil
	}
	return len(p), nil
}

func (f *fakeLink) ReadByte(timeout time.Duration) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, errNoReply
	}
	b := f.pending[0]
	f.pending = f.pending[1:]
	return b, nil
}

func (f *fakeLink) Close() error { return nil }

type noReplyErr struct{}

func (*noReplyErr) Error() string { return "fakeLink: no reply queued" }

var errNoReply = &noReplyErr{}

func newTestSequencer(t *testing.T, fs float64) (*Sequencer, *control.Controller, *fakeDAQ, *fakeLink, *fakeLink) {
	t.Helper()
	inletLink := newFakeLink()
	outletLink := newFakeLink()
	inletLink.set("R5", "50.0")  // 50% of FS -> pressure
	outletLink.set("R5", "0")
	inletLink.set("R6", "50.0")
	outletLink.set("R6", "28.0")

	inlet := transport.NewPort("inlet", inletLink)
	outlet := transport.NewPort("outlet", outletLink)
	bus := busx.NewBus(16)
	conn := bus.NewConnection("seq-test")
	c := control.NewController(inlet, outlet, conn, fs)

	daqReader := newFakeDAQ()
	store := learnstore.New(t.TempDir() + "/learned.yaml")
	results := resultlog.NewResultWriter(t.TempDir()+"/results.csv", 1)

	duts := []DUT{{Channel: 0, FS: 100}}
	seq := New(c, daqReader, store, results, conn, fs, duts)
	return seq, c, daqReader, inletLink, outletLink
}

func TestWaitForStability_ProceedsOnceStableAndWithinTolerance(t *testing.T) {
	seq, c, _, _, _ := newTestSequencer(t, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go c.RunPoller(ctx)

	err := seq.waitForStability(ctx, 50, seq.duts)
	require.NoError(t, err)
}

func TestWaitForStability_ReturnsOnEStop(t *testing.T) {
	seq, c, _, inletLink, _ := newTestSequencer(t, 100)
	inletLink.set("R5", "10.0") // far from sp=50, never stabilizes in tolerance

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go c.RunPoller(ctx)

	time.Sleep(50 * time.Millisecond)
	c.EStop()

	err := seq.waitForStability(ctx, 50, seq.duts)
	require.Error(t, err)
}

func TestSampleWindow_AccumulatesReadingsAndHoldsOutlet(t *testing.T) {
	seq, c, daqReader, _, _ := newTestSequencer(t, 100)
	daqReader.voltages[0] = 5.0 // -> 5.0 * (100/10) = 50 Torr

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.RunPoller(ctx)
	time.Sleep(250 * time.Millisecond)

	meanStandard, dutMeans, err := seq.sampleWindow(seq.duts)
	require.NoError(t, err)
	require.InDelta(t, 50, meanStandard, 1)
	require.InDelta(t, 50, dutMeans[0], 1e-9)
	require.False(t, c.State() == control.Measuring) // hold released: state left Measuring when sampleWindow returned
}

func TestActiveDUTs_PrunesCompleted(t *testing.T) {
	seq, _, _, _, _ := newTestSequencer(t, 100)
	seq.duts = []DUT{{Channel: 0, FS: 10}, {Channel: 1, FS: 100}}

	active := seq.activeDUTs(11)
	require.Len(t, active, 1)
	require.Equal(t, 1, active[0].Channel)
}

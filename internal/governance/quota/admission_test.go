package quota

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDecisions struct {
	decisions []Decision
}

func (r *recordingDecisions) AdmissionDecided(d Decision) {
	r.decisions = append(r.decisions, d)
}

func newTestAdmission(t *testing.T) (*Admission, *Tracker) {
	t.Helper()
	adm, tr, _ := newTestAdmissionWithClock(t)
	return adm, tr
}

func newTestAdmissionWithClock(t *testing.T) (*Admission, *Tracker, *clockwork.FakeClock) {
	t.Helper()
	tr, clock := newTestTracker(t, time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC))
	return NewAdmission(tr, testQuotaConfig()), tr, clock
}

func record(tr *Tracker, n int) {
	for i := 0; i < n; i++ {
		tr.RecordCall("chat", nil)
	}
}

func TestAdmission_OpenAdmitsEverything(t *testing.T) {
	adm, tr := newTestAdmission(t)
	record(tr, 74)

	for p := HighestPriority; p <= LowestPriority; p++ {
		assert.True(t, adm.CanMakeCall(p), "priority %d", p)
	}
	assert.Equal(t, TierOpen, adm.Decide(10).Tier)
}

func TestAdmission_ElevatedAdmitsUpToFive(t *testing.T) {
	adm, tr := newTestAdmission(t)
	record(tr, 75)

	assert.True(t, adm.CanMakeCall(5))
	assert.False(t, adm.CanMakeCall(6))
	assert.Equal(t, TierElevated, adm.Decide(6).Tier)
}

func TestAdmission_CriticalScenario(t *testing.T) {
	adm, tr := newTestAdmission(t)
	record(tr, 90)

	require.True(t, tr.Stats().IsCritical)
	assert.False(t, adm.CanMakeCall(5))
	assert.False(t, adm.CanMakeCall(3))
	assert.True(t, adm.CanMakeCall(2))
	assert.True(t, adm.CanMakeCall(1))
	assert.False(t, adm.ShouldUseFallback())

	record(tr, 10)
	assert.False(t, adm.CanMakeCall(1))
	assert.True(t, adm.ShouldUseFallback())
	assert.Equal(t, TierExhausted, adm.Decide(1).Tier)
}

func TestAdmission_DailyWindowAlsoGates(t *testing.T) {
	adm, tr, clock := newTestAdmissionWithClock(t)

	// 900 calls spread across nine hourly windows.
	for h := 0; h < 9; h++ {
		record(tr, 100)
		if h < 8 {
			clock.Advance(time.Hour)
		}
	}
	// Current hour is full; move on so only the daily window matters.
	clock.Advance(time.Hour)

	stats := tr.Stats()
	require.Equal(t, 0, stats.HourlyUsage)
	require.Equal(t, 900, stats.DailyUsage)
	assert.True(t, stats.IsCritical)
	assert.True(t, adm.CanMakeCall(2))
	assert.False(t, adm.CanMakeCall(3))
}

func TestAdmission_Monotonic(t *testing.T) {
	for _, calls := range []int{0, 50, 74, 75, 80, 89, 90, 95, 99, 100} {
		adm, tr := newTestAdmission(t)
		record(tr, calls)

		admitted := true
		for p := HighestPriority; p <= LowestPriority; p++ {
			ok := adm.CanMakeCall(p)
			if !admitted {
				assert.False(t, ok, "calls=%d: priority %d admitted after a lower priority was denied", calls, p)
			}
			admitted = ok
		}
	}
}

func TestAdmission_ClampsPriority(t *testing.T) {
	adm, tr := newTestAdmission(t)
	record(tr, 90)

	d := adm.Decide(0)
	assert.Equal(t, 1, d.Priority)
	assert.True(t, d.Allowed)

	d = adm.Decide(42)
	assert.Equal(t, 10, d.Priority)
	assert.False(t, d.Allowed)
}

func TestAdmission_DecisionCarriesStats(t *testing.T) {
	adm, tr := newTestAdmission(t)
	record(tr, 12)

	d := adm.Decide(3)
	assert.Equal(t, 12, d.Stats.HourlyUsage)
	assert.InDelta(t, 12.0, d.Stats.HourlyPercentage, 1e-9)
}

func TestAdmission_NotifiesObservers(t *testing.T) {
	adm, tr := newTestAdmission(t)
	obs := &recordingDecisions{}
	adm.AddObserver(obs)

	record(tr, 100)
	adm.CanMakeCall(1)

	require.Len(t, obs.decisions, 1)
	assert.False(t, obs.decisions[0].Allowed)
	assert.Equal(t, TierExhausted, obs.decisions[0].Tier)
}

func TestAdmission_ReserveHoldsLastSlotUnderConcurrency(t *testing.T) {
	adm, tr := newTestAdmission(t)
	record(tr, 99)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []*Reservation
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, res := adm.Reserve(1); d.Allowed {
				mu.Lock()
				granted = append(granted, res)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, granted, 1)
	assert.Equal(t, 1, tr.Pending())

	granted[0].Commit("chat", nil)
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, 100, tr.Stats().HourlyUsage)
	assert.False(t, adm.CanMakeCall(1))
}

func TestAdmission_ReleaseFreesSlotWithoutRecording(t *testing.T) {
	adm, tr := newTestAdmission(t)
	record(tr, 99)

	d, res := adm.Reserve(1)
	require.True(t, d.Allowed)
	require.NotNil(t, res)

	denied, none := adm.Reserve(1)
	assert.False(t, denied.Allowed)
	assert.Equal(t, TierExhausted, denied.Tier)
	assert.Nil(t, none)

	res.Release()
	res.Commit("chat", nil)
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, 99, tr.Stats().HourlyUsage, "commit after release is ignored")
	assert.True(t, adm.CanMakeCall(1))
}

func TestAdmission_PendingCallsShiftTier(t *testing.T) {
	adm, tr := newTestAdmission(t)
	record(tr, 74)

	_, res := adm.Reserve(8)
	require.NotNil(t, res)

	d := adm.Decide(6)
	assert.Equal(t, TierElevated, d.Tier)
	assert.False(t, d.Allowed)
	assert.Equal(t, 74, tr.Stats().HourlyUsage, "Stats reports recorded calls only")
}

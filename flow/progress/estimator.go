package progress

import (
	"sort"
	"time"
)

const defaultHistoryWindow = 50

// sample is one (elapsed, progress) observation for an active item.
type sample struct {
	Elapsed  time.Duration `json:"elapsed"`
	Progress float64       `json:"progress"`
}

// completionRecord remembers how long finished items of a kind took.
type completionRecord struct {
	TotalWork float64       `json:"total_work"`
	Duration  time.Duration `json:"actual_duration"`
}

// Estimator projects completion times from observed progress rates. It is
// not self-locking; the tracker's mutex guards all access.
type Estimator struct {
	window      int
	active      map[string][]sample
	completions map[Kind][]completionRecord
}

// NewEstimator creates an estimator keeping up to window samples per item.
func NewEstimator(window int) *Estimator {
	if window <= 0 {
		window = defaultHistoryWindow
	}
	return &Estimator{
		window:      window,
		active:      make(map[string][]sample),
		completions: make(map[Kind][]completionRecord),
	}
}

// record appends an observation for an item, trimming to the window.
func (e *Estimator) record(itemID string, elapsed time.Duration, progress float64) {
	samples := append(e.active[itemID], sample{Elapsed: elapsed, Progress: progress})
	if len(samples) > e.window {
		samples = samples[len(samples)-e.window:]
	}
	e.active[itemID] = samples
}

// estimate projects the completion time for an item at the given progress.
// It needs at least two samples with distinct progress; otherwise ok is
// false.
func (e *Estimator) estimate(itemID string, current float64, now time.Time) (time.Time, bool) {
	samples := e.active[itemID]
	if len(samples) < 2 || current >= 100 {
		return time.Time{}, false
	}

	// Per-interval progress rates in percent per second.
	var rates []float64
	for i := 1; i < len(samples); i++ {
		dp := samples[i].Progress - samples[i-1].Progress
		dt := (samples[i].Elapsed - samples[i-1].Elapsed).Seconds()
		if dp <= 0 || dt <= 0 {
			continue
		}
		rates = append(rates, dp/dt)
	}
	if len(rates) == 0 {
		return time.Time{}, false
	}
	sort.Float64s(rates)
	median := rates[len(rates)/2]
	if len(rates)%2 == 0 {
		median = (rates[len(rates)/2-1] + rates[len(rates)/2]) / 2
	}
	if median <= 0 {
		return time.Time{}, false
	}

	remaining := time.Duration((100 - current) / median * float64(time.Second))
	return now.Add(remaining), true
}

// recordCompletion feeds the per-kind history used for initial estimates.
func (e *Estimator) recordCompletion(kind Kind, totalWork float64, actual time.Duration) {
	records := append(e.completions[kind], completionRecord{TotalWork: totalWork, Duration: actual})
	if len(records) > e.window {
		records = records[len(records)-e.window:]
	}
	e.completions[kind] = records
}

// initialEstimate predicts a duration for a new item from completions of
// the same kind with comparable total work (half to double), scaling the
// average duration by the work ratio.
func (e *Estimator) initialEstimate(kind Kind, totalWork float64) (time.Duration, bool) {
	var durations time.Duration
	var work float64
	count := 0
	for _, rec := range e.completions[kind] {
		if totalWork > 0 && (rec.TotalWork < totalWork*0.5 || rec.TotalWork > totalWork*2) {
			continue
		}
		durations += rec.Duration
		work += rec.TotalWork
		count++
	}
	if count == 0 {
		return 0, false
	}
	avg := durations / time.Duration(count)
	if work > 0 && totalWork > 0 {
		avgWork := work / float64(count)
		avg = time.Duration(float64(avg) * totalWork / avgWork)
	}
	return avg, true
}

// drop forgets the active samples for an item.
func (e *Estimator) drop(itemID string) {
	delete(e.active, itemID)
}

// estimatorSnapshot is the serialized estimator section of a progress
// checkpoint.
type estimatorSnapshot struct {
	HistoryWindow     int                         `json:"history_window"`
	HistoricalData    map[Kind][]completionRecord `json:"historical_data"`
	ActiveEstimations map[string][]sample         `json:"active_estimations"`
}

func (e *Estimator) snapshot() estimatorSnapshot {
	return estimatorSnapshot{
		HistoryWindow:     e.window,
		HistoricalData:    e.completions,
		ActiveEstimations: e.active,
	}
}

func (e *Estimator) restore(snap estimatorSnapshot) {
	if snap.HistoryWindow > 0 {
		e.window = snap.HistoryWindow
	}
	if snap.HistoricalData != nil {
		e.completions = snap.HistoricalData
	}
	if snap.ActiveEstimations != nil {
		e.active = snap.ActiveEstimations
	}
}

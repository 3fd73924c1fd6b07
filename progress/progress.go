package progress

import (
	"kbmigrate/logger"
	"kbmigrate/server/objects"
	"math"
	"sync"
)

//Percent is the exact share of processed items. An empty transfer is at 0.
func Percent(processed int, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(processed) / float64(total)
}

//Display rounds a percentage to 2 decimals. Only for showing, never for decisions.
func Display(percent float64) float64 {
	return math.Round(percent*100) / 100
}

type Update struct {
	SessionId string             `json:"session_id"`
	Type      objects.ObjectType `json:"type"`
	Processed int                `json:"processed"`
	Total     int                `json:"total"`
	Failures  int                `json:"failures"`
}

func (u Update) Percent() float64 {
	return Display(Percent(u.Processed, u.Total))
}

type Reporter interface {
	Report(update Update)
}

type ReporterFunc func(update Update)

func (f ReporterFunc) Report(update Update) {
	f(update)
}

//LogReporter writes every update to the session log.
type LogReporter struct{}

func (LogReporter) Report(update Update) {
	logger.WithSession(update.SessionId).Infof("%s: %d of %d items (%.2f%%)", update.Type, update.Processed, update.Total, update.Percent())
}

//Recorder keeps every update it receives.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Report(update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *Recorder) Percents() []float64 {
	updates := r.Updates()
	percents := make([]float64, len(updates))
	for i, update := range updates {
		percents[i] = update.Percent()
	}
	return percents
}

//Multi reports to every reporter in order, skipping nils.
func Multi(reporters ...Reporter) Reporter {
	return ReporterFunc(func(update Update) {
		for _, reporter := range reporters {
			if reporter != nil {
				reporter.Report(update)
			}
		}
	})
}

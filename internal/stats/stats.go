package stats

import (
	"expvar"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// VarsName is the expvar map all counters are published under.
const VarsName = "slamtalk-stats"

// StatsProvider is the counter surface used by the gateway and the profile
// cache. Metrics must be registered before they are updated.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	log        zerolog.Logger
	vars       *expvar.Map
	updateChan chan metricsUpdate
}

type metricsUpdate struct {
	name  string
	delta int64
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(su.Snapshot()); err != nil {
		su.log.Error().Err(err).Msg("encode stats")
	}
}

// NewStatsUpdater creates the process-wide stats map and serves it at
// GET /debug/vars. It must only be called once per process.
func NewStatsUpdater(mux *http.ServeMux, logger zerolog.Logger) *StatsUpdater {
	su := &StatsUpdater{
		log:        logger.With().Str("component", "stats").Logger(),
		updateChan: make(chan metricsUpdate, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = expvar.NewMap(VarsName)
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric, ok := su.vars.Get(req.name).(*expvar.Int)
		if !ok {
			su.log.Warn().Str("metric", req.name).Msg("update of unregistered metric")
			continue
		}

		metric.Add(req.delta)
	}
}

// Snapshot returns the current value of every published variable.
func (su *StatsUpdater) Snapshot() map[string]any {
	out := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		switch v := kv.Value.(type) {
		case *expvar.Int:
			out[kv.Key] = v.Value()
		case expvar.Func:
			out[kv.Key] = v.Value()
		default:
			out[kv.Key] = kv.Value.String()
		}
	})
	return out
}

func (su *StatsUpdater) Incr(name string) {
	su.updateChan <- metricsUpdate{name: name, delta: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updateChan <- metricsUpdate{name: name, delta: -1}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}

package obs

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Build описывает запущенный бинарник.
type Build struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	GoVersion string    `json:"go_version"`
	StartedAt time.Time `json:"started_at"`
}

var (
	buildInfoOnce sync.Once
	current       atomic.Pointer[Build]

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Levra portal build information.",
		},
		[]string{"version", "commit", "goversion"},
	)
	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_start_time_seconds",
		Help: "Unix time the portal process started.",
	})
)

// InitBuildInfo запоминает сборку и выставляет build_info и время старта.
// Повторный вызов перезаписывает версию, но не время старта.
func InitBuildInfo(version, commit string) Build {
	b := Build{Version: version, Commit: commit, GoVersion: runtime.Version(), StartedAt: time.Now().UTC()}
	if prev := current.Load(); prev != nil {
		b.StartedAt = prev.StartedAt
	}
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo, startTime)
		startTime.Set(float64(b.StartedAt.Unix()))
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
	current.Store(&b)
	return b
}

// CurrentBuild возвращает сборку, записанную InitBuildInfo, или нулевое значение.
func CurrentBuild() Build {
	if b := current.Load(); b != nil {
		return *b
	}
	return Build{GoVersion: runtime.Version()}
}

package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo is a constant 1 labelled with the running version and the
	// asset pair the process was configured for.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tokendist_build_info",
			Help: "tokendist build and deployment information.",
		},
		[]string{"version", "token_asset", "native_asset"},
	)
)

// InitBuildInfo registers build_info once and sets the current labels.
func InitBuildInfo(version, tokenAsset, nativeAsset string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, tokenAsset, nativeAsset).Set(1)
}

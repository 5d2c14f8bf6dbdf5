package playback

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/eternallink/arlink/internal/playback"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

package verify

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/eternallink/arlink/internal/verify"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

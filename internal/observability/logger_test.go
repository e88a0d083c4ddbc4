package observability_test

import (
	"context"
	"testing"

	"github.com/dicomgw/gateway/internal/observability"
)

func TestStdLogger_ImplementsLogger(t *testing.T) {
	var l observability.Logger = observability.NewStdLogger()

	ctx := context.Background()
	l.LogInfo(ctx, "starting up", map[string]interface{}{"route": "RTE_A"})
	l.LogWarning(ctx, "slow query", map[string]interface{}{"ms": 1200})
	l.LogError(ctx, "query failed", map[string]interface{}{"err": "timeout"})
}

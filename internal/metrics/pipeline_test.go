package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterPipelineMetrics_Idempotent(t *testing.T) {
	RegisterPipelineMetrics()
	RegisterPipelineMetrics() // must not panic on duplicate registration

	InboundRejectedTotal.Inc()
	if got := testutil.ToFloat64(InboundRejectedTotal); got < 1 {
		t.Errorf("expected inbound_rejected_total >= 1, got %f", got)
	}
}

package services

import (
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// NoopMetrics discards every observation.
type NoopMetrics struct{}

var _ ports.MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordAuthDecision(string, string)                           {}
func (NoopMetrics) RecordGuardRejection(domain.RateScope)                       {}
func (NoopMetrics) RecordGuardStoreError(bool)                                  {}
func (NoopMetrics) RecordDeliveryAttempt(domain.DeliveryOutcome, time.Duration) {}
func (NoopMetrics) RecordDeliveryResult(domain.DeliveryOutcome)                 {}
func (NoopMetrics) RecordNotifierFailure(string)                                {}
func (NoopMetrics) RecordSessionStarted()                                       {}
func (NoopMetrics) RecordSessionEnded(time.Duration)                            {}

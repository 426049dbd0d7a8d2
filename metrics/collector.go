package metrics

// Collector wraps metrics and provides helper methods with pre-filled labels.
// A nil *Collector is valid and records nothing.
type Collector struct {
	environment string
}

// NewCollector creates a new Collector for the given environment, e.g. "dev" or "prod".
func NewCollector(environment string) *Collector {
	return &Collector{environment: environment}
}

// IncRegistryUpserts increments the upsert counter for a record kind.
func (c *Collector) IncRegistryUpserts(kind string) {
	if c == nil {
		return
	}
	RegistryUpsertsTotal.WithLabelValues(c.environment, kind).Inc()
}

// IncTrackerRegistrations increments the registered units counter for a layer.
func (c *Collector) IncTrackerRegistrations(layer string) {
	if c == nil {
		return
	}
	TrackerRegistrationsTotal.WithLabelValues(c.environment, layer).Inc()
}

// IncTrackerCompletions increments the processed units counter for a layer.
func (c *Collector) IncTrackerCompletions(layer string) {
	if c == nil {
		return
	}
	TrackerCompletionsTotal.WithLabelValues(c.environment, layer).Inc()
}

// IncCheckpointAdvances increments the watermark advances counter.
func (c *Collector) IncCheckpointAdvances() {
	if c == nil {
		return
	}
	CheckpointAdvancesTotal.WithLabelValues(c.environment).Inc()
}

// SetDispatchReadyItems sets the ready items gauge for a layer.
func (c *Collector) SetDispatchReadyItems(layer string, count int) {
	if c == nil {
		return
	}
	DispatchReadyItems.WithLabelValues(c.environment, layer).Set(float64(count))
}

// IncExecutions increments the executions counter. Outcome is "success" or "failure".
func (c *Collector) IncExecutions(layer, outcome string) {
	if c == nil {
		return
	}
	ExecutionsTotal.WithLabelValues(c.environment, layer, outcome).Inc()
}

// AddDiscoveredUnits adds n to the discovered units counter.
func (c *Collector) AddDiscoveredUnits(n int) {
	if c == nil {
		return
	}
	DiscoveredUnitsTotal.WithLabelValues(c.environment).Add(float64(n))
}

// IncAuditEvents increments the audit events counter.
func (c *Collector) IncAuditEvents(kind, logType string) {
	if c == nil {
		return
	}
	AuditEventsTotal.WithLabelValues(c.environment, kind, logType).Inc()
}

// IncAuditFailures increments the audit failures counter.
func (c *Collector) IncAuditFailures() {
	if c == nil {
		return
	}
	AuditFailuresTotal.WithLabelValues(c.environment).Inc()
}

// IncAuditDropped increments the dropped audit events counter.
func (c *Collector) IncAuditDropped() {
	if c == nil {
		return
	}
	AuditDroppedTotal.WithLabelValues(c.environment).Inc()
}

// IncTransferAttempts increments the transfer attempts counter for an operation.
func (c *Collector) IncTransferAttempts(operation string) {
	if c == nil {
		return
	}
	TransferAttemptsTotal.WithLabelValues(c.environment, operation).Inc()
}

// IncTransferRetries increments the transfer retries counter for an operation.
func (c *Collector) IncTransferRetries(operation string) {
	if c == nil {
		return
	}
	TransferRetriesTotal.WithLabelValues(c.environment, operation).Inc()
}

// IncTransferValidations increments the validations counter for a verdict.
func (c *Collector) IncTransferValidations(status string) {
	if c == nil {
		return
	}
	TransferValidationsTotal.WithLabelValues(c.environment, status).Inc()
}

// ObserveCycleDuration records a dispatch cycle duration observation.
func (c *Collector) ObserveCycleDuration(layer string, seconds float64) {
	if c == nil {
		return
	}
	CycleDuration.WithLabelValues(c.environment, layer).Observe(seconds)
}

// ObserveExecutionDuration records the duration of one work item.
func (c *Collector) ObserveExecutionDuration(layer string, seconds float64) {
	if c == nil {
		return
	}
	ExecutionDuration.WithLabelValues(c.environment, layer).Observe(seconds)
}

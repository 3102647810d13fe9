package metrics

// MultiSink fans events out to several sinks. Optional recorders are only
// invoked on sinks implementing them. The first error is returned.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordTick forwards tick events.
func (m *MultiSink) RecordTick(ev TickEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordTick(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordPredictionBatch forwards generation summaries.
func (m *MultiSink) RecordPredictionBatch(ev PredictionBatchEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(PredictionRecorder); ok {
			if err := rec.RecordPredictionBatch(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordValidation forwards validation outcomes.
func (m *MultiSink) RecordValidation(ev ValidationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ValidationRecorder); ok {
			if err := rec.RecordValidation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSimulation forwards simulation summaries.
func (m *MultiSink) RecordSimulation(ev SimulationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SimulationRecorder); ok {
			if err := rec.RecordSimulation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordVehicleState forwards vehicle snapshots.
func (m *MultiSink) RecordVehicleState(ev VehicleStateEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(VehicleStateRecorder); ok {
			if err := rec.RecordVehicleState(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordBroadcast forwards gateway statistics.
func (m *MultiSink) RecordBroadcast(ev BroadcastEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(BroadcastRecorder); ok {
			if err := rec.RecordBroadcast(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

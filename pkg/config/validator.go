package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator performs ordered, fail-fast validation of a Config: queue,
// machine pool, adapters, then thresholds, mirroring the teacher's
// validator.ValidateAll ordering.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// ValidateAll validates cfg, returning the first failure encountered.
func (vl *Validator) ValidateAll(cfg *Config) error {
	if err := vl.validateQueue(&cfg.Queue); err != nil {
		return err
	}
	if err := vl.validateMachine(&cfg.Machine); err != nil {
		return err
	}
	if err := vl.validateAdapters(cfg.Adapters); err != nil {
		return err
	}
	if err := vl.validateThresholds(&cfg.Thresholds); err != nil {
		return err
	}
	if err := vl.v.Struct(&cfg.Database); err != nil {
		return NewValidationError("database", "", "", err)
	}
	if err := vl.v.Struct(&cfg.Callback); err != nil {
		return NewValidationError("callback", "", "", err)
	}
	return nil
}

func (vl *Validator) validateQueue(q *QueueConfig) error {
	if q.WorkerCount <= 0 {
		return NewValidationError("queue", "", "worker_count", fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	if q.MaxConcurrentSessions <= 0 {
		return NewValidationError("queue", "", "max_concurrent_sessions", fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	if q.SessionTimeout <= 0 {
		return NewValidationError("queue", "", "session_timeout", fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	return nil
}

func (vl *Validator) validateMachine(m *MachinePool) error {
	switch m.Driver {
	case "in_process", "remote":
	default:
		return NewValidationError("machine_pool", "", "driver", fmt.Errorf("%w: %q", ErrInvalidValue, m.Driver))
	}
	if m.MaxMachines <= 0 {
		return NewValidationError("machine_pool", "", "max_machines", fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	return nil
}

func (vl *Validator) validateAdapters(adapters map[string]AdapterDefaults) error {
	for name, a := range adapters {
		if err := vl.v.Struct(&a); err != nil {
			return NewValidationError("adapter", name, "", err)
		}
	}
	return nil
}

func (vl *Validator) validateThresholds(t *Thresholds) error {
	if t.SilenceMinMs <= 0 || t.SilenceMaxMs <= t.SilenceMinMs {
		return NewValidationError("thresholds", "", "silence_min_ms/silence_max_ms", fmt.Errorf("%w: min must be > 0 and < max", ErrInvalidValue))
	}
	if t.SilenceBaseMs < t.SilenceMinMs || t.SilenceBaseMs > t.SilenceMaxMs {
		return NewValidationError("thresholds", "", "silence_base_ms", fmt.Errorf("%w: must lie within [min, max]", ErrInvalidValue))
	}
	if t.MinTurnCompleteness < 0 || t.MinTurnCompleteness > 1 {
		return NewValidationError("thresholds", "", "min_turn_completeness", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	return nil
}

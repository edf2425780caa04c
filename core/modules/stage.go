package modules

import "fmt"

// Stage is one of the three lifecycle phases every module goes through.
type Stage int

const (
	StagePrimary Stage = iota + 1
	StageSecondary
	StageTertiary
)

// Stages lists every stage in firing order.
var Stages = []Stage{StagePrimary, StageSecondary, StageTertiary}

func (s Stage) String() string {
	switch s {
	case StagePrimary:
		return "primary"
	case StageSecondary:
		return "secondary"
	case StageTertiary:
		return "tertiary"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Primary is implemented by modules that act in the first phase.
type Primary interface {
	Primary() error
}

// Secondary is implemented by modules that act in the second phase.
type Secondary interface {
	Secondary() error
}

// Tertiary is implemented by modules that act in the third phase.
type Tertiary interface {
	Tertiary() error
}

// Base implements every stage as a no-op. Embed it and override the
// stages a module cares about.
type Base struct{}

func (Base) Primary() error   { return nil }
func (Base) Secondary() error { return nil }
func (Base) Tertiary() error  { return nil }

// callStage runs the stage method of instance. ran is false when instance
// does not implement the stage.
func callStage(instance any, stage Stage) (ran bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ran = true
			err = fmt.Errorf("%s stage panicked: %v", stage, rec)
		}
	}()

	switch stage {
	case StagePrimary:
		if m, ok := instance.(Primary); ok {
			return true, m.Primary()
		}
	case StageSecondary:
		if m, ok := instance.(Secondary); ok {
			return true, m.Secondary()
		}
	case StageTertiary:
		if m, ok := instance.(Tertiary); ok {
			return true, m.Tertiary()
		}
	}
	return false, nil
}

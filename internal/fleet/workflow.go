package fleet

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// FuelLogSubject pairs a log with its vehicle's last approved odometer.
type FuelLogSubject struct {
	Log          FuelLog
	LastOdometer decimal.Decimal
}

// Definition is the fuel log lifecycle.
func Definition() workflow.Definition {
	st := func(s FuelLogStatus) workflow.State { return workflow.State(s) }
	supervisor := workflow.Roles(RoleSupervisor)
	return workflow.Definition{
		DocType:  DocType,
		Initial:  st(FuelLogDraft),
		Terminal: workflow.States(st(FuelLogApproved)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionSubmit, From: workflow.States(st(FuelLogDraft)), To: st(FuelLogSubmitted), Guards: []workflow.Guard{odometerGuard}},
			{
				Action:        workflow.ActionApprove,
				From:          workflow.States(st(FuelLogSubmitted)),
				To:            st(FuelLogApproved),
				Roles:         supervisor,
				SegregateFrom: workflow.ActionSubmit,
				Guards:        []workflow.Guard{odometerGuard},
			},
			{Action: workflow.ActionReject, From: workflow.States(st(FuelLogSubmitted)), To: st(FuelLogRejected), Roles: supervisor, RequireReason: true},
			{Action: workflow.ActionRevise, From: workflow.States(st(FuelLogRejected)), To: st(FuelLogDraft)},
		},
	}
}

var odometerGuard = workflow.GuardFor("odometer_advances", func(_ context.Context, s FuelLogSubject) error {
	if !s.Log.OdometerKm.GreaterThan(s.LastOdometer) {
		return fmt.Errorf("%w: %s km <= %s km", ErrOdometerRegression, s.Log.OdometerKm.String(), s.LastOdometer.String())
	}
	return nil
})

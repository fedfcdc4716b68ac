package control

import (
	"strings"

	"github.com/fentz26/gitpilot/internal/models"
)

// Trigger names a lifecycle operation a caller can request.
type Trigger string

const (
	TriggerSubmit       Trigger = "submit"
	TriggerSetTarget    Trigger = "set_target"
	TriggerGeneratePlan Trigger = "generate_plan"
	TriggerApprovePlan  Trigger = "approve_plan"
	TriggerStart        Trigger = "start"
	TriggerPush         Trigger = "push"
	TriggerPublish      Trigger = "publish"
	TriggerReport       Trigger = "report"
	TriggerComplete     Trigger = "complete"
	TriggerFail         Trigger = "fail"
)

// allowedFrom is the transition table: which statuses each trigger is legal
// from. Triggers absent here (fail, complete) are legal from any non-terminal
// status and handled in the controller.
var allowedFrom = map[Trigger][]models.TaskStatus{
	TriggerSetTarget:    {models.TaskStatusQueued, models.TaskStatusPlanReady},
	TriggerGeneratePlan: {models.TaskStatusQueued, models.TaskStatusPlanReady},
	TriggerApprovePlan:  {models.TaskStatusPlanReady},
	TriggerStart:        {models.TaskStatusApproved},
	TriggerPush:         {models.TaskStatusReadyForReview},
	TriggerPublish:      {models.TaskStatusPushed},
}

// nonTerminal lists every status from which complete and fail remain legal.
var nonTerminal = []models.TaskStatus{
	models.TaskStatusQueued, models.TaskStatusPlanReady, models.TaskStatusApproved,
	models.TaskStatusRunning, models.TaskStatusReadyForReview,
	models.TaskStatusPushing, models.TaskStatusPushed,
}

// reportTargets maps a worker-reported status to the status it must be
// reported from. The worker advances RUNNING work to READY_FOR_REVIEW and
// PUSHING work to PUSHED; everything else is rejected.
var reportTargets = map[models.TaskStatus]models.TaskStatus{
	models.TaskStatusReadyForReview: models.TaskStatusRunning,
	models.TaskStatusPushed:         models.TaskStatusPushing,
}

// checkTrigger validates that trigger is legal from current and returns the
// precondition violation otherwise. The returned error never mutates state.
func checkTrigger(trigger Trigger, current models.TaskStatus) error {
	required, ok := allowedFrom[trigger]
	if !ok {
		return nil
	}
	for _, st := range required {
		if current == st {
			return nil
		}
	}
	return &StateError{Trigger: trigger, Current: current, Required: required}
}

func statusNames(statuses []models.TaskStatus) string {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return strings.Join(names, " or ")
}

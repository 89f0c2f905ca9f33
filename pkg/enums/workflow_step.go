package enums

import "slices"

// WorkflowStep is one state of the order-settlement workflow. The order of
// workflowSteps is the order a terminal moves through them.
type WorkflowStep string

const (
	WorkflowStepSelection WorkflowStep = "selection"
	WorkflowStepDetection WorkflowStep = "detection"
	WorkflowStepBilling   WorkflowStep = "billing"
)

var workflowSteps = []WorkflowStep{
	WorkflowStepSelection,
	WorkflowStepDetection,
	WorkflowStepBilling,
}

func (w WorkflowStep) String() string { return string(w) }

func (w WorkflowStep) IsValid() bool { return isMember(workflowSteps, w) }

func ParseWorkflowStep(value string) (WorkflowStep, error) {
	return parseMember(workflowSteps, "workflow step", value)
}

// Rank returns the position of the step in the linear workflow, or -1.
func (w WorkflowStep) Rank() int {
	return slices.Index(workflowSteps, w)
}

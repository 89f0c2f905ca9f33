package enums

import "testing"

func TestWorkflowStepRankIsLinear(t *testing.T) {
	if WorkflowStepSelection.Rank() >= WorkflowStepDetection.Rank() {
		t.Fatalf("selection must precede detection")
	}
	if WorkflowStepDetection.Rank() >= WorkflowStepBilling.Rank() {
		t.Fatalf("detection must precede billing")
	}
	if WorkflowStep("receipt").Rank() != -1 {
		t.Fatalf("unknown steps must rank -1")
	}
}

func TestParsePaymentMethod(t *testing.T) {
	got, err := ParsePaymentMethod("qr")
	if err != nil || got != PaymentMethodQR {
		t.Fatalf("expected qr, got %q (%v)", got, err)
	}
	if _, err := ParsePaymentMethod("card"); err == nil {
		t.Fatal("expected card to be rejected")
	}
}

func TestParseIsCaseTolerant(t *testing.T) {
	step, err := ParseWorkflowStep(" Billing ")
	if err != nil || step != WorkflowStepBilling {
		t.Fatalf("expected billing, got %q (%v)", step, err)
	}
	mode, err := ParseSplitMode("SPLIT")
	if err != nil || mode != SplitModeSplit {
		t.Fatalf("expected split, got %q (%v)", mode, err)
	}
	if _, err := ParseLineItemKind("combo"); err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
	if !LineItemKindColor.IsValid() || LineItemKind("Color").IsValid() {
		t.Fatal("IsValid must match stored values exactly")
	}
}

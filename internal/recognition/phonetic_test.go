package recognition

import "testing"

func TestRepairKeepsExactNamesAndNumerals(t *testing.T) {
	r := NewPhoneticRepair()
	entities := []string{"latte", "iced latte", "cappuccino"}
	got := r.Repair("dua latte dan satu capucino", entities)
	if got != "dua latte dan satu cappuccino" {
		t.Fatalf("Repair = %q", got)
	}
}

func TestRepairNoEntities(t *testing.T) {
	r := NewPhoneticRepair()
	if got := r.Repair("dua latte", nil); got != "dua latte" {
		t.Fatalf("Repair = %q", got)
	}
	if got := r.Repair("", []string{"latte"}); got != "" {
		t.Fatalf("Repair = %q", got)
	}
}

func TestRepairStrictThresholdLeavesText(t *testing.T) {
	r := NewPhoneticRepair(WithPhoneticThreshold(0.99), WithFuzzyThreshold(0.99))
	if got := r.Repair("capucino", []string{"cappuccino"}); got != "capucino" {
		t.Fatalf("Repair = %q", got)
	}
}

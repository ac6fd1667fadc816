package catalog

import "testing"

func TestAssignedSlots(t *testing.T) {
	if got := AssignedSlots("group", "m13"); len(got) != 1 || got[0].Time != "17:00-18:00" {
		t.Fatalf("group m13: %+v", got)
	}
	if got := AssignedSlots("private", "M9"); len(got) != 2 {
		t.Fatalf("private M9 should offer two windows: %+v", got)
	}
	if got := AssignedSlots("semi_private", "M15"); len(got) != 2 {
		t.Fatalf("semi-private shares the private windows: %+v", got)
	}
	if got := AssignedSlots("sunday", "M18"); got != nil {
		t.Fatalf("M18 is not sunday eligible: %+v", got)
	}
	if got := AssignedSlots("group", "U7"); got != nil {
		t.Fatalf("unknown category: %+v", got)
	}
}

func TestSundayWindow(t *testing.T) {
	w, ok := SundayWindow(" m11 ")
	if !ok || w != "09:00-10:00" {
		t.Fatalf("m11 window: %q %v", w, ok)
	}
	if _, ok := SundayWindow("M18"); ok {
		t.Fatal("M18 should not be eligible")
	}
}

func TestCapacity(t *testing.T) {
	if Capacity("group") != GroupCapacity {
		t.Fatal("group")
	}
	if Capacity("semi_private") != 1 {
		t.Fatal("a semi-private session owns its slot exclusively")
	}
	if Capacity("nope") != 0 {
		t.Fatal("unknown program")
	}
}

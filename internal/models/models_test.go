package models

import "testing"

func TestPairIDs(t *testing.T) {
	g := RecentGame{ID: 1, SubmissionIDs: "4,9"}
	ids, err := g.PairIDs()
	if err != nil {
		t.Fatalf("PairIDs: %v", err)
	}
	if ids != [2]int{4, 9} {
		t.Errorf("ids = %v, want [4 9]", ids)
	}
}

func TestPairIDsTrimsSpaces(t *testing.T) {
	g := RecentGame{ID: 1, SubmissionIDs: " 4, 9 "}
	ids, err := g.PairIDs()
	if err != nil {
		t.Fatalf("PairIDs: %v", err)
	}
	if ids != [2]int{4, 9} {
		t.Errorf("ids = %v, want [4 9]", ids)
	}
}

func TestPairIDsRejectsWrongArity(t *testing.T) {
	for _, s := range []string{"4", "4,9,12", ""} {
		g := RecentGame{ID: 2, SubmissionIDs: s}
		if _, err := g.PairIDs(); err == nil {
			t.Errorf("PairIDs(%q) should fail", s)
		}
	}
}

func TestPairIDsRejectsNonNumeric(t *testing.T) {
	g := RecentGame{ID: 3, SubmissionIDs: "4,abc"}
	if _, err := g.PairIDs(); err == nil {
		t.Error("PairIDs should fail on non-numeric id")
	}
}

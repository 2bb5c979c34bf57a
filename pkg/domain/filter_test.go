package domain

import (
	"testing"
	"time"
)

func TestWhereConditions(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	open := Restriction{RestrictionID: "a", RestrictionTypeID: 201, OpenDate: &day}
	staged := Restriction{RestrictionID: "b", RestrictionTypeID: 202}

	cases := []struct {
		name  string
		conds []Condition
		rec   Restriction
		want  bool
	}{
		{"eq string", []Condition{Eq("RestrictionID", "a")}, open, true},
		{"eq mismatch", []Condition{Eq("RestrictionID", "a")}, staged, false},
		{"int widening", []Condition{Eq("RestrictionTypeID", 201)}, open, true},
		{"lt number", []Condition{Lt("RestrictionTypeID", 202)}, open, true},
		{"ge number", []Condition{Ge("RestrictionTypeID", 202)}, staged, true},
		{"date le", []Condition{Le("OpenDate", day)}, open, true},
		{"date gt", []Condition{Gt("OpenDate", day)}, open, false},
		{"null ordered never matches", []Condition{Le("OpenDate", day)}, staged, false},
		{"is null", []Condition{IsNull("OpenDate")}, staged, true},
		{"is null false", []Condition{IsNull("OpenDate")}, open, false},
		{"ne type mismatch", []Condition{Ne("RestrictionID", 5)}, open, true},
		{"eq nil", []Condition{Eq("CloseDate", nil)}, open, true},
		{"conjunction", []Condition{Eq("RestrictionID", "a"), IsNull("CloseDate")}, open, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Where[Restriction](tc.conds...).Match(tc.rec); got != tc.want {
				t.Fatalf("%v: expected %v, got %v", tc.conds, tc.want, got)
			}
		})
	}
}

func TestMatchAllNilFilter(t *testing.T) {
	if !MatchAll[Membership](nil, Membership{}) {
		t.Fatalf("nil filter must match")
	}
	f := FilterFunc[Membership](func(m Membership) bool { return m.Action == ActionClose })
	if MatchAll[Membership](f, Membership{Action: ActionOpen}) {
		t.Fatalf("filter func ignored")
	}
}

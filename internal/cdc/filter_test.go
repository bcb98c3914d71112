package cdc

import (
	"testing"
)

func TestTableFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter TableFilter
		id     TableID
		want   bool
	}{
		{
			name:   "empty filter admits everything",
			filter: TableFilter{},
			id:     TableID{Schema: "INVENTORY", Table: "ORDERS"},
			want:   true,
		},
		{
			name:   "exact include match",
			filter: TableFilter{Include: []string{"INVENTORY.ORDERS"}},
			id:     TableID{Schema: "INVENTORY", Table: "ORDERS"},
			want:   true,
		},
		{
			name:   "include mismatch",
			filter: TableFilter{Include: []string{"INVENTORY.ORDERS"}},
			id:     TableID{Schema: "INVENTORY", Table: "CUSTOMERS"},
			want:   false,
		},
		{
			name:   "schema wildcard include",
			filter: TableFilter{Include: []string{"INVENTORY.*"}},
			id:     TableID{Schema: "INVENTORY", Table: "CUSTOMERS"},
			want:   true,
		},
		{
			name:   "exclude wins over include",
			filter: TableFilter{Include: []string{"INVENTORY.*"}, Exclude: []string{"INVENTORY.AUDIT_LOG"}},
			id:     TableID{Schema: "INVENTORY", Table: "AUDIT_LOG"},
			want:   false,
		},
		{
			name:   "exclude without include",
			filter: TableFilter{Exclude: []string{"SYS.*"}},
			id:     TableID{Schema: "SYS", Table: "DUAL"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.id); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestTableFilter_Apply(t *testing.T) {
	filter := TableFilter{Include: []string{"APP.*"}, Exclude: []string{"APP.SCRATCH"}}
	ids := []TableID{
		{Schema: "APP", Table: "ORDERS"},
		{Schema: "APP", Table: "SCRATCH"},
		{Schema: "OPS", Table: "JOBS"},
		{Schema: "APP", Table: "CUSTOMERS"},
	}

	got := filter.Apply(ids)

	want := []TableID{
		{Schema: "APP", Table: "ORDERS"},
		{Schema: "APP", Table: "CUSTOMERS"},
	}
	if len(got) != len(want) {
		t.Fatalf("Apply() returned %d tables, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Apply()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTableFilter_Validate(t *testing.T) {
	if err := (TableFilter{Include: []string{"APP.[ORDERS"}}).Validate(); err == nil {
		t.Error("Validate() accepted a malformed pattern")
	}
	if err := (TableFilter{Include: []string{"APP.*"}, Exclude: []string{"OPS.JOBS"}}).Validate(); err != nil {
		t.Errorf("Validate() rejected valid patterns: %v", err)
	}
}

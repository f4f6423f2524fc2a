package quota

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPlans(t *testing.T) {
	table := DefaultPlans()

	tests := []struct {
		plan Plan
		want PlanQuota
	}{
		{PlanFree, PlanQuota{StoresPerMonth: 3, RequestsPerHour: 10, RequestsPerDay: 50}},
		{PlanBasic, PlanQuota{StoresPerMonth: 20, RequestsPerHour: 50, RequestsPerDay: 500}},
		{PlanPremium, PlanQuota{StoresPerMonth: 100, RequestsPerHour: 200, RequestsPerDay: 2000}},
	}
	for _, tt := range tests {
		got, q := table.Resolve(tt.plan)
		if got != tt.plan || q != tt.want {
			t.Errorf("Resolve(%s) = %s %+v, want %+v", tt.plan, got, q, tt.want)
		}
	}
	if table.Fallback() != PlanFree {
		t.Errorf("expected free as fallback, got %s", table.Fallback())
	}
}

func TestResolve_UnknownFallsBackToMostRestrictive(t *testing.T) {
	table := DefaultPlans()
	for _, p := range []Plan{"", "gold", "PREMIUM"} {
		got, q := table.Resolve(p)
		if got != PlanFree || q.RequestsPerHour != 10 {
			t.Errorf("Resolve(%q) = %s %+v, want free", p, got, q)
		}
	}
}

func TestNewPlanTable_MostRestrictiveOrdering(t *testing.T) {
	table, err := NewPlanTable(map[Plan]PlanQuota{
		"a": {StoresPerMonth: 1, RequestsPerHour: 10, RequestsPerDay: 90},
		"b": {StoresPerMonth: 5, RequestsPerHour: 10, RequestsPerDay: 80},
		"c": {StoresPerMonth: 1, RequestsPerHour: 20, RequestsPerDay: 10},
	})
	if err != nil {
		t.Fatalf("NewPlanTable: %v", err)
	}
	// hourly ties between a and b; b has the smaller daily ceiling.
	if table.Fallback() != "b" {
		t.Errorf("expected b as fallback, got %s", table.Fallback())
	}
}

func TestNewPlanTable_Validation(t *testing.T) {
	if _, err := NewPlanTable(nil); err == nil {
		t.Errorf("expected error for empty table")
	}
	if _, err := NewPlanTable(map[Plan]PlanQuota{"free": {StoresPerMonth: 0, RequestsPerHour: 1, RequestsPerDay: 1}}); err == nil {
		t.Errorf("expected error for zero ceiling")
	}
	if _, err := NewPlanTable(map[Plan]PlanQuota{"": {StoresPerMonth: 1, RequestsPerHour: 1, RequestsPerDay: 1}}); err == nil {
		t.Errorf("expected error for empty plan name")
	}
}

func TestPlans_ReturnsCopy(t *testing.T) {
	table := DefaultPlans()
	m := table.Plans()
	m[PlanFree] = PlanQuota{StoresPerMonth: 999, RequestsPerHour: 999, RequestsPerDay: 999}
	if _, q := table.Resolve(PlanFree); q.RequestsPerHour != 10 {
		t.Fatalf("plan table mutated through Plans(): %+v", q)
	}
}

func TestLoadPlanTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	content := `plans:
  starter:
    stores_per_month: 2
    requests_per_hour: 5
    requests_per_day: 20
  pro:
    stores_per_month: 50
    requests_per_hour: 100
    requests_per_day: 1000
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := LoadPlanTable(path)
	if err != nil {
		t.Fatalf("LoadPlanTable: %v", err)
	}
	if _, q := table.Resolve("pro"); q.RequestsPerDay != 1000 {
		t.Errorf("unexpected pro quota %+v", q)
	}
	if table.Fallback() != "starter" {
		t.Errorf("expected starter fallback, got %s", table.Fallback())
	}
}

func TestLoadPlanTable_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadPlanTable(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("plans: [not, a, map]"), 0o600)
	if _, err := LoadPlanTable(bad); err == nil {
		t.Errorf("expected parse error")
	}

	empty := filepath.Join(dir, "empty.yaml")
	os.WriteFile(empty, []byte("plans: {}\n"), 0o600)
	if _, err := LoadPlanTable(empty); err == nil {
		t.Errorf("expected validation error for empty plans")
	}
}

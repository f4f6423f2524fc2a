package quota

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
)

// Plan is a subscription tier tag.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
)

// PlanQuota holds the ceilings for one plan.
type PlanQuota struct {
	StoresPerMonth  int `json:"stores_per_month" yaml:"stores_per_month"`
	RequestsPerHour int `json:"requests_per_hour" yaml:"requests_per_hour"`
	RequestsPerDay  int `json:"requests_per_day" yaml:"requests_per_day"`
}

// PlanTable maps plan tags to ceilings. It is built once and never mutated;
// unknown tags resolve to the most restrictive entry.
type PlanTable struct {
	plans    map[Plan]PlanQuota
	fallback Plan
}

// DefaultPlans returns the built-in free/basic/premium ceilings.
func DefaultPlans() *PlanTable {
	t, err := NewPlanTable(map[Plan]PlanQuota{
		PlanFree:    {StoresPerMonth: 3, RequestsPerHour: 10, RequestsPerDay: 50},
		PlanBasic:   {StoresPerMonth: 20, RequestsPerHour: 50, RequestsPerDay: 500},
		PlanPremium: {StoresPerMonth: 100, RequestsPerHour: 200, RequestsPerDay: 2000},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// NewPlanTable validates and copies plans.
func NewPlanTable(plans map[Plan]PlanQuota) (*PlanTable, error) {
	if len(plans) == 0 {
		return nil, apperrors.ValidationError{Field: "plans", Message: "at least one plan is required"}
	}

	errs := &apperrors.MultiError{}
	copied := make(map[Plan]PlanQuota, len(plans))
	for name, q := range plans {
		if name == "" {
			errs.Add(apperrors.ValidationError{Field: "plans", Message: "plan name must not be empty"})
			continue
		}
		if q.StoresPerMonth <= 0 || q.RequestsPerHour <= 0 || q.RequestsPerDay <= 0 {
			errs.Add(apperrors.ValidationError{
				Field:   "plans." + string(name),
				Message: fmt.Sprintf("ceilings must be positive, got %+v", q),
			})
			continue
		}
		copied[name] = q
	}
	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}

	return &PlanTable{plans: copied, fallback: mostRestrictive(copied)}, nil
}

// mostRestrictive orders by hourly, then daily, then monthly ceiling, then name.
func mostRestrictive(plans map[Plan]PlanQuota) Plan {
	names := make([]Plan, 0, len(plans))
	for name := range plans {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := plans[names[i]], plans[names[j]]
		switch {
		case a.RequestsPerHour != b.RequestsPerHour:
			return a.RequestsPerHour < b.RequestsPerHour
		case a.RequestsPerDay != b.RequestsPerDay:
			return a.RequestsPerDay < b.RequestsPerDay
		case a.StoresPerMonth != b.StoresPerMonth:
			return a.StoresPerMonth < b.StoresPerMonth
		default:
			return names[i] < names[j]
		}
	})
	return names[0]
}

// Resolve returns the effective plan and its ceilings.
func (t *PlanTable) Resolve(plan Plan) (Plan, PlanQuota) {
	if q, ok := t.plans[plan]; ok {
		return plan, q
	}
	return t.fallback, t.plans[t.fallback]
}

// Fallback is the plan unknown tags resolve to.
func (t *PlanTable) Fallback() Plan { return t.fallback }

// Plans returns a copy of the table for display.
func (t *PlanTable) Plans() map[Plan]PlanQuota {
	out := make(map[Plan]PlanQuota, len(t.plans))
	for k, v := range t.plans {
		out[k] = v
	}
	return out
}

type planFile struct {
	Plans map[Plan]PlanQuota `yaml:"plans"`
}

// LoadPlanTable reads ceilings from a YAML file of the form
//
//	plans:
//	  free: {stores_per_month: 3, requests_per_hour: 10, requests_per_day: 50}
func LoadPlanTable(path string) (*PlanTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plans file %s: %w", path, err)
	}
	return NewPlanTable(f.Plans)
}

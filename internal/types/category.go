package types

import "fmt"

// Category classifies the domain operation a transaction record belongs to.
type Category string

const (
	CategorySampleRegistration Category = "sample-registration"
	CategoryExperiment         Category = "experiment"
	CategoryAccessGrant        Category = "access-grant"
	CategoryWorkflowUpdate     Category = "workflow-update"
	CategoryIPRegistration     Category = "ip-registration"
	CategoryOther              Category = "other"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategorySampleRegistration,
	CategoryExperiment,
	CategoryAccessGrant,
	CategoryWorkflowUpdate,
	CategoryIPRegistration,
	CategoryOther,
}

// ParseCategory validates a raw category value. An empty value maps to CategoryOther.
func ParseCategory(raw string) (Category, error) {
	if raw == "" {
		return CategoryOther, nil
	}
	for _, c := range Categories {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown transaction category %q", raw)
}

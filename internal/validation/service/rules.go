// Package service implements the rule-based validation engine.
package service

import (
	"fmt"
	"time"

	batchdomain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	domain "github.com/nextgenfiber/fieldbill/internal/validation/domain"
)

// lineFacts is the read-only context a line rule evaluates against. Rules
// never mutate it.
type lineFacts struct {
	Line linedomain.ProductionLine
	// Entry is the rate entry resolved for the line's work date, nil when
	// resolution failed.
	Entry *ratecarddomain.RateEntry
	// CurrentVersion is the version active for the line's scope at
	// evaluation time; HasCurrentVersion is false when no card resolves.
	CurrentVersion    int
	HasCurrentVersion bool
	DuplicateCount    int64
	SLADays           int
	Now               time.Time
}

type lineRule struct {
	ID       string
	Name     string
	Category string
	Severity string
	// Applies reports whether the rule is relevant for this line; rules
	// that do not apply are excluded from scoring.
	Applies func(lineFacts) bool
	Check   func(lineFacts) (passed bool, message, expected, actual string)
}

var lineRules = []lineRule{
	{
		ID:       "required-evidence",
		Name:     "Required photo evidence present",
		Category: domain.CategoryEvidence,
		Severity: domain.SeverityError,
		Applies: func(f lineFacts) bool {
			// Mapped billable work demands photo evidence.
			return f.Line.BillingLineItemCode != ""
		},
		Check: func(f lineFacts) (bool, string, string, string) {
			if f.Line.HasRequiredEvidence {
				return true, "", "", ""
			}
			return false, "line is missing required photo evidence", "has_required_evidence=true", "has_required_evidence=false"
		},
	},
	{
		ID:       "data-completeness",
		Name:     "Billing fields complete",
		Category: domain.CategoryCompleteness,
		Severity: domain.SeverityError,
		Applies:  func(lineFacts) bool { return true },
		Check: func(f lineFacts) (bool, string, string, string) {
			var missing []string
			if f.Line.Contractor == "" {
				missing = append(missing, "contractor")
			}
			if f.Line.Unit == "" {
				missing = append(missing, "unit")
			}
			if f.Line.BillingLineItemCode == "" {
				missing = append(missing, "billing_line_item_code")
			}
			if !f.Line.Quantity.IsPositive() {
				missing = append(missing, "quantity")
			}
			if len(missing) == 0 {
				return true, "", "", ""
			}
			return false, fmt.Sprintf("missing or invalid fields: %v", missing), "all billing fields set", fmt.Sprintf("%v", missing)
		},
	},
	{
		ID:       "quantity-range",
		Name:     "Quantity within rate entry bounds",
		Category: domain.CategoryConsistency,
		Severity: domain.SeverityWarning,
		Applies: func(f lineFacts) bool {
			return f.Entry != nil && (f.Entry.MinQuantity != nil || f.Entry.MaxQuantity != nil)
		},
		Check: func(f lineFacts) (bool, string, string, string) {
			if f.Entry.MinQuantity != nil && f.Line.Quantity.LessThan(*f.Entry.MinQuantity) {
				return false, "quantity below rate entry minimum",
					">= " + f.Entry.MinQuantity.String(), f.Line.Quantity.String()
			}
			if f.Entry.MaxQuantity != nil && f.Line.Quantity.GreaterThan(*f.Entry.MaxQuantity) {
				return false, "quantity above rate entry maximum",
					"<= " + f.Entry.MaxQuantity.String(), f.Line.Quantity.String()
			}
			return true, "", "", ""
		},
	},
	{
		ID:       "duplicate-detection",
		Name:     "No duplicate external record",
		Category: domain.CategoryConsistency,
		Severity: domain.SeverityError,
		Applies:  func(lineFacts) bool { return true },
		Check: func(f lineFacts) (bool, string, string, string) {
			if f.DuplicateCount > 1 {
				return false, "external record ingested more than once", "1", fmt.Sprintf("%d", f.DuplicateCount)
			}
			return true, "", "", ""
		},
	},
	{
		ID:       "rate-card-currency",
		Name:     "Applied rate card version is current",
		Category: domain.CategoryConsistency,
		Severity: domain.SeverityWarning,
		Applies: func(f lineFacts) bool {
			return f.Line.RateCardVersion != nil && f.HasCurrentVersion
		},
		Check: func(f lineFacts) (bool, string, string, string) {
			if *f.Line.RateCardVersion == f.CurrentVersion {
				return true, "", "", ""
			}
			return false, "applied rate card version is stale",
				fmt.Sprintf("version %d", f.CurrentVersion),
				fmt.Sprintf("version %d", *f.Line.RateCardVersion)
		},
	},
	{
		ID:       "timeliness",
		Name:     "Status change within SLA of work date",
		Category: domain.CategoryTimeliness,
		Severity: domain.SeverityWarning,
		Applies:  func(f lineFacts) bool { return f.SLADays > 0 },
		Check: func(f lineFacts) (bool, string, string, string) {
			deadline := f.Line.WorkDate.AddDate(0, 0, f.SLADays)
			if !f.Line.StatusChangedAt.After(deadline) {
				return true, "", "", ""
			}
			return false, "status change exceeded the SLA window",
				fmt.Sprintf("within %d days of work date", f.SLADays),
				f.Line.StatusChangedAt.Format("2006-01-02")
		},
	},
}

// batchFacts is the context batch-level rules evaluate against.
type batchFacts struct {
	Batch       batchdomain.InvoiceBatch
	Lines       []linedomain.ProductionLine
	LineReports []domain.EntityReport
	Now         time.Time
}

type batchRule struct {
	ID       string
	Name     string
	Category string
	Severity string
	Check    func(batchFacts) (passed bool, message, expected, actual string)
}

var batchRules = []batchRule{
	{
		ID:       "attachment-present",
		Name:     "Cover letter or attachment present",
		Category: domain.CategoryCompleteness,
		Severity: domain.SeverityWarning,
		Check: func(f batchFacts) (bool, string, string, string) {
			if len(f.Batch.Attachments) > 0 {
				return true, "", "", ""
			}
			return false, "batch has no attachments", ">= 1 attachment", "0"
		},
	},
	{
		ID:       "lines-error-free",
		Name:     "No member line fails a required check",
		Category: domain.CategoryConsistency,
		Severity: domain.SeverityError,
		Check: func(f batchFacts) (bool, string, string, string) {
			failing := 0
			for _, report := range f.LineReports {
				if !report.CanProceed {
					failing++
				}
			}
			if failing == 0 {
				return true, "", "", ""
			}
			return false, fmt.Sprintf("%d member line(s) fail ERROR-severity checks", failing), "0", fmt.Sprintf("%d", failing)
		},
	},
	{
		ID:       "evidence-verified",
		Name:     "All member lines have verified evidence",
		Category: domain.CategoryEvidence,
		Severity: domain.SeverityError,
		Check: func(f batchFacts) (bool, string, string, string) {
			missing := 0
			for _, line := range f.Lines {
				if !line.HasRequiredEvidence {
					missing++
				}
			}
			if missing == 0 {
				return true, "", "", ""
			}
			return false, fmt.Sprintf("%d member line(s) missing evidence", missing), "0", fmt.Sprintf("%d", missing)
		},
	},
}

// score folds results into the weighted compliance score. Categories with no
// applicable rule count as fully passed.
func score(results []domain.Result, threshold float64) domain.ComplianceScore {
	applicable := map[string]int{}
	passed := map[string]int{}
	for _, result := range results {
		applicable[result.Category]++
		if result.Passed {
			passed[result.Category]++
		}
	}

	fraction := func(category string) float64 {
		total := applicable[category]
		if total == 0 {
			return 1
		}
		return float64(passed[category]) / float64(total)
	}

	scorecard := domain.ComplianceScore{
		Evidence:         fraction(domain.CategoryEvidence) * 100,
		Completeness:     fraction(domain.CategoryCompleteness) * 100,
		Consistency:      fraction(domain.CategoryConsistency) * 100,
		Timeliness:       fraction(domain.CategoryTimeliness) * 100,
		PassingThreshold: threshold,
	}
	scorecard.Overall = scorecard.Evidence*domain.CategoryWeights[domain.CategoryEvidence] +
		scorecard.Completeness*domain.CategoryWeights[domain.CategoryCompleteness] +
		scorecard.Consistency*domain.CategoryWeights[domain.CategoryConsistency] +
		scorecard.Timeliness*domain.CategoryWeights[domain.CategoryTimeliness]
	scorecard.IsPassing = scorecard.Overall >= threshold
	return scorecard
}

func canProceed(results []domain.Result) bool {
	for _, result := range results {
		if result.Severity == domain.SeverityError && !result.Passed {
			return false
		}
	}
	return true
}

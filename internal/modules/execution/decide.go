package execution

// DecisionBreakdown is the itemized outcome of one rebalancing decision.
type DecisionBreakdown struct {
	Execute           bool    `json:"execute"`
	DriftOK           bool    `json:"drift_ok"`
	TurnoverOK        bool    `json:"turnover_ok"`
	ExpectedBenefitLB float64 `json:"expected_benefit_lb"`
	TotalCosts        float64 `json:"total_costs"`
	TotalTaxes        float64 `json:"total_taxes"`
}

// NetBenefit is the expected benefit lower bound net of costs and taxes.
func (d DecisionBreakdown) NetBenefit() float64 {
	return d.ExpectedBenefitLB - d.TotalCosts - d.TotalTaxes
}

// ShouldTrade is the sole gate turning quantitative signals into an
// executable decision: drift and turnover checks must pass and the
// conservative benefit estimate must survive costs and taxes.
func ShouldTrade(driftOK bool, ebLB, cost, tax float64, turnoverOK bool) bool {
	return driftOK && turnoverOK && ebLB-cost-tax > 0
}

// SummariseDecision packages the gate inputs into a DecisionBreakdown.
func SummariseDecision(driftOK bool, ebLB, cost, tax float64, turnoverOK bool) DecisionBreakdown {
	return DecisionBreakdown{
		Execute:           ShouldTrade(driftOK, ebLB, cost, tax, turnoverOK),
		DriftOK:           driftOK,
		TurnoverOK:        turnoverOK,
		ExpectedBenefitLB: ebLB,
		TotalCosts:        cost,
		TotalTaxes:        tax,
	}
}

package classify

// Strategy names how a query should be answered.
type Strategy string

const (
	StrategyFullDeliberation Strategy = "full_deliberation"
	StrategyChatOnly         Strategy = "chat_only"
)

// Recommendation suggests an execution strategy for a classified query.
type Recommendation struct {
	Strategy    Strategy `json:"strategy"`
	UseChairman bool     `json:"use_chairman"`
	Explanation string   `json:"explanation"`
	Result      Result   `json:"result"`
}

var recommendations = map[Category]Recommendation{
	Reasoning: {
		Strategy:    StrategyFullDeliberation,
		UseChairman: true,
		Explanation: "Complex reasoning benefits from full council deliberation with synthesis.",
	},
	Technical: {
		Strategy:    StrategyFullDeliberation,
		UseChairman: true,
		Explanation: "Technical queries benefit from multiple expert perspectives and synthesis.",
	},
	Analytical: {
		Strategy:    StrategyFullDeliberation,
		UseChairman: true,
		Explanation: "Analytical questions benefit from diverse viewpoints and aggregation.",
	},
	Creative: {
		Strategy:    StrategyFullDeliberation,
		UseChairman: true,
		Explanation: "Creative queries benefit from varied perspectives and synthesis.",
	},
	Factual: {
		Strategy:    StrategyChatOnly,
		UseChairman: false,
		Explanation: "Simple factual queries can be answered by the chairman alone for speed.",
	},
}

// Recommend maps a classification result to an execution strategy. Unknown
// categories get the factual recommendation.
func Recommend(result Result) Recommendation {
	rec, ok := recommendations[result.Category]
	if !ok {
		rec = recommendations[Factual]
	}
	rec.Result = result
	return rec
}

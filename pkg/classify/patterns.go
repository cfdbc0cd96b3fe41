package classify

// Category tags a query with the kind of answer it needs.
type Category string

const (
	Technical  Category = "technical"
	Reasoning  Category = "reasoning"
	Analytical Category = "analytical"
	Creative   Category = "creative"
	Factual    Category = "factual"
)

// DefaultOrder is the category iteration order. Equal scores resolve to the
// category that appears first.
var DefaultOrder = []Category{Technical, Reasoning, Analytical, Creative, Factual}

// Pattern is one weighted keyword matcher. Expr is matched against the
// lower-cased query and contributes Weight once, however often it occurs.
type Pattern struct {
	Category Category
	Expr     string
	Weight   float64
}

const (
	technicalWeight  = 1.0
	reasoningWeight  = 1.2
	analyticalWeight = 1.0
	creativeWeight   = 0.9
	factualWeight    = 0.8
)

// DefaultPatterns returns the built-in keyword table.
func DefaultPatterns() []Pattern {
	var patterns []Pattern
	add := func(cat Category, weight float64, exprs ...string) {
		for _, expr := range exprs {
			patterns = append(patterns, Pattern{Category: cat, Expr: expr, Weight: weight})
		}
	}

	add(Technical, technicalWeight,
		`\bcode\b`, `\bprogram(ming)?\b`, `\bdebug\b`, `\bfunction\b`,
		`\bapi\b`, `\balgorithm\b`, `\bsyntax\b`, `\berror\b`,
		`\bbug\b`, `\bframework\b`, `\blibrary\b`, `\bclass\b`,
		`\bmethod\b`, `\bvariable\b`, `\bloop\b`, `\barray\b`,
		`\bpython\b`, `\bjavascript\b`, `\breact\b`, `\bnode\b`,
		`\bgit\b`, `\bdocker\b`, `\bsql\b`, `\bdatabase\b`,
	)
	add(Reasoning, reasoningWeight,
		`\bcalculate\b`, `\bprove\b`, `\bderive\b`, `\bsolve\b`,
		`\btheorem\b`, `\bequation\b`, `\bsteps?\b`, `\blogic\b`,
		`\bif.*then\b`, `\bgiven.*find\b`, `\bproof\b`,
		`\bassume\b`, `\bconclude\b`, `\binfer\b`, `\bdeduce\b`,
		`\bmathematics\b`, `\bcalculus\b`, `\balgebra\b`,
		`\bstrategy\b`, `\bplan\b`, `\bapproach\b`, `\bmethod\b`,
		`why\s+is\b`, `how\s+does\b`, `explain.*process`,
	)
	add(Analytical, analyticalWeight,
		`\bcompare\b`, `\bcontrast\b`, `\banalyze\b`, `\bevaluate\b`,
		`\bassess\b`, `\btradeoff\b`, `\bpros\s+and\s+cons\b`,
		`\bdifference\b`, `\bsimilarity\b`, `\bbetter\b`, `\bworse\b`,
		`\badvantage\b`, `\bdisadvantage\b`, `\bmetric\b`,
		`\bperformance\b`, `\bbenchmark\b`, `\bstatistic\b`,
		`\btrend\b`, `\bpattern\b`, `\bcorrelation\b`,
	)
	add(Creative, creativeWeight,
		`\bwrite\b`, `\bstory\b`, `\bpoem\b`, `\bessay\b`,
		`\bbrainstorm\b`, `\bidea\b`, `\bimaginative\b`, `\bcreative\b`,
		`\binvent\b`, `\bdesign\b`, `\bnovel\b`, `\boriginal\b`,
		`\bnarrative\b`, `\bcharacter\b`, `\bplot\b`, `\bscenario\b`,
		`\bslogan\b`, `\bmarketing\b`, `\bcampaign\b`,
		`\bmetaphor\b`, `\banalogy\b`,
	)
	add(Factual, factualWeight,
		`\bwhat\s+is\b`, `\bwhen\s+did\b`, `\bwho\s+is\b`,
		`\bwhere\s+is\b`, `\bdefine\b`, `\bdefinition\b`,
		`\bexplain\b`, `\bdescribe\b`, `\blist\b`, `\bname\b`,
		`\bhistory\b`, `\bfact\b`, `\binformation\b`,
		`\bcapital\b`, `\bpopulation\b`, `\bdate\b`,
		`\bmean\b`, `\brefer\b`, `\bstand for\b`,
	)

	return patterns
}

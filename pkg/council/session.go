package council

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/council/pkg/adapter"
	"github.com/zen-systems/council/pkg/logging"
	"github.com/zen-systems/council/pkg/router"
)

// Strategy selects how many rounds a deliberation runs.
type Strategy string

const (
	// StrategySimple runs a single council round.
	StrategySimple Strategy = "simple"
	// StrategyMultiRound runs Settings.RoundCount rounds.
	StrategyMultiRound Strategy = "multi_round"
)

// Settings are read at the start of every deliberation.
type Settings interface {
	CouncilModels() []string
	ArbiterModel() string
	RoundCount() int
	CouncilTemperature() float64
	DefaultStrategy() string
}

// Classifier resolves a query into a direct/deliberation decision.
type Classifier interface {
	Classify(ctx context.Context, query string) router.Decision
}

// Session is the full record of one answered query.
type Session struct {
	ID            string          `json:"id"`
	Query         string          `json:"query"`
	SearchContext string          `json:"search_context,omitempty"`
	Decision      router.Decision `json:"decision"`
	Strategy      Strategy        `json:"strategy,omitempty"`
	Rounds        []RoundRecord   `json:"rounds,omitempty"`
	Final         []RoundResult   `json:"final,omitempty"`
	Answer        string          `json:"answer,omitempty"`
	AnsweredBy    string          `json:"answered_by,omitempty"`
	Usage         *adapter.Usage  `json:"usage,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Duration      time.Duration   `json:"duration"`
}

// Council ties classification, the direct path and the round orchestrator
// together.
type Council struct {
	classifier   Classifier
	orchestrator *Orchestrator
	queryFn      adapter.QueryFunc
	settings     Settings
	logger       *zap.Logger
	now          func() time.Time
}

// New creates a council. orchestrator may be nil.
func New(classifier Classifier, queryFn adapter.QueryFunc, settings Settings, orchestrator *Orchestrator, logger *zap.Logger) (*Council, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if queryFn == nil {
		return nil, errors.New("query function is required")
	}
	if settings == nil {
		return nil, errors.New("settings are required")
	}
	logger = logging.OrNop(logger)
	if orchestrator == nil {
		orchestrator = NewOrchestrator(WithLogger(logger))
	}
	return &Council{
		classifier:   classifier,
		orchestrator: orchestrator,
		queryFn:      queryFn,
		settings:     settings,
		logger:       logger.With(zap.String("component", "council")),
		now:          time.Now,
	}, nil
}

// Deliberate classifies query and answers it either directly through the
// arbiter model or with council rounds. A failed direct answer falls back to
// the council.
func (c *Council) Deliberate(ctx context.Context, query, searchContext string) (*Session, error) {
	start := c.now()
	session := &Session{
		ID:            uuid.NewString(),
		Query:         query,
		SearchContext: searchContext,
		CreatedAt:     start.UTC(),
	}
	logger := c.logger.With(zap.String("session", session.ID))

	session.Decision = c.classifier.Classify(ctx, query)
	logger.Info("query classified",
		zap.String("type", string(session.Decision.Type)),
		zap.String("tier", string(session.Decision.Tier)),
		zap.Float64("confidence", session.Decision.Confidence),
	)

	if session.Decision.Type == router.Direct {
		answered, err := c.answerDirect(ctx, session)
		if err != nil {
			logger.Warn("direct answer failed, falling back to council", zap.Error(err))
		}
		if answered {
			session.Duration = c.now().Sub(start)
			return session, nil
		}
	}

	if err := c.runCouncil(ctx, session); err != nil {
		return session, err
	}
	session.Duration = c.now().Sub(start)
	return session, nil
}

func (c *Council) answerDirect(ctx context.Context, session *Session) (bool, error) {
	model := c.settings.ArbiterModel()
	if model == "" {
		return false, errors.New("no arbiter model configured")
	}
	resp, err := c.queryFn(ctx, adapter.Request{
		Model:       model,
		Messages:    adapter.UserMessage(session.Query),
		Temperature: c.settings.CouncilTemperature(),
	})
	if err != nil {
		return false, err
	}
	if resp == nil || resp.Error {
		msg := "empty response"
		if resp != nil {
			msg = resp.ErrorMessage
		}
		return false, fmt.Errorf("%s: %s", model, msg)
	}
	session.Answer = resp.Content
	session.AnsweredBy = model
	session.Usage = resp.Usage
	return true, nil
}

func (c *Council) runCouncil(ctx context.Context, session *Session) error {
	strategy := Strategy(c.settings.DefaultStrategy())
	rounds := 1
	if strategy == StrategyMultiRound {
		rounds = c.settings.RoundCount()
	} else {
		strategy = StrategySimple
	}
	session.Strategy = strategy

	history, final, err := c.orchestrator.RunRounds(ctx,
		session.Query,
		session.SearchContext,
		c.settings.CouncilModels(),
		rounds,
		c.queryFn,
		c.settings.CouncilTemperature,
	)
	session.Rounds = history
	session.Final = final
	for _, record := range history {
		for _, r := range record.Results {
			session.Usage = adapter.AddUsage(session.Usage, r.Usage)
		}
	}
	if err != nil {
		return fmt.Errorf("council deliberation failed: %w", err)
	}
	return nil
}

// Successful returns the final-round results that carry a response.
func (s *Session) Successful() []RoundResult {
	var out []RoundResult
	for _, r := range s.Final {
		if !r.Error && r.Response != nil {
			out = append(out, r)
		}
	}
	return out
}

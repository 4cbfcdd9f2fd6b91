package session

import (
	"context"
	"strings"
)

// Strategy is one attempt at a capability operation, typically bound to a
// single selector or interaction path on the remote site.
type Strategy struct {
	Name string
	Try  func(ctx context.Context) Result
}

// Chain runs strategies in order until one completes. Drivers use it to
// model selector fallbacks as data instead of nested error suppression:
// the chain fails only once every strategy is exhausted, and the failure
// message names everything that was tried.
type Chain struct {
	Op         string
	Strategies []Strategy
}

func NewChain(op string, strategies ...Strategy) Chain {
	return Chain{Op: op, Strategies: strategies}
}

func (c Chain) Run(ctx context.Context) Result {
	if len(c.Strategies) == 0 {
		return Failed(c.Op + ": no strategies configured")
	}

	tried := make([]string, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		if err := ctx.Err(); err != nil {
			return Failed(c.Op + ": " + err.Error())
		}
		res := s.Try(ctx)
		if res.OK {
			return res
		}
		tried = append(tried, s.Name)
	}
	return Failed(c.Op + ": all strategies failed (" + strings.Join(tried, ", ") + ")")
}

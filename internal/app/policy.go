package app

import (
	"fmt"

	"github.com/dkeye/sfuclient/internal/domain"
)

type FailureAction int

const (
	ContinueRemaining FailureAction = iota
	AbortRemaining
)

// Policy decides what ConsumeAll does after one producer failed.
type Policy interface {
	OnConsumeFailure(id domain.ProducerID, err error) FailureAction
}

type ContinuePolicy struct{}

func (ContinuePolicy) OnConsumeFailure(domain.ProducerID, error) FailureAction {
	return ContinueRemaining
}

type AbortPolicy struct{}

func (AbortPolicy) OnConsumeFailure(domain.ProducerID, error) FailureAction {
	return AbortRemaining
}

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "continue":
		return ContinuePolicy{}, nil
	case "abort":
		return AbortPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown consume failure policy %q", name)
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleFrame: frame com captured_at <= último aplicado (descartado em silêncio)
	ErrStaleFrame = errors.New("stale frame")
	// ErrNoRound: nenhuma rodada selecionável no momento
	ErrNoRound = errors.New("no round selected")
	// ErrUnknownBet: aposta não existe no ledger
	ErrUnknownBet = errors.New("unknown bet")
)

// ValidationError é um erro de entrada do usuário: mostrado na hora, nunca repetido
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid bet: " + e.Reason
	}
	return fmt.Sprintf("invalid bet: %s: %s", e.Field, e.Reason)
}

// NewValidation cria um ValidationError
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NetworkError embrulha falhas de transporte (repetidas com backoff)
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// IsValidation reporta se err é (ou embrulha) um ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNetwork reporta se err é (ou embrulha) um NetworkError
func IsNetwork(err error) bool {
	var n *NetworkError
	return errors.As(err, &n)
}

package domain

import "errors"

var (
	// ErrInsufficientFunds: reserve pidió más de lo disponible.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrMalformedMarket: el feed devolvió un mercado inválido.
	ErrMalformedMarket = errors.New("malformed market")
	// ErrLedgerMismatch: release por encima de lo desplegado.
	ErrLedgerMismatch = errors.New("ledger mismatch")
	// ErrPositionNotFound: id desconocido para el tracker.
	ErrPositionNotFound = errors.New("position not found")
	// ErrInvalidConfig: parámetros imposibles, fatal al arrancar.
	ErrInvalidConfig = errors.New("invalid config")
)

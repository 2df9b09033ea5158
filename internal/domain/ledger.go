package domain

// LedgerAccount es la vista de los tres saldos del capital simulado.
// Invariante en todo punto quiescente: Total == Available + Deployed.
type LedgerAccount struct {
	Total     float64
	Available float64
	Deployed  float64
}

// Balanced comprueba la identidad del ledger con tolerancia de redondeo.
func (a LedgerAccount) Balanced() bool {
	d := a.Total - (a.Available + a.Deployed)
	return d < 1e-6 && d > -1e-6
}

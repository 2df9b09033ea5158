package domain

import "time"

// AlertType identifica el evento que se notifica.
type AlertType string

const (
	AlertPositionOpened          AlertType = "position_opened"
	AlertPositionSettled         AlertType = "position_settled"
	AlertCapacitySkip            AlertType = "capacity_skip"
	AlertLedgerError             AlertType = "ledger_error"
	AlertCollaboratorUnavailable AlertType = "collaborator_unavailable"
	AlertMalformedMarket         AlertType = "malformed_market"
	AlertStalePosition           AlertType = "stale_position"
	AlertSystemStart             AlertType = "system_start"
	AlertSystemStop              AlertType = "system_stop"
)

// Severity ordena las alertas; los senders filtran por mínimo.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// ParseSeverity acepta el nombre en cualquier caja; desconocido → Info.
func ParseSeverity(s string) Severity {
	switch s {
	case "warning", "WARNING", "warn":
		return SeverityWarning
	case "error", "ERROR":
		return SeverityError
	case "critical", "CRITICAL":
		return SeverityCritical
	}
	return SeverityInfo
}

// AlertEvent es un mensaje en la cola saliente de alertas.
type AlertEvent struct {
	Type     AlertType
	Severity Severity
	Title    string
	Message  string
	Fields   map[string]string
	At       time.Time
}

// DedupKey agrupa eventos repetidos dentro del cooldown.
func (e AlertEvent) DedupKey() string {
	return string(e.Type) + ":" + e.Message
}

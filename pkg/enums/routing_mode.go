package enums

// RoutingMode selects how a checkout assigns lines to invoicing companies.
type RoutingMode string

const (
	// RoutingAuto splits a multi-company cart into one invoice per company.
	RoutingAuto RoutingMode = "auto"
	// RoutingSingle invoices every line under one target company.
	RoutingSingle RoutingMode = "single"
	// RoutingFlag forces the whole cart onto the designated flag company.
	RoutingFlag RoutingMode = "flag"
)

var validRoutingModes = []RoutingMode{
	RoutingAuto,
	RoutingSingle,
	RoutingFlag,
}

func (m RoutingMode) IsValid() bool { return member(validRoutingModes, m) }

func ParseRoutingMode(value string) (RoutingMode, error) {
	return parse(validRoutingModes, value, "routing mode", true)
}

package models

// MatchStatus is the derived reconciliation state of an invoice or transaction.
type MatchStatus string

const (
	StatusUnmatched        MatchStatus = "UNMATCHED"
	StatusPartiallyMatched MatchStatus = "PARTIALLY_MATCHED"
	StatusMatched          MatchStatus = "MATCHED"
	StatusOverpaid         MatchStatus = "OVERPAID"
)

// MatchSource records who produced a match.
type MatchSource string

const (
	SourceAuto   MatchSource = "AUTO"
	SourceManual MatchSource = "MANUAL"
)

// Role is the resolved capability of a caller. Issuing and validating
// identities happens outside this service.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// Actor is the resolved identity behind a call.
type Actor struct {
	ID   string
	Role Role
}

// CanMutate reports whether the role may change match state.
func (a Actor) CanMutate() bool {
	return a.Role == RoleAdmin || a.Role == RoleEditor
}

package core

import "github.com/dkeye/Walkie/internal/domain"

// MemberSession binds domain.Member and its transport endpoint.
// This is what a channel stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

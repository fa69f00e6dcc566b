package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "politikcred/pkg/domain-errors"
)

// Typed identifiers keep politician, promise, verification and run IDs from
// being passed for one another.
type (
	PoliticianID   uuid.UUID
	PromiseID      uuid.UUID
	VerificationID uuid.UUID
	RunID          uuid.UUID
)

// ActionID is the normalized external identity of an action: "<source>:<external id>".
type ActionID string

func NewPoliticianID() PoliticianID     { return PoliticianID(uuid.New()) }
func NewPromiseID() PromiseID           { return PromiseID(uuid.New()) }
func NewVerificationID() VerificationID { return VerificationID(uuid.New()) }
func NewRunID() RunID                   { return RunID(uuid.New()) }

func (id PoliticianID) String() string   { return uuid.UUID(id).String() }
func (id PromiseID) String() string      { return uuid.UUID(id).String() }
func (id VerificationID) String() string { return uuid.UUID(id).String() }
func (id RunID) String() string          { return uuid.UUID(id).String() }

func (id PoliticianID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id PromiseID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id VerificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RunID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }

func (id PoliticianID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id PromiseID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id VerificationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RunID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }

func (id *PoliticianID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *PromiseID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *VerificationID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *RunID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func parseUUID(kind, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

func ParsePoliticianID(s string) (PoliticianID, error) {
	u, err := parseUUID("politician id", s)
	return PoliticianID(u), err
}

func ParsePromiseID(s string) (PromiseID, error) {
	u, err := parseUUID("promise id", s)
	return PromiseID(u), err
}

func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parseUUID("verification id", s)
	return VerificationID(u), err
}

func ParseRunID(s string) (RunID, error) {
	u, err := parseUUID("run id", s)
	return RunID(u), err
}

// NewActionID normalizes a source and external identifier into an ActionID.
// Source names are case-insensitive; external identifiers are kept verbatim.
func NewActionID(source, externalID string) ActionID {
	return ActionID(strings.ToLower(strings.TrimSpace(source)) + ":" + strings.TrimSpace(externalID))
}

func (id ActionID) String() string { return string(id) }

package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ParticipantKind discriminates the two identity shapes a registration can carry.
type ParticipantKind string

const (
	ParticipantKindAccount ParticipantKind = "account"
	ParticipantKindGuest   ParticipantKind = "guest"
)

// IsValid reports whether the kind is recognized.
func (k ParticipantKind) IsValid() bool {
	return k == ParticipantKindAccount || k == ParticipantKindGuest
}

// Participant is the tagged identity attached to a registration. Account
// participants reference a platform user; guests exist only on the
// registration row. Both variants snapshot contact details so downstream
// consumers (tickets, scan results, notifications) never join on users.
type Participant struct {
	kind   ParticipantKind
	userID uuid.UUID
	name   string
	email  string
	phone  string
}

// AccountParticipant builds the account variant.
func AccountParticipant(userID uuid.UUID, name, email, phone string) (Participant, error) {
	if userID == uuid.Nil {
		return Participant{}, fmt.Errorf("account participant requires a user id")
	}
	p := Participant{
		kind:   ParticipantKindAccount,
		userID: userID,
		name:   strings.TrimSpace(name),
		email:  strings.TrimSpace(email),
		phone:  strings.TrimSpace(phone),
	}
	if p.email == "" {
		return Participant{}, fmt.Errorf("account participant requires an email")
	}
	return p, nil
}

// GuestParticipant builds the guest variant.
func GuestParticipant(name, email, phone string) (Participant, error) {
	p := Participant{
		kind:  ParticipantKindGuest,
		name:  strings.TrimSpace(name),
		email: strings.TrimSpace(email),
		phone: strings.TrimSpace(phone),
	}
	if p.name == "" {
		return Participant{}, fmt.Errorf("guest participant requires a name")
	}
	if p.email == "" {
		return Participant{}, fmt.Errorf("guest participant requires an email")
	}
	return p, nil
}

// RestoreParticipant rebuilds a union from persisted columns without
// re-validating; rows already passed the constructors once.
func RestoreParticipant(kind ParticipantKind, userID *uuid.UUID, name, email, phone string) Participant {
	p := Participant{kind: kind, name: name, email: email, phone: phone}
	if userID != nil {
		p.userID = *userID
	}
	return p
}

// Kind returns the variant tag.
func (p Participant) Kind() ParticipantKind { return p.kind }

// IsGuest reports whether the participant is the guest variant.
func (p Participant) IsGuest() bool { return p.kind == ParticipantKindGuest }

// UserID returns the linked user id and whether one exists.
func (p Participant) UserID() (uuid.UUID, bool) {
	if p.kind != ParticipantKindAccount || p.userID == uuid.Nil {
		return uuid.Nil, false
	}
	return p.userID, true
}

// Name returns the display name for either variant.
func (p Participant) Name() string { return p.name }

// Email returns the contact email for either variant.
func (p Participant) Email() string { return p.email }

// Phone returns the contact phone, possibly empty.
func (p Participant) Phone() string { return p.phone }

// IsZero reports whether the union was never populated.
func (p Participant) IsZero() bool { return p.kind == "" }

// Package registration is the registration state machine. It derives a
// participant's status and legal actions from the stored facts (event type,
// fee, membership, confirmed flag) and validates the preconditions of every
// mutation. Nothing here is stored or performs I/O.
package registration

import (
	"fmt"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
)

// Status is a participant's derived progress for one event.
type Status string

const (
	Unregistered   Status = "UNREGISTERED"
	AwaitingAction Status = "AWAITING_ACTION"
	PendingPayment Status = "PENDING_PAYMENT"
	Confirmed      Status = "CONFIRMED"
)

// Action is something the participant may do next.
type Action string

const (
	ActionLogin      Action = "LOGIN"
	ActionRegister   Action = "REGISTER"
	ActionCreateTeam Action = "CREATE_TEAM"
	ActionJoinTeam   Action = "JOIN_TEAM"
	ActionPay        Action = "PAY"
	ActionEditTeam   Action = "EDIT_TEAM"
)

// Entry is a participant's Team or Registration for an event. At most one
// field is set; the zero Entry means "not entered".
type Entry struct {
	Team         *model.Team
	Registration *model.Registration
}

// TeamEntry wraps a team.
func TeamEntry(t *model.Team) Entry { return Entry{Team: t} }

// RegistrationEntry wraps a registration.
func RegistrationEntry(r *model.Registration) Entry { return Entry{Registration: r} }

// None reports whether the entry is empty.
func (e Entry) None() bool {
	return e.Team == nil && e.Registration == nil
}

// Confirmed returns the stored flag.
func (e Entry) Confirmed() bool {
	switch {
	case e.Team != nil:
		return e.Team.Confirmed
	case e.Registration != nil:
		return e.Registration.Confirmed
	}
	return false
}

// Fee returns the fee snapshot taken when the entry was created.
func (e Entry) Fee() int64 {
	switch {
	case e.Team != nil:
		return e.Team.Fee
	case e.Registration != nil:
		return e.Registration.Fee
	}
	return 0
}

// Subject returns the payment subject reference for the entry.
func (e Entry) Subject() (model.SubjectRef, bool) {
	switch {
	case e.Team != nil:
		return model.SubjectRef{Kind: model.SubjectTeam, ID: e.Team.ID}, true
	case e.Registration != nil:
		return model.SubjectRef{Kind: model.SubjectRegistration, ID: e.Registration.ID}, true
	}
	return model.SubjectRef{}, false
}

// Includes reports whether participantID is part of the entry.
func (e Entry) Includes(participantID int64) bool {
	switch {
	case e.Team != nil:
		return e.Team.HasMember(participantID)
	case e.Registration != nil:
		return e.Registration.ParticipantID == participantID
	}
	return false
}

// ControlledBy reports whether participantID may pay for or edit the
// entry: the team leader, or the registrant of a solo entry.
func (e Entry) ControlledBy(participantID int64) bool {
	switch {
	case e.Team != nil:
		return e.Team.LeaderID == participantID
	case e.Registration != nil:
		return e.Registration.ParticipantID == participantID
	}
	return false
}

// StatusOf derives participantID's status for event from entry. An entry
// the participant is not part of counts as no entry.
func StatusOf(event *model.Event, entry Entry, participantID int64) Status {
	if entry.None() || !entry.Includes(participantID) {
		if event.Type == model.EventTeam {
			return AwaitingAction
		}
		return Unregistered
	}
	if entry.Confirmed() || entry.Fee() == 0 {
		return Confirmed
	}
	return PendingPayment
}

// Actions lists what participantID may do next, in display order.
func Actions(event *model.Event, entry Entry, participantID int64) []Action {
	status := StatusOf(event, entry, participantID)
	switch status {
	case Unregistered:
		return []Action{ActionRegister}
	case AwaitingAction:
		return []Action{ActionCreateTeam, ActionJoinTeam}
	}

	var actions []Action
	controlled := entry.ControlledBy(participantID)
	if status == PendingPayment && controlled {
		actions = append(actions, ActionPay)
	}
	if entry.Team != nil && controlled && !entry.Team.Confirmed {
		actions = append(actions, ActionEditTeam)
	}
	if event.Type == model.EventSoloMulti {
		actions = append(actions, ActionRegister)
	}
	return actions
}

// ConfirmedAtCreation reports whether a new solo registration for event is
// final the moment it is written (nothing to pay).
func ConfirmedAtCreation(event *model.Event) bool {
	return event.Type.Solo() && event.Fee == 0
}

// CheckRegister validates a registerSolo call against the event. The
// at-most-one rule for SOLO_SINGLE is enforced by the store.
func CheckRegister(event *model.Event) error {
	if !event.Type.Solo() {
		return apperr.New(apperr.KindInvalidRequest, "this is a team event: create or join a team")
	}
	return nil
}

// CheckCreateTeam validates a createTeam call against the event.
func CheckCreateTeam(event *model.Event, name string) error {
	if event.Type != model.EventTeam {
		return apperr.New(apperr.KindInvalidRequest, "this is a solo event: register instead")
	}
	if name == "" {
		return apperr.New(apperr.KindInvalidRequest, "team name is required")
	}
	return nil
}

// CheckJoin validates joining team. alreadyInTeam is whether the
// participant is a member of any team for the event.
func CheckJoin(event *model.Event, team *model.Team, alreadyInTeam bool) error {
	if alreadyInTeam {
		return apperr.ErrAlreadyInTeam
	}
	if event.TeamFull(len(team.Members)) {
		return apperr.New(apperr.KindTeamFull, fmt.Sprintf("team %s is full", team.Name))
	}
	if team.Confirmed {
		return apperr.New(apperr.KindAlreadyConfirmed, "team is already confirmed; membership is closed")
	}
	return nil
}

// CheckEdit validates an edit of team by callerID.
func CheckEdit(team *model.Team, callerID int64) error {
	if team.LeaderID != callerID {
		return apperr.ErrForbidden
	}
	if team.Confirmed {
		return apperr.New(apperr.KindAlreadyConfirmed, "team is already confirmed; edits are locked")
	}
	return nil
}

// CheckOrder validates starting a payment of amount for entry by callerID.
func CheckOrder(entry Entry, callerID, amount int64) error {
	if entry.None() {
		return apperr.ErrNotFound
	}
	if !entry.ControlledBy(callerID) {
		if entry.Team != nil {
			return apperr.ErrForbidden
		}
		return apperr.New(apperr.KindForbidden, "only the registrant can pay for this registration")
	}
	if entry.Confirmed() {
		return apperr.ErrAlreadyConfirmed
	}
	if entry.Fee() == 0 {
		return apperr.New(apperr.KindInvalidRequest, "nothing to pay for this event")
	}
	if amount != entry.Fee() {
		return apperr.New(apperr.KindInvalidRequest, fmt.Sprintf("amount must be %d", entry.Fee()))
	}
	return nil
}

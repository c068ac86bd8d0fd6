// Package view derives what a client should render for a participant's
// standing in one event. It reads nothing and stores nothing: the service
// loads the facts and Project turns them into the payload the UI consumes.
package view

import (
	"github.com/Shivanand-hulikatti/event-registration/internal/codec"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/registration"
)

// Input is everything Project needs.
type Input struct {
	Event *model.Event
	// Identity is nil for unauthenticated callers.
	Identity *model.Identity
	// Entry is the caller's team, or the solo registration the view is about.
	Entry registration.Entry
	// Registrations lists every solo entry of the caller for the event.
	Registrations []model.Registration
	// OpenOrder is the entry's CREATED or PENDING order, if any.
	OpenOrder *model.PaymentOrder
}

// View is the read model for GET /events/{id}/status.
type View struct {
	Event           model.Event           `json:"event"`
	Status          registration.Status   `json:"status"`
	Actions         []registration.Action `json:"actions"`
	ParticipantCode string                `json:"participant_code,omitempty"`
	TeamCode        string                `json:"team_code,omitempty"`
	Team            *model.Team           `json:"team,omitempty"`
	Registrations   []model.Registration  `json:"registrations,omitempty"`
	IsLeader        bool                  `json:"is_leader"`
	AmountDue       int64                 `json:"amount_due"`
	// PayFor is the subject to pass to createOrder when PAY is offered.
	PayFor    *model.SubjectRef   `json:"pay_for,omitempty"`
	OpenOrder *model.PaymentOrder `json:"open_order,omitempty"`
}

// Project builds the view for in.
func Project(c *codec.Codec, in Input) View {
	v := View{Event: *in.Event}

	if in.Identity == nil {
		v.Status = registration.StatusOf(in.Event, registration.Entry{}, 0)
		v.Actions = []registration.Action{registration.ActionLogin}
		return v
	}

	pid := in.Identity.ParticipantID
	v.ParticipantCode = c.Encode(codec.KindParticipant, pid)
	v.Status = registration.StatusOf(in.Event, in.Entry, pid)
	v.Actions = registration.Actions(in.Event, in.Entry, pid)
	if v.Actions == nil {
		v.Actions = []registration.Action{}
	}
	v.Registrations = in.Registrations

	if t := in.Entry.Team; t != nil && t.HasMember(pid) {
		v.Team = t
		v.TeamCode = c.Encode(codec.KindTeam, t.ID)
		v.IsLeader = t.LeaderID == pid
	}

	if v.Status == registration.PendingPayment {
		v.AmountDue = in.Entry.Fee()
		if in.Entry.ControlledBy(pid) {
			if subject, ok := in.Entry.Subject(); ok {
				v.PayFor = &subject
			}
			v.OpenOrder = in.OpenOrder
		}
	}
	return v
}

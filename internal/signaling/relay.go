// Package signaling relays WebRTC call negotiation events between users.
// The relay is stateless: it resolves the target through presence and
// forwards the payload verbatim, or drops it silently when the target has
// no live connection. Call records are tracked separately over HTTP.
package signaling

import (
	"log/slog"

	"comm_core/internal/event"
	"comm_core/internal/presence"
)

type Relay struct {
	registry *presence.Registry
	log      *slog.Logger
}

func NewRelay(registry *presence.Registry, log *slog.Logger) *Relay {
	return &Relay{registry: registry, log: log}
}

// CallUser forwards a call offer to the callee. An absent callee is not an
// error; the caller's client times out on its own.
func (r *Relay) CallUser(in event.CallUser) {
	target, ok := r.registry.Lookup(in.UserToCallID)
	if !ok {
		r.log.Debug("call target offline", slog.Int64("user_id", in.UserToCallID))
		return
	}
	callType := in.CallType
	if callType == "" {
		callType = "video"
	}
	target.Emit(event.CallIncomingName, event.CallIncoming{
		Signal:   in.SignalData,
		From:     in.FromUser,
		CallType: callType,
	})
}

func (r *Relay) AnswerCall(in event.AnswerCall) {
	if target, ok := r.registry.Lookup(in.To); ok {
		target.Emit(event.CallAnsweredName, event.CallAnswered{Signal: in.Signal})
	}
}

func (r *Relay) ICECandidate(in event.ICECandidate) {
	if target, ok := r.registry.Lookup(in.Target); ok {
		target.Emit(event.ICECandidateName, event.ICEForward{Candidate: in.Candidate})
	}
}

func (r *Relay) EndCall(in event.EndCall) {
	if target, ok := r.registry.Lookup(in.To); ok {
		target.Emit(event.CallEndedName, nil)
	}
}

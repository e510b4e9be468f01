package authz

import (
	"errors"
	"testing"

	"github.com/onnwee/debatecast/internal/debate"
	"github.com/onnwee/debatecast/internal/session"
)

var allFeatures = debate.Features{VotingEnabled: true, ChatEnabled: true, ReactionsEnabled: true}

func TestGate_ModeratorOnlyActions(t *testing.T) {
	g := NewGate(DefaultLobbyPolicy())
	live := State{Status: debate.StatusLive, Features: allFeatures}

	for _, action := range []Action{ActionEnd, ActionMute, ActionKick, ActionToggleSpeaking, ActionStart} {
		t.Run(string(action), func(t *testing.T) {
			if !g.CanPerform(session.RoleModerator, action, live) {
				t.Errorf("moderator should be allowed to %s", action)
			}
			for _, role := range []session.Role{session.RoleParticipant, session.RoleAudience} {
				err := g.Check(role, action, live)
				if !errors.Is(err, ErrAuthorizationDenied) {
					t.Errorf("%s %s: error = %v, want ErrAuthorizationDenied", role, action, err)
				}
			}
		})
	}
}

func TestGate_Check(t *testing.T) {
	tests := []struct {
		name    string
		lobby   LobbyPolicy
		role    session.Role
		action  Action
		state   State
		allowed bool
	}{
		{"audience votes live", DefaultLobbyPolicy(), session.RoleAudience, ActionVote, State{debate.StatusLive, allFeatures}, true},
		{"participant cannot vote", DefaultLobbyPolicy(), session.RoleParticipant, ActionVote, State{debate.StatusLive, allFeatures}, false},
		{"moderator cannot vote", DefaultLobbyPolicy(), session.RoleModerator, ActionVote, State{debate.StatusLive, allFeatures}, false},
		{"voting disabled", DefaultLobbyPolicy(), session.RoleAudience, ActionVote, State{debate.StatusLive, debate.Features{ChatEnabled: true}}, false},
		{"lobby voting closed by default", DefaultLobbyPolicy(), session.RoleAudience, ActionVote, State{debate.StatusUpcoming, allFeatures}, false},
		{"lobby voting opened by policy", LobbyPolicy{Voting: true}, session.RoleAudience, ActionVote, State{debate.StatusUpcoming, allFeatures}, true},
		{"chat any role", DefaultLobbyPolicy(), session.RoleParticipant, ActionChat, State{debate.StatusLive, allFeatures}, true},
		{"chat disabled", DefaultLobbyPolicy(), session.RoleModerator, ActionChat, State{debate.StatusLive, debate.Features{}}, false},
		{"lobby chat default on", DefaultLobbyPolicy(), session.RoleAudience, ActionChat, State{debate.StatusUpcoming, allFeatures}, true},
		{"lobby chat off by policy", LobbyPolicy{}, session.RoleAudience, ActionChat, State{debate.StatusUpcoming, allFeatures}, false},
		{"reactions disabled", DefaultLobbyPolicy(), session.RoleAudience, ActionReaction, State{debate.StatusLive, debate.Features{ChatEnabled: true}}, false},
		{"reactions enabled", DefaultLobbyPolicy(), session.RoleAudience, ActionReaction, State{debate.StatusLive, allFeatures}, true},
		{"end requires live", DefaultLobbyPolicy(), session.RoleModerator, ActionEnd, State{debate.StatusUpcoming, allFeatures}, false},
		{"cancel only in lobby", DefaultLobbyPolicy(), session.RoleModerator, ActionCancel, State{debate.StatusLive, allFeatures}, false},
		{"cancel in lobby", DefaultLobbyPolicy(), session.RoleModerator, ActionCancel, State{debate.StatusUpcoming, allFeatures}, true},
		{"nothing after completion", DefaultLobbyPolicy(), session.RoleModerator, ActionStart, State{debate.StatusCompleted, allFeatures}, false},
		{"audience has no media", DefaultLobbyPolicy(), session.RoleAudience, ActionMedia, State{debate.StatusLive, allFeatures}, false},
		{"participant media", DefaultLobbyPolicy(), session.RoleParticipant, ActionMedia, State{debate.StatusLive, allFeatures}, true},
		{"audience enlists in lobby", DefaultLobbyPolicy(), session.RoleAudience, ActionEnlist, State{debate.StatusUpcoming, allFeatures}, true},
		{"enlist locked when live", DefaultLobbyPolicy(), session.RoleAudience, ActionEnlist, State{debate.StatusLive, allFeatures}, false},
		{"participant withdraws", DefaultLobbyPolicy(), session.RoleParticipant, ActionWithdraw, State{debate.StatusUpcoming, allFeatures}, true},
		{"unknown action", DefaultLobbyPolicy(), session.RoleModerator, Action("dance"), State{debate.StatusLive, allFeatures}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(tt.lobby)
			err := g.Check(tt.role, tt.action, tt.state)
			if tt.allowed && err != nil {
				t.Errorf("Check() = %v, want allowed", err)
			}
			if !tt.allowed && !errors.Is(err, ErrAuthorizationDenied) {
				t.Errorf("Check() = %v, want ErrAuthorizationDenied", err)
			}
			if got := g.CanPerform(tt.role, tt.action, tt.state); got != tt.allowed {
				t.Errorf("CanPerform() = %v, want %v", got, tt.allowed)
			}
		})
	}
}

func TestCheckTarget(t *testing.T) {
	participant := session.ConnectedParticipant{Identity: "alice", Role: session.RoleParticipant}
	audience := session.ConnectedParticipant{Identity: "bob", Role: session.RoleAudience}
	moderator := session.ConnectedParticipant{Identity: "mod", Role: session.RoleModerator}

	tests := []struct {
		name    string
		action  Action
		target  session.ConnectedParticipant
		found   bool
		wantErr error
	}{
		{"toggle participant", ActionToggleSpeaking, participant, true, nil},
		{"toggle audience", ActionToggleSpeaking, audience, true, ErrInvalidTarget},
		{"kick audience", ActionKick, audience, true, nil},
		{"kick missing", ActionKick, session.ConnectedParticipant{}, false, ErrInvalidTarget},
		{"kick self", ActionKick, moderator, true, ErrInvalidTarget},
		{"mute participant", ActionMute, participant, true, nil},
		{"untargeted action", ActionEnd, session.ConnectedParticipant{}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTarget(tt.action, "mod", tt.target, tt.found)
			if tt.wantErr == nil && err != nil {
				t.Errorf("CheckTarget() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckTarget() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

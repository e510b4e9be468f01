package livekit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/onnwee/debatecast/internal/room"
)

// Room token lifetimes. Clients rejoin through the coordinator to get a
// fresh token, so tokens are short lived.
const (
	DefaultTokenExpiry = 5 * time.Minute
	MinTokenExpiry     = 1 * time.Minute
	MaxTokenExpiry     = 15 * time.Minute
)

var (
	ErrInvalidExpiry    = errors.New("token expiry must be between 1 and 15 minutes")
	ErrMissingAPIKey    = errors.New("livekit API key is required")
	ErrMissingAPISecret = errors.New("livekit API secret is required")
	ErrMissingRoomName  = errors.New("room name is required")
	ErrMissingIdentity  = errors.New("participant identity is required")
)

// TokenService signs room access tokens with the LiveKit API credentials.
type TokenService struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// NewTokenService creates a TokenService. Both credentials are required.
func NewTokenService(apiKey, apiSecret string) (*TokenService, error) {
	switch {
	case apiKey == "":
		return nil, ErrMissingAPIKey
	case apiSecret == "":
		return nil, ErrMissingAPISecret
	}
	return &TokenService{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}, nil
}

// TokenRequest describes one room token.
type TokenRequest struct {
	RoomKey  string
	Identity string
	Grant    room.Grant
	// Expiry defaults to DefaultTokenExpiry.
	Expiry time.Duration
}

// tokenMetadata is attached to the LiveKit participant so room events can be
// matched back to coordinator roles.
type tokenMetadata struct {
	Role string `json:"role"`
}

// roleFor names the coordinator role a grant was issued for.
func roleFor(g room.Grant) string {
	switch {
	case g.RoomAdmin:
		return "moderator"
	case g.CanPublish:
		return "participant"
	default:
		return "audience"
	}
}

// Issue signs a token for req.
func (s *TokenService) Issue(req TokenRequest) (room.Token, error) {
	if req.RoomKey == "" {
		return room.Token{}, ErrMissingRoomName
	}
	if req.Identity == "" {
		return room.Token{}, ErrMissingIdentity
	}
	expiry := req.Expiry
	if expiry == 0 {
		expiry = DefaultTokenExpiry
	}
	if expiry < MinTokenExpiry || expiry > MaxTokenExpiry {
		return room.Token{}, ErrInvalidExpiry
	}

	grant := &auth.VideoGrant{
		RoomJoin:  true,
		Room:      req.RoomKey,
		RoomAdmin: req.Grant.RoomAdmin,
	}
	grant.SetCanPublish(req.Grant.CanPublish)
	grant.SetCanSubscribe(true)
	// Chat and reactions travel over the coordinator socket, not the data channel.
	grant.SetCanPublishData(false)

	meta, err := json.Marshal(tokenMetadata{Role: roleFor(req.Grant)})
	if err != nil {
		return room.Token{}, fmt.Errorf("encode token metadata: %w", err)
	}

	at := auth.NewAccessToken(s.apiKey, s.apiSecret)
	at.SetIdentity(req.Identity)
	at.AddGrant(grant)
	at.SetMetadata(string(meta))
	at.SetValidFor(expiry)

	jwt, err := at.ToJWT()
	if err != nil {
		return room.Token{}, fmt.Errorf("sign room token: %w", err)
	}
	return room.Token{Token: jwt, ExpiresAt: s.now().Add(expiry).UTC()}, nil
}

// IssueToken implements room.TokenIssuer with the default expiry.
func (s *TokenService) IssueToken(key, identity string, grant room.Grant) (room.Token, error) {
	return s.Issue(TokenRequest{RoomKey: key, Identity: identity, Grant: grant})
}

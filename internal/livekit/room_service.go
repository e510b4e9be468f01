// Package livekit provides the LiveKit implementation of the room provider
// and access token issuance for debate rooms.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/onnwee/debatecast/internal/room"
	"github.com/onnwee/debatecast/internal/tracing"
	"github.com/twitchtv/twirp"
)

// ErrRoomServiceNotConfigured is returned when room operations are attempted without credentials.
var ErrRoomServiceNotConfigured = errors.New("livekit room service not configured")

// Room defaults applied on creation.
const (
	DefaultEmptyTimeout    uint32 = 10 * 60 // seconds an empty room survives on the server
	DefaultMaxParticipants uint32 = 0       // unlimited
)

// roomClient is the subset of lksdk.RoomServiceClient used here.
type roomClient interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
	RemoveParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.RemoveParticipantResponse, error)
	GetParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.ParticipantInfo, error)
	MutePublishedTrack(ctx context.Context, req *livekit.MuteRoomTrackRequest) (*livekit.MuteRoomTrackResponse, error)
}

// RoomService implements room.Provider on a LiveKit server.
type RoomService struct {
	client          roomClient
	emptyTimeout    uint32
	maxParticipants uint32
}

var (
	_ room.Provider = (*RoomService)(nil)
	_ room.Muter    = (*RoomService)(nil)
)

// NewRoomService creates a RoomService. Returns nil if url, apiKey, or
// apiSecret is empty (video coordination will not be available).
func NewRoomService(url, apiKey, apiSecret string) *RoomService {
	if url == "" || apiKey == "" || apiSecret == "" {
		return nil
	}
	return newRoomService(lksdk.NewRoomServiceClient(url, apiKey, apiSecret))
}

func newRoomService(client roomClient) *RoomService {
	return &RoomService{
		client:          client,
		emptyTimeout:    DefaultEmptyTimeout,
		maxParticipants: DefaultMaxParticipants,
	}
}

// EnsureRoom returns the existing room or creates it. An "already exists"
// answer from the server is treated as success.
func (s *RoomService) EnsureRoom(ctx context.Context, key string) (_ room.Handle, err error) {
	if s == nil || s.client == nil {
		return room.Handle{}, ErrRoomServiceNotConfigured
	}
	ctx, endSpan := tracing.StartProviderSpan(ctx, "ensure", key)
	defer func() { endSpan(err) }()

	h, err := s.RoomStatus(ctx, key)
	if err != nil {
		return room.Handle{}, err
	}
	if h.Status == room.StatusCreated {
		return h, nil
	}

	lkRoom, err := s.client.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            key,
		EmptyTimeout:    s.emptyTimeout,
		MaxParticipants: s.maxParticipants,
	})
	if err != nil {
		if isAlreadyExists(err) {
			return s.RoomStatus(ctx, key)
		}
		return room.Handle{}, fmt.Errorf("%w: failed to create room: %w", room.ErrProviderUnavailable, err)
	}
	return toHandle(lkRoom), nil
}

// EndRoom deletes the LiveKit room, disconnecting all participants.
func (s *RoomService) EndRoom(ctx context.Context, key string) (err error) {
	if s == nil || s.client == nil {
		return ErrRoomServiceNotConfigured
	}
	ctx, endSpan := tracing.StartProviderSpan(ctx, "end", key)
	defer func() { endSpan(err) }()

	if _, err = s.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: key}); err != nil {
		if isNotFound(err) {
			return room.ErrRoomNotFound
		}
		return fmt.Errorf("%w: failed to delete room: %w", room.ErrProviderUnavailable, err)
	}
	return nil
}

// DisconnectParticipant removes (kicks) a participant from the room.
func (s *RoomService) DisconnectParticipant(ctx context.Context, key, identity string) (err error) {
	if s == nil || s.client == nil {
		return ErrRoomServiceNotConfigured
	}
	ctx, endSpan := tracing.StartProviderSpan(ctx, "disconnect", key)
	defer func() { endSpan(err) }()

	_, err = s.client.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     key,
		Identity: identity,
	})
	if err != nil {
		if isNotFound(err) {
			return room.ErrParticipantNotFound
		}
		return fmt.Errorf("%w: failed to remove participant: %w", room.ErrProviderUnavailable, err)
	}
	return nil
}

// MuteParticipant mutes each audio track the participant publishes. A
// participant with no audio track is already silent.
func (s *RoomService) MuteParticipant(ctx context.Context, key, identity string) (err error) {
	if s == nil || s.client == nil {
		return ErrRoomServiceNotConfigured
	}
	ctx, endSpan := tracing.StartProviderSpan(ctx, "mute", key)
	defer func() { endSpan(err) }()

	p, err := s.client.GetParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     key,
		Identity: identity,
	})
	if err != nil {
		if isNotFound(err) {
			return room.ErrParticipantNotFound
		}
		return fmt.Errorf("%w: failed to get participant: %w", room.ErrProviderUnavailable, err)
	}

	for _, track := range p.GetTracks() {
		if track.GetType() != livekit.TrackType_AUDIO || track.GetMuted() {
			continue
		}
		_, err = s.client.MutePublishedTrack(ctx, &livekit.MuteRoomTrackRequest{
			Room:     key,
			Identity: identity,
			TrackSid: track.GetSid(),
			Muted:    true,
		})
		if err != nil {
			return fmt.Errorf("%w: failed to mute track: %w", room.ErrProviderUnavailable, err)
		}
	}
	return nil
}

// RoomStatus looks the room up by name. A missing room is StatusAbsent.
func (s *RoomService) RoomStatus(ctx context.Context, key string) (room.Handle, error) {
	if s == nil || s.client == nil {
		return room.Handle{}, ErrRoomServiceNotConfigured
	}

	resp, err := s.client.ListRooms(ctx, &livekit.ListRoomsRequest{
		Names: []string{key},
	})
	if err != nil {
		return room.Handle{}, fmt.Errorf("%w: failed to get room: %w", room.ErrProviderUnavailable, err)
	}
	for _, r := range resp.Rooms {
		if r.Name == key {
			return toHandle(r), nil
		}
	}
	return room.Handle{Key: key, Status: room.StatusAbsent, ObservedAt: time.Now()}, nil
}

func toHandle(r *livekit.Room) room.Handle {
	return room.Handle{
		Key:              r.Name,
		Status:           room.StatusCreated,
		ParticipantCount: int(r.NumParticipants),
		ObservedAt:       time.Now(),
	}
}

func isNotFound(err error) bool {
	var twerr twirp.Error
	if errors.As(err, &twerr) {
		return twerr.Code() == twirp.NotFound
	}
	return false
}

func isAlreadyExists(err error) bool {
	var twerr twirp.Error
	if errors.As(err, &twerr) && twerr.Code() == twirp.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

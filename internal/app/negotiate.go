package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
)

// Negotiate joins room and builds the session device from the router
// capabilities. Any failure is terminal for the session.
func (s *Session) Negotiate(ctx context.Context, room domain.RoomID) (*core.Device, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, core.ErrSessionClosed
	case s.device != nil || s.joining:
		s.mu.Unlock()
		return nil, core.ErrAlreadyJoined
	}
	s.joining = true
	s.mu.Unlock()

	device, err := s.negotiate(ctx, room)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.joining = false
	if err != nil {
		s.logger.Error().Err(err).Str("room", string(room)).Msg("negotiation failed")
		return nil, err
	}
	s.room = room
	s.device = device
	s.logger.Info().Str("room", string(room)).Int("codecs", len(device.RtpCapabilities().Codecs)).Msg("device loaded")
	return device, nil
}

func (s *Session) negotiate(ctx context.Context, room domain.RoomID) (*core.Device, error) {
	var resp core.JoinRoomResponse
	if err := s.signal.Request(ctx, core.MethodJoinRoom, core.JoinRoomRequest{RoomName: room}, &resp); err != nil {
		return nil, fmt.Errorf("join room %s: %w", room, err)
	}
	if resp.RtpCapabilities == nil {
		return nil, fmt.Errorf("%s: %w: no rtpCapabilities", core.MethodJoinRoom, core.ErrMalformedResponse)
	}

	local, err := s.engine.Capabilities()
	if err != nil {
		if errors.Is(err, core.ErrUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrUnsupported, err)
	}
	return core.LoadDevice(local, *resp.RtpCapabilities)
}

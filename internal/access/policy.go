package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

// ErrStoreFailure wraps lookup errors other than "not found".
var ErrStoreFailure = errors.New("whiteboard store unavailable")

type whiteboardEntry struct {
	whiteboard *types.Whiteboard
	expires    time.Time
}

type participantEntry struct {
	participant *types.WhiteboardParticipant
	expires     time.Time
}

// Policy decides join permission from ownership, explicit membership and
// visibility, in that order. Whiteboards and existing participant records
// are cached for ttl; a missing participant record is never cached, so a
// new grant takes effect on the next join.
type Policy struct {
	store  interfaces.WhiteboardStore
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	whiteboards  map[string]whiteboardEntry
	participants map[string]participantEntry // whiteboardID + "\x00" + userID
	mu           sync.RWMutex
}

// NewPolicy creates a policy over store. ttl <= 0 disables caching.
func NewPolicy(store interfaces.WhiteboardStore, ttl time.Duration, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		store:        store,
		ttl:          ttl,
		logger:       logger,
		now:          time.Now,
		whiteboards:  make(map[string]whiteboardEntry),
		participants: make(map[string]participantEntry),
	}
}

// Authorize implements interfaces.AccessPolicy.
func (p *Policy) Authorize(ctx context.Context, userID, whiteboardID string) (types.AccessDecision, error) {
	deny := types.AccessDecision{CanAccess: false}
	if userID == "" || !types.IsValidWhiteboardID(whiteboardID) {
		return deny, nil
	}

	wb, err := p.whiteboard(ctx, whiteboardID)
	if errors.Is(err, interfaces.ErrWhiteboardNotFound) {
		return deny, nil
	}
	if err != nil {
		return deny, err
	}

	if wb.CreatedBy == userID {
		return types.AccessDecision{CanAccess: true, Role: types.RoleOwner}, nil
	}

	participant, err := p.participant(ctx, whiteboardID, userID)
	if err != nil {
		return deny, err
	}
	if participant != nil {
		if role, ok := types.ParseRole(string(participant.Role)); ok {
			return types.AccessDecision{CanAccess: true, Role: role}, nil
		}
		p.logger.Warn("Ignoring participant record with unknown role",
			zap.String("whiteboard_id", whiteboardID),
			zap.String("user_id", userID),
			zap.String("role", string(participant.Role)))
	}

	if wb.IsPublic {
		return types.AccessDecision{CanAccess: true, Role: types.RoleViewer}, nil
	}
	return deny, nil
}

// Invalidate drops every cached record for whiteboardID.
func (p *Policy) Invalidate(whiteboardID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.whiteboards, whiteboardID)
	prefix := whiteboardID + "\x00"
	for key := range p.participants {
		if strings.HasPrefix(key, prefix) {
			delete(p.participants, key)
		}
	}
}

func (p *Policy) whiteboard(ctx context.Context, id string) (*types.Whiteboard, error) {
	p.mu.RLock()
	entry, ok := p.whiteboards[id]
	p.mu.RUnlock()
	if ok && p.now().Before(entry.expires) {
		return entry.whiteboard, nil
	}

	wb, err := p.store.GetWhiteboard(ctx, id)
	if errors.Is(err, interfaces.ErrWhiteboardNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	if p.ttl > 0 {
		p.mu.Lock()
		p.whiteboards[id] = whiteboardEntry{whiteboard: wb, expires: p.now().Add(p.ttl)}
		p.mu.Unlock()
	}
	return wb, nil
}

func (p *Policy) participant(ctx context.Context, whiteboardID, userID string) (*types.WhiteboardParticipant, error) {
	key := whiteboardID + "\x00" + userID

	p.mu.RLock()
	entry, ok := p.participants[key]
	p.mu.RUnlock()
	if ok && p.now().Before(entry.expires) {
		return entry.participant, nil
	}

	participant, err := p.store.GetParticipant(ctx, whiteboardID, userID)
	if errors.Is(err, interfaces.ErrParticipantNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	if p.ttl > 0 {
		p.mu.Lock()
		p.participants[key] = participantEntry{participant: participant, expires: p.now().Add(p.ttl)}
		p.mu.Unlock()
	}
	return participant, nil
}

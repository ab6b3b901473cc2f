package hub

import (
	"sort"

	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

type member struct {
	conn        interfaces.Connection
	participant types.Participant
}

// presence is the per-room roster and cursor map. Only the room actor touches it.
type presence struct {
	members map[string]*member // by connection id
	order   []string           // connection ids in join order
	cursors map[string]types.Cursor
}

func newPresence() *presence {
	return &presence{
		members: make(map[string]*member),
		cursors: make(map[string]types.Cursor),
	}
}

func (p *presence) add(conn interfaces.Connection, user types.User, role types.Role) (*member, error) {
	if _, exists := p.members[conn.ID()]; exists {
		return nil, ErrAlreadyMember
	}
	m := &member{
		conn: conn,
		participant: types.Participant{
			User:         user,
			Role:         role,
			ConnectionID: conn.ID(),
		},
	}
	p.members[conn.ID()] = m
	p.order = append(p.order, conn.ID())
	return m, nil
}

func (p *presence) remove(connID string) (*member, bool) {
	m, exists := p.members[connID]
	if !exists {
		return nil, false
	}
	delete(p.members, connID)
	for i, id := range p.order {
		if id == connID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return m, true
}

func (p *presence) get(connID string) (*member, bool) {
	m, exists := p.members[connID]
	return m, exists
}

func (p *presence) len() int {
	return len(p.order)
}

// connectionsOf counts live connections held by userID in this room.
func (p *presence) connectionsOf(userID string) int {
	n := 0
	for _, m := range p.members {
		if m.participant.User.ID == userID {
			n++
		}
	}
	return n
}

// each visits members in join order.
func (p *presence) each(fn func(*member)) {
	for _, id := range p.order {
		fn(p.members[id])
	}
}

func (p *presence) setCursor(c types.Cursor) {
	p.cursors[c.UserID] = c
}

func (p *presence) removeCursor(userID string) {
	delete(p.cursors, userID)
}

// pruneCursors drops cursors last moved before cutoff (unix ms).
func (p *presence) pruneCursors(cutoff int64) int {
	pruned := 0
	for userID, c := range p.cursors {
		if c.Timestamp < cutoff {
			delete(p.cursors, userID)
			pruned++
		}
	}
	return pruned
}

// snapshot lists participants in join order and live cursors sorted by user id.
// Cursors older than cutoff are left out even if the sweep has not run yet.
func (p *presence) snapshot(cutoff int64) types.SyncResponsePayload {
	snap := types.SyncResponsePayload{
		Participants: make([]types.Participant, 0, len(p.order)),
		Cursors:      make([]types.Cursor, 0, len(p.cursors)),
	}
	p.each(func(m *member) {
		snap.Participants = append(snap.Participants, m.participant)
	})
	for _, c := range p.cursors {
		if c.Timestamp >= cutoff {
			snap.Cursors = append(snap.Cursors, c)
		}
	}
	sort.Slice(snap.Cursors, func(i, j int) bool {
		return snap.Cursors[i].UserID < snap.Cursors[j].UserID
	})
	return snap
}

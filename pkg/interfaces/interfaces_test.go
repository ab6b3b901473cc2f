package interfaces_test

import (
	"context"
	"errors"
	"testing"

	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

// Mock implementations for testing
type mockConnection struct{}

func (m *mockConnection) ID() string          { return "c1" }
func (m *mockConnection) Send(_ []byte) error { return nil }
func (m *mockConnection) IsOpen() bool        { return true }
func (m *mockConnection) Close() error        { return nil }

type mockStore struct{}

func (m *mockStore) GetWhiteboard(ctx context.Context, id string) (*types.Whiteboard, error) {
	return nil, interfaces.ErrWhiteboardNotFound
}

func (m *mockStore) GetParticipant(ctx context.Context, wb, user string) (*types.WhiteboardParticipant, error) {
	return nil, interfaces.ErrParticipantNotFound
}

type mockSession struct{ closed bool }

func (m *mockSession) HandleMessage(ctx context.Context, data []byte) {}
func (m *mockSession) Close(ctx context.Context)                      { m.closed = true }

type mockRouter struct{}

func (m *mockRouter) Connect(conn interfaces.Connection) interfaces.ClientSession {
	return &mockSession{}
}

func TestInterfaces_Compliance(t *testing.T) {
	var conn interfaces.Connection = &mockConnection{}
	var store interfaces.WhiteboardStore = &mockStore{}
	var router interfaces.MessageRouter = &mockRouter{}

	session := router.Connect(conn)
	session.HandleMessage(context.Background(), []byte(`{}`))
	session.Close(context.Background())

	if !session.(*mockSession).closed {
		t.Error("Close should reach the session implementation")
	}

	if _, err := store.GetWhiteboard(context.Background(), "B1"); !errors.Is(err, interfaces.ErrWhiteboardNotFound) {
		t.Errorf("Expected ErrWhiteboardNotFound, got %v", err)
	}
}

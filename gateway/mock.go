package gateway

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ruteri/identity-sdk/interfaces"
)

// MockGateway mocks the interfaces.Gateway interface
type MockGateway struct {
	mock.Mock
}

// CreateMemberID mocks the CreateMemberID method
func (m *MockGateway) CreateMemberID(ctx context.Context, nonce string) (string, error) {
	args := m.Called(ctx, nonce)
	return args.String(0), args.Error(1)
}

// GetMember mocks the GetMember method
func (m *MockGateway) GetMember(ctx context.Context, memberID string) (interfaces.MemberSnapshot, error) {
	args := m.Called(ctx, memberID)
	return args.Get(0).(interfaces.MemberSnapshot), args.Error(1)
}

// UpdateMember mocks the UpdateMember method
func (m *MockGateway) UpdateMember(ctx context.Context, update interfaces.MemberUpdate, sig interfaces.Signature, metadata []interfaces.OperationMetadata) (interfaces.MemberSnapshot, error) {
	args := m.Called(ctx, update, sig, metadata)
	return args.Get(0).(interfaces.MemberSnapshot), args.Error(1)
}

// ResolveAlias mocks the ResolveAlias method
func (m *MockGateway) ResolveAlias(ctx context.Context, alias interfaces.Alias) (string, error) {
	args := m.Called(ctx, alias)
	return args.String(0), args.Error(1)
}

// BeginRecovery mocks the BeginRecovery method
func (m *MockGateway) BeginRecovery(ctx context.Context, alias interfaces.Alias) (string, error) {
	args := m.Called(ctx, alias)
	return args.String(0), args.Error(1)
}

// CompleteRecovery mocks the CompleteRecovery method
func (m *MockGateway) CompleteRecovery(ctx context.Context, verificationID, code string, privilegedKey interfaces.Key) (interfaces.RecoveryOperation, error) {
	args := m.Called(ctx, verificationID, code, privilegedKey)
	return args.Get(0).(interfaces.RecoveryOperation), args.Error(1)
}

// DefaultRecoveryAgent mocks the DefaultRecoveryAgent method
func (m *MockGateway) DefaultRecoveryAgent(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// LookupPublicKey mocks the LookupPublicKey method
func (m *MockGateway) LookupPublicKey(ctx context.Context, memberID, keyID string) (interfaces.Key, error) {
	args := m.Called(ctx, memberID, keyID)
	return args.Get(0).(interfaces.Key), args.Error(1)
}

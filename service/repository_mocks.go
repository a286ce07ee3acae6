package service

import (
	"context"

	"borrowledger/events"
	"borrowledger/models"

	"github.com/stretchr/testify/mock"
)

// MockBorrowerRepository is a mock implementation of BorrowerRepository
type MockBorrowerRepository struct {
	mock.Mock
}

func (m *MockBorrowerRepository) GetByAddr(ctx context.Context, addr string) (*models.Borrower, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Borrower), args.Error(1)
}

func (m *MockBorrowerRepository) GetByAddrForUpdate(ctx context.Context, addr string) (*models.Borrower, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Borrower), args.Error(1)
}

func (m *MockBorrowerRepository) Create(ctx context.Context, borrower *models.Borrower) (bool, error) {
	args := m.Called(ctx, borrower)
	return args.Bool(0), args.Error(1)
}

func (m *MockBorrowerRepository) Save(ctx context.Context, borrower *models.Borrower) error {
	args := m.Called(ctx, borrower)
	return args.Error(0)
}

func (m *MockBorrowerRepository) List(ctx context.Context, limit int, startAfter string) ([]*models.Borrower, error) {
	args := m.Called(ctx, limit, startAfter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Borrower), args.Error(1)
}

// MockDelegateShareRepository is a mock implementation of DelegateShareRepository
type MockDelegateShareRepository struct {
	mock.Mock
}

func (m *MockDelegateShareRepository) Get(ctx context.Context, borrower, delegate string) (*models.DelegateShare, error) {
	args := m.Called(ctx, borrower, delegate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DelegateShare), args.Error(1)
}

func (m *MockDelegateShareRepository) GetForUpdate(ctx context.Context, borrower, delegate string) (*models.DelegateShare, error) {
	args := m.Called(ctx, borrower, delegate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DelegateShare), args.Error(1)
}

func (m *MockDelegateShareRepository) Increment(ctx context.Context, borrower, delegate string, delta int64) (*models.DelegateShare, error) {
	args := m.Called(ctx, borrower, delegate, delta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DelegateShare), args.Error(1)
}

func (m *MockDelegateShareRepository) Save(ctx context.Context, share *models.DelegateShare) error {
	args := m.Called(ctx, share)
	return args.Error(0)
}

func (m *MockDelegateShareRepository) ListByBorrower(ctx context.Context, borrower string) ([]*models.DelegateShare, error) {
	args := m.Called(ctx, borrower)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DelegateShare), args.Error(1)
}

// MockLegacyDelegateRepository is a mock implementation of LegacyDelegateRepository
type MockLegacyDelegateRepository struct {
	mock.Mock
}

func (m *MockLegacyDelegateRepository) GetAll(ctx context.Context) ([]*models.LegacyDelegate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.LegacyDelegate), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// MockMetricsRecorder is a mock implementation of MetricsRecorder
type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) RecordLedgerOperation(operation, outcome string) {
	m.Called(operation, outcome)
}

func (m *MockMetricsRecorder) RecordBorrowLimitRejection() {
	m.Called()
}

// MockUnitOfWork is a mock implementation of UnitOfWork
type MockUnitOfWork struct {
	mock.Mock
	borrowerRepo       BorrowerRepository
	delegateShareRepo  DelegateShareRepository
	legacyDelegateRepo LegacyDelegateRepository
	eventBus           EventPublisher
}

// SetRepositories sets the repositories returned by the getters
func (m *MockUnitOfWork) SetRepositories(borrowerRepo BorrowerRepository, delegateShareRepo DelegateShareRepository, legacyDelegateRepo LegacyDelegateRepository, eventBus EventPublisher) {
	m.borrowerRepo = borrowerRepo
	m.delegateShareRepo = delegateShareRepo
	m.legacyDelegateRepo = legacyDelegateRepo
	m.eventBus = eventBus
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) BeginReadOnly(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) BorrowerRepository() BorrowerRepository {
	return m.borrowerRepo
}

func (m *MockUnitOfWork) DelegateShareRepository() DelegateShareRepository {
	return m.delegateShareRepo
}

func (m *MockUnitOfWork) LegacyDelegateRepository() LegacyDelegateRepository {
	return m.legacyDelegateRepo
}

func (m *MockUnitOfWork) EventBus() EventPublisher {
	return m.eventBus
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() UnitOfWork {
	args := m.Called()
	return args.Get(0).(UnitOfWork)
}

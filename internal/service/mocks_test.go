package service_test

import (
	"context"
	"database/sql"
	"time"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/mailer"
	"github.com/lemarche/tender-engine/internal/matching"
	"github.com/lemarche/tender-engine/internal/model"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
)

// Mock repositories. Each field overrides one method; unset methods
// return zero values.

type MockTenderRepo struct {
	CreateFn      func(ctx context.Context, t *model.Tender) error
	GetByIDFn     func(ctx context.Context, id int64) (*model.Tender, error)
	GetBySlugFn   func(ctx context.Context, slug string) (*model.Tender, error)
	ListTendersFn func(ctx context.Context, offset, limit int, status, kind string) ([]*model.Tender, int, error)

	MarkSubmittedFn             func(ctx context.Context, id int64) (bool, error)
	MarkValidatedFn             func(ctx context.Context, id int64) (bool, error)
	MarkRequestedModificationFn func(ctx context.Context, id int64) (bool, error)
	MarkRejectedFn              func(ctx context.Context, id int64, reason string) (bool, error)
	MarkSentFn                  func(ctx context.Context, id int64) (bool, error)

	IDsValidatedBeforeFn func(ctx context.Context, cutoff time.Time) ([]int64, error)

	SetTransactionedCalls []int64
	RecountCalls          []int64
}

func (m *MockTenderRepo) Create(ctx context.Context, t *model.Tender) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, t)
	}
	t.ID = 1
	return nil
}

func (m *MockTenderRepo) GetByID(ctx context.Context, id int64) (*model.Tender, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return &model.Tender{ID: id, Status: model.StatusDraft}, nil
}

func (m *MockTenderRepo) GetBySlug(ctx context.Context, slug string) (*model.Tender, error) {
	if m.GetBySlugFn != nil {
		return m.GetBySlugFn(ctx, slug)
	}
	return &model.Tender{ID: 1, Slug: slug, Status: model.StatusSent}, nil
}

func (m *MockTenderRepo) ListTenders(ctx context.Context, offset, limit int, status, kind string) ([]*model.Tender, int, error) {
	if m.ListTendersFn != nil {
		return m.ListTendersFn(ctx, offset, limit, status, kind)
	}
	return nil, 0, nil
}

func (m *MockTenderRepo) MarkSubmitted(ctx context.Context, id int64) (bool, error) {
	if m.MarkSubmittedFn != nil {
		return m.MarkSubmittedFn(ctx, id)
	}
	return true, nil
}

func (m *MockTenderRepo) MarkValidated(ctx context.Context, id int64) (bool, error) {
	if m.MarkValidatedFn != nil {
		return m.MarkValidatedFn(ctx, id)
	}
	return true, nil
}

func (m *MockTenderRepo) MarkRequestedModification(ctx context.Context, id int64) (bool, error) {
	if m.MarkRequestedModificationFn != nil {
		return m.MarkRequestedModificationFn(ctx, id)
	}
	return true, nil
}

func (m *MockTenderRepo) MarkRejected(ctx context.Context, id int64, reason string) (bool, error) {
	if m.MarkRejectedFn != nil {
		return m.MarkRejectedFn(ctx, id, reason)
	}
	return true, nil
}

func (m *MockTenderRepo) MarkSent(ctx context.Context, id int64) (bool, error) {
	if m.MarkSentFn != nil {
		return m.MarkSentFn(ctx, id)
	}
	return true, nil
}

func (m *MockTenderRepo) SetTransactioned(ctx context.Context, id int64) error {
	m.SetTransactionedCalls = append(m.SetTransactionedCalls, id)
	return nil
}

func (m *MockTenderRepo) Recount(ctx context.Context, id int64) error {
	m.RecountCalls = append(m.RecountCalls, id)
	return nil
}

func (m *MockTenderRepo) IDsForRecount(ctx context.Context) ([]int64, error) {
	return nil, nil
}

func (m *MockTenderRepo) IDsValidatedBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	if m.IDsValidatedBeforeFn != nil {
		return m.IDsValidatedBeforeFn(ctx, cutoff)
	}
	return nil, nil
}

type MockLinkRepo struct {
	Links map[repository.LinkKey]*model.TenderSupplier

	MarkSentCalls     []repository.LinkKey
	DeleteQueuedCalls []int64
	MarkSentFn        func(ctx context.Context, tenderID, supplierID int64, sendError string) (bool, error)
}

func key(tenderID, supplierID int64) repository.LinkKey {
	return repository.LinkKey{TenderID: tenderID, SupplierID: supplierID}
}

func (m *MockLinkRepo) Get(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error) {
	return m.Links[key(tenderID, supplierID)], nil
}

func (m *MockLinkRepo) MarkSent(ctx context.Context, tenderID, supplierID int64, sendError string) (bool, error) {
	m.MarkSentCalls = append(m.MarkSentCalls, key(tenderID, supplierID))
	if m.MarkSentFn != nil {
		return m.MarkSentFn(ctx, tenderID, supplierID, sendError)
	}
	link := m.Links[key(tenderID, supplierID)]
	if link == nil || link.State != model.LinkQueued {
		return false, nil
	}
	link.State = model.LinkSent
	link.SendError = sendError
	return true, nil
}

func (m *MockLinkRepo) RecordInteraction(ctx context.Context, tenderID, supplierID int64, apply func(*model.TenderSupplier) error) (*model.TenderSupplier, error) {
	link := m.Links[key(tenderID, supplierID)]
	if link == nil {
		return nil, &apperrors.LinkNotFoundError{TenderID: tenderID, SupplierID: supplierID}
	}
	if err := apply(link); err != nil {
		return nil, err
	}
	return link, nil
}

func (m *MockLinkRepo) DeleteQueued(ctx context.Context, tenderID int64) (int64, error) {
	m.DeleteQueuedCalls = append(m.DeleteQueuedCalls, tenderID)
	var deleted int64
	for k, l := range m.Links {
		if k.TenderID == tenderID && l.State == model.LinkQueued {
			delete(m.Links, k)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockLinkRepo) ListStaleQueued(ctx context.Context, olderThan sql.NullTime, limit int) ([]repository.LinkKey, error) {
	var keys []repository.LinkKey
	for k, l := range m.Links {
		if l.State == model.LinkQueued {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

type MockSupplierRepo struct {
	Suppliers []model.Supplier
}

func (m *MockSupplierRepo) GetByID(ctx context.Context, id int64) (*model.Supplier, error) {
	for i := range m.Suppliers {
		if m.Suppliers[i].ID == id {
			return &m.Suppliers[i], nil
		}
	}
	return nil, nil
}

func (m *MockSupplierRepo) Snapshot(ctx context.Context) (matching.Snapshot, error) {
	return matching.Snapshot{Suppliers: m.Suppliers}, nil
}

type MockMessageRepo struct {
	Created []*model.TransactionalMessage
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *model.TransactionalMessage) error {
	m.Created = append(m.Created, msg)
	return nil
}

func (m *MockMessageRepo) UpdateProviderStatus(ctx context.Context, providerMessageID string, status model.SendStatus, event string) (bool, error) {
	for _, msg := range m.Created {
		if msg.ProviderMessageID == providerMessageID {
			msg.SendStatus = status
			return true, nil
		}
	}
	return false, nil
}

func (m *MockMessageRepo) ListForLink(ctx context.Context, tenderID, supplierID int64) ([]model.TransactionalMessage, error) {
	return nil, nil
}

type MockDispatchStore struct {
	DispatchTxFn func(ctx context.Context, tenderID int64, candidates []repository.Candidate) ([]repository.Candidate, bool, error)
	Received     []repository.Candidate
	Calls        int
}

func (m *MockDispatchStore) DispatchTx(ctx context.Context, tenderID int64, candidates []repository.Candidate) ([]repository.Candidate, bool, error) {
	m.Calls++
	m.Received = append(m.Received, candidates...)
	if m.DispatchTxFn != nil {
		return m.DispatchTxFn(ctx, tenderID, candidates)
	}
	return candidates, false, nil
}

type MockQueue struct {
	Published  []queue.Message
	Topics     []string
	PublishErr error
}

func (q *MockQueue) Publish(ctx context.Context, topic string, msg queue.Message) error {
	if q.PublishErr != nil {
		return q.PublishErr
	}
	q.Published = append(q.Published, msg)
	q.Topics = append(q.Topics, topic)
	return nil
}

func (q *MockQueue) Close() error { return nil }

type MockMailer struct {
	SendFn func(ctx context.Context, req mailer.SendRequest) (mailer.SendResult, error)
	Sent   []mailer.SendRequest
}

func (m *MockMailer) Send(ctx context.Context, req mailer.SendRequest) (mailer.SendResult, error) {
	m.Sent = append(m.Sent, req)
	if m.SendFn != nil {
		return m.SendFn(ctx, req)
	}
	return mailer.SendResult{ProviderMessageID: "prov-1"}, nil
}


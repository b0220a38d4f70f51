package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/model"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
	"github.com/lemarche/tender-engine/internal/service"
)

type MockPartnerRepo struct {
	Partners []model.PartnerShareTender
	Shares   map[[2]int64]*model.TenderPartner

	MarkSharedCalls [][2]int64
}

func (m *MockPartnerRepo) ListAll(ctx context.Context) ([]model.PartnerShareTender, error) {
	return m.Partners, nil
}

func (m *MockPartnerRepo) GetByID(ctx context.Context, id int64) (*model.PartnerShareTender, error) {
	for i := range m.Partners {
		if m.Partners[i].ID == id {
			return &m.Partners[i], nil
		}
	}
	return nil, nil
}

func (m *MockPartnerRepo) GetShare(ctx context.Context, tenderID, partnerID int64) (*model.TenderPartner, error) {
	return m.Shares[[2]int64{tenderID, partnerID}], nil
}

func (m *MockPartnerRepo) MarkShared(ctx context.Context, tenderID, partnerID int64) (bool, error) {
	m.MarkSharedCalls = append(m.MarkSharedCalls, [2]int64{tenderID, partnerID})
	share := m.Shares[[2]int64{tenderID, partnerID}]
	if share == nil || share.EmailSendDate != nil {
		return false, nil
	}
	now := time.Now()
	share.EmailSendDate = &now
	return true, nil
}

func validatedTenderRepo() *MockTenderRepo {
	return &MockTenderRepo{
		GetByIDFn: func(ctx context.Context, id int64) (*model.Tender, error) {
			return &model.Tender{
				ID:       id,
				Status:   model.StatusValidated,
				Sectors:  []string{"cleaning"},
				GeoScope: model.GeoScopeCountry,
			}, nil
		},
	}
}

func activeSupplier(id int64, sectors ...string) model.Supplier {
	return model.Supplier{
		ID:           id,
		Kind:         model.SupplierKindEI,
		Sectors:      sectors,
		GeoRange:     model.GeoRangeCountry,
		IsActive:     true,
		ContactEmail: "contact@example.org",
	}
}

func TestDispatchCreatesLinksAndEnqueuesNotifications(t *testing.T) {
	store := &MockDispatchStore{}
	q := &MockQueue{}
	svc := &service.DispatchService{
		TenderRepo: validatedTenderRepo(),
		Store:      store,
		Strategy: &service.MatcherStrategy{SupplierRepo: &MockSupplierRepo{
			Suppliers: []model.Supplier{
				activeSupplier(10, "cleaning"),
				activeSupplier(11, "catering"),
				activeSupplier(12, "cleaning"),
			},
		}},
		Queue: q,
		Log:   zerolog.Nop(),
	}

	if err := svc.Dispatch(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if store.Calls != 1 {
		t.Fatalf("expected one store call, got %d", store.Calls)
	}
	if len(q.Published) != 2 {
		t.Fatalf("expected 2 notify tasks, got %d", len(q.Published))
	}
	for i, topic := range q.Topics {
		if topic != queue.TopicNotify {
			t.Errorf("task %d published on %s", i, topic)
		}
	}
	if q.Published[0].SupplierID != 10 || q.Published[1].SupplierID != 12 {
		t.Errorf("unexpected suppliers notified: %+v", q.Published)
	}
}

func TestDispatchAlreadySentIsNoOp(t *testing.T) {
	repo := &MockTenderRepo{
		GetByIDFn: func(ctx context.Context, id int64) (*model.Tender, error) {
			return &model.Tender{ID: id, Status: model.StatusSent}, nil
		},
	}
	store := &MockDispatchStore{}
	q := &MockQueue{}
	svc := &service.DispatchService{
		TenderRepo: repo,
		Store:      store,
		Strategy:   &service.MatcherStrategy{SupplierRepo: &MockSupplierRepo{}},
		Queue:      q,
		Log:        zerolog.Nop(),
	}

	if err := svc.Dispatch(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if store.Calls != 0 {
		t.Errorf("store must not be touched for a sent tender")
	}
	if len(q.Published) != 0 {
		t.Errorf("no tasks expected, got %d", len(q.Published))
	}
}

func TestDispatchRefusesNonValidatedTender(t *testing.T) {
	repo := &MockTenderRepo{
		GetByIDFn: func(ctx context.Context, id int64) (*model.Tender, error) {
			return &model.Tender{ID: id, Status: model.StatusDraft}, nil
		},
	}
	svc := &service.DispatchService{
		TenderRepo: repo,
		Store:      &MockDispatchStore{},
		Strategy:   &service.MatcherStrategy{SupplierRepo: &MockSupplierRepo{}},
		Queue:      &MockQueue{},
		Log:        zerolog.Nop(),
	}

	err := svc.Dispatch(context.Background(), 3)
	var terr *apperrors.IllegalTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected illegal transition error, got %v", err)
	}
}

func TestDispatchConcurrentLoserStopsQuietly(t *testing.T) {
	store := &MockDispatchStore{
		DispatchTxFn: func(ctx context.Context, tenderID int64, candidates []repository.Candidate) ([]repository.Candidate, bool, error) {
			return nil, true, nil
		},
	}
	q := &MockQueue{}
	svc := &service.DispatchService{
		TenderRepo: validatedTenderRepo(),
		Store:      store,
		Strategy: &service.MatcherStrategy{SupplierRepo: &MockSupplierRepo{
			Suppliers: []model.Supplier{activeSupplier(10, "cleaning")},
		}},
		Queue: q,
		Log:   zerolog.Nop(),
	}

	if err := svc.Dispatch(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if len(q.Published) != 0 {
		t.Errorf("concurrent loser must not enqueue, got %d tasks", len(q.Published))
	}
}

func TestPartnerStrategyFiltersOnAmountAndRegion(t *testing.T) {
	partners := &MockPartnerRepo{Partners: []model.PartnerShareTender{
		{ID: 1, Name: "big-deals", AmountIn: model.AmountRange250To500K, ContactEmailList: []string{"a@p.example"}},
		{ID: 2, Name: "bretagne-only", Regions: []string{"Bretagne"}, ContactEmailList: []string{"b@p.example"}},
		{ID: 3, Name: "all-comers", ContactEmailList: []string{"c@p.example"}},
	}}
	strategy := &service.PartnerStrategy{PartnerRepo: partners}

	tender := &model.Tender{
		ID:       5,
		Amount:   model.AmountRange10To15K,
		GeoScope: model.GeoScopeRegions,
		Regions:  []string{"Normandie"},
	}
	candidates, err := strategy.Candidates(context.Background(), tender)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %+v", len(candidates), candidates)
	}
	if candidates[0].PartnerID != 3 {
		t.Errorf("expected partner 3, got %d", candidates[0].PartnerID)
	}
	if candidates[0].SupplierID != 0 {
		t.Errorf("partner candidate must not carry a supplier id, got %d", candidates[0].SupplierID)
	}
	if candidates[0].Source != model.LinkSourcePartner {
		t.Errorf("expected PARTNER source, got %s", candidates[0].Source)
	}
}

func TestDispatchPartnerStrategyKeepsIdSpacesApart(t *testing.T) {
	partners := &MockPartnerRepo{Partners: []model.PartnerShareTender{
		{ID: 7, Name: "all-comers", ContactEmailList: []string{"deals@partner.example"}},
	}}
	store := &MockDispatchStore{}
	q := &MockQueue{}
	svc := &service.DispatchService{
		TenderRepo: validatedTenderRepo(),
		Store:      store,
		Strategy:   &service.PartnerStrategy{PartnerRepo: partners},
		Queue:      q,
		Log:        zerolog.Nop(),
	}

	if err := svc.Dispatch(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if len(store.Received) != 1 {
		t.Fatalf("expected one candidate at the store, got %d", len(store.Received))
	}
	if store.Received[0].PartnerID != 7 || store.Received[0].SupplierID != 0 {
		t.Errorf("candidate ids mixed up: %+v", store.Received[0])
	}
	if len(q.Published) != 1 {
		t.Fatalf("expected one notify task, got %d", len(q.Published))
	}
	if q.Published[0].PartnerID != 7 || q.Published[0].SupplierID != 0 {
		t.Errorf("notify task must address the partner, got %+v", q.Published[0])
	}
}

func TestReconcileValidatedRepublishesDispatch(t *testing.T) {
	repo := &MockTenderRepo{
		IDsValidatedBeforeFn: func(ctx context.Context, cutoff time.Time) ([]int64, error) {
			return []int64{4, 9}, nil
		},
	}
	q := &MockQueue{}
	svc := &service.DispatchService{
		TenderRepo: repo,
		Store:      &MockDispatchStore{},
		Strategy:   &service.MatcherStrategy{SupplierRepo: &MockSupplierRepo{}},
		Queue:      q,
		Log:        zerolog.Nop(),
	}

	n, err := svc.ReconcileValidated(context.Background(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 requeued tenders, got %d", n)
	}
	for i, topic := range q.Topics {
		if topic != queue.TopicDispatch {
			t.Errorf("task %d published on %s", i, topic)
		}
	}
	if q.Published[0].TenderID != 4 || q.Published[1].TenderID != 9 {
		t.Errorf("unexpected tenders requeued: %+v", q.Published)
	}
}

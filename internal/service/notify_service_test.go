package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/mailer"
	"github.com/lemarche/tender-engine/internal/model"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
	"github.com/lemarche/tender-engine/internal/service"
)

func newNotifyFixture(mail *MockMailer) (*service.NotifyService, *MockLinkRepo, *MockMessageRepo) {
	links := &MockLinkRepo{Links: map[repository.LinkKey]*model.TenderSupplier{
		key(1, 10): {TenderID: 1, SupplierID: 10, State: model.LinkQueued},
	}}
	messages := &MockMessageRepo{}
	repo := &MockTenderRepo{
		GetByIDFn: func(ctx context.Context, id int64) (*model.Tender, error) {
			return &model.Tender{
				ID:            id,
				Slug:          "nettoyage-bureaux-a1b2",
				Kind:          model.KindQuote,
				Sectors:       []string{"cleaning", "catering"},
				GeoScope:      model.GeoScopeRegions,
				Regions:       []string{"Bretagne"},
				AuthorCompany: "Acme SA",
				Status:        model.StatusSent,
			}, nil
		},
	}
	suppliers := &MockSupplierRepo{Suppliers: []model.Supplier{{
		ID:               10,
		ContactFirstName: "Claire",
		ContactEmail:     "claire@example.org",
	}}}
	svc := &service.NotifyService{
		TenderRepo:   repo,
		SupplierRepo: suppliers,
		LinkRepo:     links,
		MessageRepo:  messages,
		Mailer:       mail,
		SiteBaseURL:  "https://marche.example",
		TaskDeadline: time.Second,
		Log:          zerolog.Nop(),
	}
	return svc, links, messages
}

func TestNotifySuccessMarksLinkAndRecordsMessage(t *testing.T) {
	mail := &MockMailer{}
	svc, links, messages := newNotifyFixture(mail)

	if err := svc.Notify(context.Background(), 1, 10, 0); err != nil {
		t.Fatal(err)
	}

	if len(mail.Sent) != 1 {
		t.Fatalf("expected one send, got %d", len(mail.Sent))
	}
	req := mail.Sent[0]
	if req.TemplateCode != service.TemplateTenderPresentation {
		t.Errorf("unexpected template: %s", req.TemplateCode)
	}
	if req.ToEmail != "claire@example.org" {
		t.Errorf("unexpected recipient: %s", req.ToEmail)
	}
	if req.Variables["BUYER_COMPANY"] != "Acme SA" {
		t.Errorf("unexpected buyer company: %q", req.Variables["BUYER_COMPANY"])
	}
	if req.Variables["SECTORS"] != "cleaning, catering" {
		t.Errorf("unexpected sectors: %q", req.Variables["SECTORS"])
	}
	if req.Variables["PERIMETERS"] != "Bretagne" {
		t.Errorf("unexpected perimeters: %q", req.Variables["PERIMETERS"])
	}
	if !strings.HasSuffix(req.Variables["TENDER_URL"], "/tenders/nettoyage-bureaux-a1b2") {
		t.Errorf("unexpected url: %q", req.Variables["TENDER_URL"])
	}

	if links.Links[key(1, 10)].State != model.LinkSent {
		t.Errorf("link not marked sent: %s", links.Links[key(1, 10)].State)
	}
	if len(messages.Created) != 1 {
		t.Fatalf("expected one message row, got %d", len(messages.Created))
	}
	msg := messages.Created[0]
	if msg.SendStatus != model.SendStatusSent || msg.ProviderMessageID != "prov-1" {
		t.Errorf("unexpected message record: %+v", msg)
	}
	if msg.Context.Kind != model.ContextLink || msg.Context.TenderID != 1 || msg.Context.SupplierID != 10 {
		t.Errorf("message context wrong: %+v", msg.Context)
	}
}

func TestNotifyMissingLinkIsNoOp(t *testing.T) {
	mail := &MockMailer{}
	svc, _, messages := newNotifyFixture(mail)

	if err := svc.Notify(context.Background(), 1, 99, 0); err != nil {
		t.Fatal(err)
	}
	if len(mail.Sent) != 0 {
		t.Error("no send expected for a missing link")
	}
	if len(messages.Created) != 0 {
		t.Error("no message row expected for a missing link")
	}
}

func TestNotifyNonQueuedLinkIsNoOp(t *testing.T) {
	mail := &MockMailer{}
	svc, links, _ := newNotifyFixture(mail)
	links.Links[key(1, 10)].State = model.LinkSent

	if err := svc.Notify(context.Background(), 1, 10, 1); err != nil {
		t.Fatal(err)
	}
	if len(mail.Sent) != 0 {
		t.Error("duplicate task must not resend")
	}
}

func TestNotifyTransientFailureLeavesLinkQueued(t *testing.T) {
	sendErr := &apperrors.TransientExternalError{Op: "send mail", Err: errors.New("503")}
	mail := &MockMailer{
		SendFn: func(ctx context.Context, req mailer.SendRequest) (mailer.SendResult, error) {
			return mailer.SendResult{}, sendErr
		},
	}
	svc, links, messages := newNotifyFixture(mail)

	err := svc.Notify(context.Background(), 1, 10, 2)
	if !apperrors.IsTransient(err) {
		t.Fatalf("expected the transient error back, got %v", err)
	}
	if links.Links[key(1, 10)].State != model.LinkQueued {
		t.Errorf("link must stay QUEUED, got %s", links.Links[key(1, 10)].State)
	}
	if len(messages.Created) != 1 {
		t.Fatalf("expected a failed message row, got %d", len(messages.Created))
	}
	if messages.Created[0].SendStatus != model.SendStatusFailed || messages.Created[0].AttemptCount != 3 {
		t.Errorf("unexpected failure record: %+v", messages.Created[0])
	}
}

func TestNotifyTransientThenSuccess(t *testing.T) {
	calls := 0
	mail := &MockMailer{
		SendFn: func(ctx context.Context, req mailer.SendRequest) (mailer.SendResult, error) {
			calls++
			if calls == 1 {
				return mailer.SendResult{}, &apperrors.TransientExternalError{Op: "send mail", Err: errors.New("timeout")}
			}
			return mailer.SendResult{ProviderMessageID: "prov-2"}, nil
		},
	}
	svc, links, messages := newNotifyFixture(mail)

	if err := svc.Notify(context.Background(), 1, 10, 0); err == nil {
		t.Fatal("first attempt should fail")
	}
	if err := svc.Notify(context.Background(), 1, 10, 1); err != nil {
		t.Fatal(err)
	}

	if links.Links[key(1, 10)].State != model.LinkSent {
		t.Errorf("link not sent after retry: %s", links.Links[key(1, 10)].State)
	}
	if len(messages.Created) != 2 {
		t.Fatalf("expected two message rows, got %d", len(messages.Created))
	}
	if messages.Created[1].SendStatus != model.SendStatusSent {
		t.Errorf("retry should record a sent message, got %s", messages.Created[1].SendStatus)
	}
}

func TestNotifyPermanentFailureClosesLink(t *testing.T) {
	mail := &MockMailer{
		SendFn: func(ctx context.Context, req mailer.SendRequest) (mailer.SendResult, error) {
			return mailer.SendResult{}, &apperrors.PermanentExternalError{Op: "send mail", Err: errors.New("unknown template")}
		},
	}
	svc, links, messages := newNotifyFixture(mail)

	if err := svc.Notify(context.Background(), 1, 10, 0); err != nil {
		t.Fatalf("permanent failure must not requeue, got %v", err)
	}
	link := links.Links[key(1, 10)]
	if link.State != model.LinkSent {
		t.Errorf("link should advance with an error, got %s", link.State)
	}
	if link.SendError == "" {
		t.Error("send error not recorded on link")
	}
	if len(messages.Created) != 1 || messages.Created[0].SendStatus != model.SendStatusFailed {
		t.Errorf("expected one failed message row, got %+v", messages.Created)
	}
}

func TestReconcileQueuedRepublishes(t *testing.T) {
	mail := &MockMailer{}
	svc, _, _ := newNotifyFixture(mail)
	q := &MockQueue{}

	n, err := svc.ReconcileQueued(context.Background(), q, time.Hour, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued link, got %d", n)
	}
	if len(q.Topics) != 1 || q.Topics[0] != queue.TopicNotify {
		t.Errorf("expected a notify task, got %v", q.Topics)
	}
}

func TestHandleProviderEventUpdatesMessage(t *testing.T) {
	mail := &MockMailer{}
	svc, _, messages := newNotifyFixture(mail)
	messages.Created = append(messages.Created, &model.TransactionalMessage{
		ProviderMessageID: "prov-9",
		SendStatus:        model.SendStatusSent,
	})

	if err := svc.HandleProviderEvent(context.Background(), "prov-9", "bounce"); err != nil {
		t.Fatal(err)
	}
	if messages.Created[0].SendStatus != model.SendStatusFailed {
		t.Errorf("bounce should mark the message failed, got %s", messages.Created[0].SendStatus)
	}

	// unknown ids and events are ignored
	if err := svc.HandleProviderEvent(context.Background(), "nope", "bounce"); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleProviderEvent(context.Background(), "prov-9", "weird"); err != nil {
		t.Fatal(err)
	}
}

func newPartnerNotifyFixture(mail *MockMailer, partners *MockPartnerRepo) (*service.NotifyService, *MockMessageRepo) {
	messages := &MockMessageRepo{}
	repo := &MockTenderRepo{
		GetByIDFn: func(ctx context.Context, id int64) (*model.Tender, error) {
			return &model.Tender{
				ID:            id,
				Slug:          "nettoyage-bureaux-a1b2",
				Kind:          model.KindQuote,
				Sectors:       []string{"cleaning"},
				GeoScope:      model.GeoScopeCountry,
				AuthorCompany: "Acme SA",
				Status:        model.StatusSent,
			}, nil
		},
	}
	svc := &service.NotifyService{
		TenderRepo:   repo,
		SupplierRepo: &MockSupplierRepo{},
		LinkRepo:     &MockLinkRepo{},
		MessageRepo:  messages,
		PartnerRepo:  partners,
		Mailer:       mail,
		SiteBaseURL:  "https://marche.example",
		TaskDeadline: time.Second,
		Log:          zerolog.Nop(),
	}
	return svc, messages
}

func TestNotifyPartnerMailsContactListAndStampsShare(t *testing.T) {
	mail := &MockMailer{}
	partners := &MockPartnerRepo{
		Partners: []model.PartnerShareTender{{
			ID:               7,
			Name:             "all-comers",
			ContactEmailList: []string{"a@partner.example", "b@partner.example"},
		}},
		Shares: map[[2]int64]*model.TenderPartner{
			{1, 7}: {TenderID: 1, PartnerID: 7},
		},
	}
	svc, messages := newPartnerNotifyFixture(mail, partners)

	if err := svc.NotifyPartner(context.Background(), 1, 7, 0); err != nil {
		t.Fatal(err)
	}

	if len(mail.Sent) != 2 {
		t.Fatalf("expected one mail per contact address, got %d", len(mail.Sent))
	}
	if mail.Sent[0].TemplateCode != service.TemplatePartnerPresentation {
		t.Errorf("unexpected template: %s", mail.Sent[0].TemplateCode)
	}
	if mail.Sent[0].ToEmail != "a@partner.example" || mail.Sent[1].ToEmail != "b@partner.example" {
		t.Errorf("unexpected recipients: %s, %s", mail.Sent[0].ToEmail, mail.Sent[1].ToEmail)
	}
	if got := mail.Sent[0].Variables["PARTNER_NAME"]; got != "all-comers" {
		t.Errorf("unexpected partner name: %q", got)
	}
	if len(messages.Created) != 2 {
		t.Fatalf("expected 2 message rows, got %d", len(messages.Created))
	}
	if messages.Created[0].Context.Kind != model.ContextTender {
		t.Errorf("partner mails reference the tender, got %s", messages.Created[0].Context.Kind)
	}
	if partners.Shares[[2]int64{1, 7}].EmailSendDate == nil {
		t.Error("share not stamped after sending")
	}
}

func TestNotifyPartnerAlreadyStampedIsNoOp(t *testing.T) {
	mail := &MockMailer{}
	now := time.Now()
	partners := &MockPartnerRepo{
		Partners: []model.PartnerShareTender{{
			ID:               7,
			Name:             "all-comers",
			ContactEmailList: []string{"a@partner.example"},
		}},
		Shares: map[[2]int64]*model.TenderPartner{
			{1, 7}: {TenderID: 1, PartnerID: 7, EmailSendDate: &now},
		},
	}
	svc, _ := newPartnerNotifyFixture(mail, partners)

	if err := svc.NotifyPartner(context.Background(), 1, 7, 0); err != nil {
		t.Fatal(err)
	}
	if len(mail.Sent) != 0 {
		t.Errorf("no resend expected on a stamped share, got %d", len(mail.Sent))
	}
}

func TestNotifyPartnerTransientFailureLeavesShareUnstamped(t *testing.T) {
	mail := &MockMailer{SendFn: func(ctx context.Context, req mailer.SendRequest) (mailer.SendResult, error) {
		return mailer.SendResult{}, &apperrors.TransientExternalError{Op: "mail send", Err: errors.New("503")}
	}}
	partners := &MockPartnerRepo{
		Partners: []model.PartnerShareTender{{
			ID:               7,
			Name:             "all-comers",
			ContactEmailList: []string{"a@partner.example"},
		}},
		Shares: map[[2]int64]*model.TenderPartner{
			{1, 7}: {TenderID: 1, PartnerID: 7},
		},
	}
	svc, messages := newPartnerNotifyFixture(mail, partners)

	err := svc.NotifyPartner(context.Background(), 1, 7, 0)
	if !apperrors.IsTransient(err) {
		t.Fatalf("expected the transient error back, got %v", err)
	}
	if partners.Shares[[2]int64{1, 7}].EmailSendDate != nil {
		t.Error("share must stay unstamped so the task retries")
	}
	if len(messages.Created) != 1 || messages.Created[0].SendStatus != model.SendStatusFailed {
		t.Errorf("expected one failed message row, got %+v", messages.Created)
	}
}

package controllers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

type fakeConfirmer struct {
	reg        *models.Registration
	err        error
	sessionIDs []string
	refs       []string
	regIDs     []uuid.UUID
}

func (f *fakeConfirmer) ConfirmRegistration(ctx context.Context, registrationID uuid.UUID, paymentRef string) (*models.Registration, error) {
	f.regIDs = append(f.regIDs, registrationID)
	f.refs = append(f.refs, paymentRef)
	return f.reg, f.err
}

func (f *fakeConfirmer) ConfirmBySession(ctx context.Context, sessionID string) (*models.Registration, error) {
	f.sessionIDs = append(f.sessionIDs, sessionID)
	return f.reg, f.err
}

func confirmRequest(t *testing.T, registrationID uuid.UUID, body string) *http.Request {
	t.Helper()
	target := fmt.Sprintf("/api/v1/registrations/%s/confirm", registrationID)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func confirmRouter(fake *fakeConfirmer) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/registrations/{registrationId}/confirm", RegistrationConfirm(fake, nil))
	return r
}

func TestRegistrationConfirm_BySession(t *testing.T) {
	regID := uuid.New()
	fake := &fakeConfirmer{reg: &models.Registration{
		ID:      regID,
		EventID: uuid.New(),
		Status:  enums.RegistrationStatusConfirmed,
	}}
	router := confirmRouter(fake)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, confirmRequest(t, regID, `{"session_id":"cs_return_1"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(fake.sessionIDs) != 1 || fake.sessionIDs[0] != "cs_return_1" {
		t.Fatalf("expected session confirmation, got %v", fake.sessionIDs)
	}
	if len(fake.refs) != 0 {
		t.Fatalf("payment_ref path must not run, got %v", fake.refs)
	}
}

func TestRegistrationConfirm_SessionForOtherRegistration(t *testing.T) {
	fake := &fakeConfirmer{reg: &models.Registration{
		ID:     uuid.New(),
		Status: enums.RegistrationStatusConfirmed,
	}}
	router := confirmRouter(fake)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, confirmRequest(t, uuid.New(), `{"session_id":"cs_other"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for mismatched session, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRegistrationConfirm_ByPaymentRef(t *testing.T) {
	regID := uuid.New()
	fake := &fakeConfirmer{reg: &models.Registration{
		ID:      regID,
		EventID: uuid.New(),
		Status:  enums.RegistrationStatusConfirmed,
	}}
	router := confirmRouter(fake)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, confirmRequest(t, regID, `{"payment_ref":"pi_manual_1"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(fake.regIDs) != 1 || fake.regIDs[0] != regID {
		t.Fatalf("expected confirmation for %s, got %v", regID, fake.regIDs)
	}
	if fake.refs[0] != "pi_manual_1" {
		t.Fatalf("payment ref not forwarded: %v", fake.refs)
	}
}

func TestRegistrationConfirm_RequiresSessionOrRef(t *testing.T) {
	fake := &fakeConfirmer{}
	router := confirmRouter(fake)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, confirmRequest(t, uuid.New(), `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without session_id or payment_ref, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(fake.sessionIDs) != 0 || len(fake.regIDs) != 0 {
		t.Fatal("service must not be called on an invalid request")
	}
}

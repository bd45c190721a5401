package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/quota-admission-service/internal/model"
	"github.com/quota-admission-service/internal/store"
)

func newTestAdmission(t *testing.T, perMinute, perDay int) (*AdmissionService, string, *store.Memory) {
	t.Helper()

	m := store.NewMemory(time.Hour)
	registry := NewKeyRegistryService(m, 60, 10000)
	created, err := registry.Create(context.Background(), CreateKeyInput{
		Name:              "test-plan",
		Owner:             "acme",
		RequestsPerMinute: &perMinute,
		RequestsPerDay:    &perDay,
	})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	return NewAdmissionService(m), created.RawKey, m
}

func TestAdmitAllowed(t *testing.T) {
	svc, rawKey, _ := newTestAdmission(t, 5, 100)

	status, decision, err := svc.Admit(context.Background(), rawKey, "r1", "/v1/search", 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d", status)
	}
	if !decision.Allowed || decision.Limit != 5 || decision.Remaining != 4 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestAdmitDenied(t *testing.T) {
	svc, rawKey, _ := newTestAdmission(t, 1, 100)

	if _, _, err := svc.Admit(context.Background(), rawKey, "r1", "/v1/search", 1); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	status, decision, err := svc.Admit(context.Background(), rawKey, "r2", "/v1/search", 1)
	if err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", status)
	}
	if decision.Allowed || decision.Reason != model.ReasonRateLimited {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestAdmitInvalidKeyNeverTouchesAccounting(t *testing.T) {
	svc, rawKey, _ := newTestAdmission(t, 5, 100)

	status, decision, err := svc.Admit(context.Background(), "ak_wrong", "r1", "/v1/search", 1)
	if err != nil {
		t.Fatalf("admit with bad key: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", status)
	}
	if decision.Allowed || decision.Reason != model.ReasonInvalidKey {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	// The same requestId must charge normally afterwards: the failed lookup
	// left no accounting state behind.
	status, decision, err = svc.Admit(context.Background(), rawKey, "r1", "/v1/search", 1)
	if err != nil {
		t.Fatalf("admit with good key: %v", err)
	}
	if status != http.StatusOK || !decision.Allowed {
		t.Fatalf("unexpected decision: status=%d %+v", status, decision)
	}
}

func TestAdmitValidation(t *testing.T) {
	svc, rawKey, _ := newTestAdmission(t, 5, 100)

	t.Run("missing apiKey", func(t *testing.T) {
		_, _, err := svc.Admit(context.Background(), "", "r1", "", 1)
		assertKind(t, err, ErrBadRequest)
	})

	t.Run("missing requestId", func(t *testing.T) {
		_, _, err := svc.Admit(context.Background(), rawKey, "", "", 1)
		assertKind(t, err, ErrBadRequest)
	})

	t.Run("non-positive cost", func(t *testing.T) {
		_, _, err := svc.Admit(context.Background(), rawKey, "r1", "", 0)
		assertKind(t, err, ErrBadRequest)
	})
}

func TestRefundFlow(t *testing.T) {
	svc, rawKey, _ := newTestAdmission(t, 5, 100)

	if _, _, err := svc.Admit(context.Background(), rawKey, "r1", "", 1); err != nil {
		t.Fatalf("admit: %v", err)
	}

	refunded, err := svc.Refund(context.Background(), rawKey, "r1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !refunded {
		t.Fatal("expected refund to apply")
	}

	refunded, err = svc.Refund(context.Background(), rawKey, "r1")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if refunded {
		t.Fatal("second refund must report false")
	}

	t.Run("invalid key reports false, not an error", func(t *testing.T) {
		refunded, err := svc.Refund(context.Background(), "ak_wrong", "r1")
		if err != nil {
			t.Fatalf("refund with unknown key must not fail: %v", err)
		}
		if refunded {
			t.Fatal("refund with unknown key must report false")
		}
	})
}

func TestStatusReportsBothWindows(t *testing.T) {
	svc, rawKey, _ := newTestAdmission(t, 5, 100)

	for i := 0; i < 3; i++ {
		requestID := []string{"r1", "r2", "r3"}[i]
		if _, _, err := svc.Admit(context.Background(), rawKey, requestID, "", 1); err != nil {
			t.Fatalf("admit %s: %v", requestID, err)
		}
	}

	result, err := svc.Status(context.Background(), rawKey)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.Key.Name != "test-plan" {
		t.Fatalf("unexpected key name: %s", result.Key.Name)
	}
	if result.Usage.Minute.Used != 3 || result.Usage.Minute.Remaining != 2 {
		t.Fatalf("unexpected minute usage: %+v", result.Usage.Minute)
	}
	if result.Usage.Day.Used != 3 || result.Usage.Day.Remaining != 97 {
		t.Fatalf("unexpected day usage: %+v", result.Usage.Day)
	}

	t.Run("invalid key", func(t *testing.T) {
		_, err := svc.Status(context.Background(), "ak_wrong")
		assertKind(t, err, ErrUnauthorized)
	})
}

func TestDisabledKeyDeniedImmediately(t *testing.T) {
	svc, rawKey, m := newTestAdmission(t, 5, 100)

	keys, _, err := m.ListAPIKeys(context.Background(), 1, 10)
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v (%d)", err, len(keys))
	}
	if err := m.UpdateAPIKeyStatus(context.Background(), keys[0].ID, model.StatusDisabled); err != nil {
		t.Fatalf("disable: %v", err)
	}

	status, decision, err := svc.Admit(context.Background(), rawKey, "r1", "", 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if status != http.StatusUnauthorized || decision.Reason != model.ReasonInvalidKey {
		t.Fatalf("disabled key must look invalid: status=%d %+v", status, decision)
	}
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	svcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *service.Error, got %v", err)
	}
	if svcErr.Kind != kind {
		t.Fatalf("unexpected error kind: got %d want %d (%s)", svcErr.Kind, kind, svcErr.Code)
	}
}

package handler_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idlink/internal/contact/handler"
	"idlink/internal/contact/models"
	"idlink/internal/contact/service"
	"idlink/internal/contact/store"
	dErrors "idlink/pkg/domain-errors"
	"idlink/pkg/testutil"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := service.New(service.NewInMemoryStoreTx(store.NewMemory()))
	return routerFor(t, svc)
}

func routerFor(t *testing.T, svc handler.Service) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	router := chi.NewRouter()
	handler.New(svc, logger, nil).Register(router)
	return router
}

func TestIdentify_CreatesAndConsolidates(t *testing.T) {
	router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/identify",
		models.IdentifyRequest{Email: "a@x.com", PhoneNumber: "111"}))
	testutil.AssertStatus(t, rr, http.StatusOK)

	resp := testutil.UnmarshalResponse[models.IdentifyResponse](t, rr)
	primaryID := resp.Contact.PrimaryContactID
	assert.Equal(t, []string{"a@x.com"}, resp.Contact.Emails)
	assert.Equal(t, []string{"111"}, resp.Contact.PhoneNumbers)
	assert.Empty(t, resp.Contact.SecondaryContactIDs)

	// A partial match links a secondary to the same primary.
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/identify",
		models.IdentifyRequest{Email: "a@x.com", PhoneNumber: "222"}))
	testutil.AssertStatus(t, rr, http.StatusOK)

	resp = testutil.UnmarshalResponse[models.IdentifyResponse](t, rr)
	assert.Equal(t, primaryID, resp.Contact.PrimaryContactID)
	assert.Equal(t, []string{"111", "222"}, resp.Contact.PhoneNumbers)
	assert.Len(t, resp.Contact.SecondaryContactIDs, 1)
}

func TestIdentify_ResponseEnvelopeShape(t *testing.T) {
	router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/identify",
		models.IdentifyRequest{PhoneNumber: "987"}))
	testutil.AssertStatus(t, rr, http.StatusOK)

	raw := testutil.UnmarshalResponse[map[string]map[string]any](t, rr)
	contact, ok := (*raw)["contact"]
	require.True(t, ok, "result must be wrapped in a contact envelope")
	for _, key := range []string{"primaryContactId", "emails", "phoneNumbers", "secondaryContactIds"} {
		_, ok := contact[key]
		assert.True(t, ok, "missing envelope field %q", key)
	}
	assert.NotNil(t, contact["emails"], "absent identifiers serialize as empty arrays, not null")
}

func TestIdentify_ValidationErrors(t *testing.T) {
	router := newTestRouter(t)

	t.Run("both identifiers missing", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/identify",
			models.IdentifyRequest{}))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		testutil.AssertErrorCode(t, rr, string(dErrors.CodeValidation))
	})

	t.Run("malformed body", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/identify",
			`{"email": 123}`))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		testutil.AssertErrorCode(t, rr, string(dErrors.CodeBadRequest))
	})

	t.Run("malformed email", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/identify",
			models.IdentifyRequest{Email: "not-an-email"}))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

// failingService simulates a storage failure below the handler.
type failingService struct{}

func (failingService) Reconcile(context.Context, models.Identifiers) (*models.ConsolidatedContact, error) {
	return nil, dErrors.New(dErrors.CodeInternal, "storage unavailable")
}

func TestIdentify_StorageFailureIsGenericInternal(t *testing.T) {
	router := routerFor(t, failingService{})

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/identify",
		models.IdentifyRequest{Email: "a@x.com"}))
	testutil.AssertStatus(t, rr, http.StatusInternalServerError)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeInternal))

	resp := testutil.UnmarshalResponse[map[string]string](t, rr)
	assert.Equal(t, "failed to reconcile contact", (*resp)["message"], "internal detail must not leak")
}

func TestIdentify_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodGet, "/identify", nil)
	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusMethodNotAllowed)
}

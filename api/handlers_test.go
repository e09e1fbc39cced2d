/*
handlers_test.go - HTTP-level tests for the API handlers

Tests exercise the full router (middleware included) against an
in-memory SQLite store, so tenancy enforcement, validation and domain
error mapping are all covered at the wire level.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyos/tuition-engine/api"
	"github.com/academyos/tuition-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	handler := api.NewHandler(store, logger, 5)
	srv := httptest.NewServer(api.NewRouter(handler, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, org string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if org != "" {
		req.Header.Set("X-Org-ID", org)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createStudent(t *testing.T, srv *httptest.Server, org, name string) string {
	t.Helper()
	resp, body := do(t, srv, http.MethodPost, "/api/students", org,
		map[string]any{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

// =============================================================================
// TENANCY TESTS
// =============================================================================

func TestAPI_MissingOrgHeader_Rejected(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, srv, http.MethodGet, "/api/students", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "X-Org-ID")
}

func TestAPI_Healthz_NoTenantRequired(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CrossOrgStudent_NotFound(t *testing.T) {
	srv := newTestServer(t)
	id := createStudent(t, srv, "org-1", "Anna")

	resp, _ := do(t, srv, http.MethodGet, "/api/students/"+id, "org-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// CHARGE FLOW TESTS
// =============================================================================

func TestAPI_ChargeAndBalanceFlow(t *testing.T) {
	// GIVEN: A student with a 5000 payment
	// WHEN: Issuing a 3000 / 1.5h charge
	// THEN: Balance reads 2000 / 1h over the API

	srv := newTestServer(t)
	id := createStudent(t, srv, "org-1", "Anna")

	resp, _ := do(t, srv, http.MethodPost, "/api/payments", "org-1", map[string]any{
		"student_id":     id,
		"amount":         "5000",
		"academic_hours": "2.5",
		"method":         "card",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, charge := do(t, srv, http.MethodPost, "/api/charges", "org-1", map[string]any{
		"student_id":         id,
		"learning_unit_type": "group",
		"learning_unit_id":   "group-a1",
		"amount":             "3000",
		"academic_hours":     "1.5",
		"description":        "Занятие в группе A1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "active", charge["status"])

	resp, balance := do(t, srv, http.MethodGet, "/api/students/"+id+"/balance", "org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2000", balance["amount"])
	assert.Equal(t, "1", balance["academic_hours"])
}

func TestAPI_CancelCharge_Idempotent(t *testing.T) {
	srv := newTestServer(t)
	id := createStudent(t, srv, "org-1", "Anna")

	resp, charge := do(t, srv, http.MethodPost, "/api/charges", "org-1", map[string]any{
		"student_id":         id,
		"learning_unit_type": "individual",
		"learning_unit_id":   "lesson-1",
		"amount":             "2000",
		"academic_hours":     "1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chargeID := charge["id"].(string)

	resp, first := do(t, srv, http.MethodPost, "/api/charges/"+chargeID+"/cancel", "org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, second := do(t, srv, http.MethodPost, "/api/charges/"+chargeID+"/cancel", "org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["refund_transaction_id"], second["refund_transaction_id"])

	resp, balance := do(t, srv, http.MethodGet, "/api/students/"+id+"/balance", "org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", balance["amount"])
}

func TestAPI_ChargeValidation(t *testing.T) {
	srv := newTestServer(t)
	id := createStudent(t, srv, "org-1", "Anna")

	// Missing learning unit
	resp, _ := do(t, srv, http.MethodPost, "/api/charges", "org-1", map[string]any{
		"student_id":     id,
		"amount":         "3000",
		"academic_hours": "1.5",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown student
	resp, _ = do(t, srv, http.MethodPost, "/api/charges", "org-1", map[string]any{
		"student_id":         "ghost",
		"learning_unit_type": "group",
		"learning_unit_id":   "group-a1",
		"amount":             "3000",
		"academic_hours":     "1.5",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Negative amount
	resp, _ = do(t, srv, http.MethodPost, "/api/charges", "org-1", map[string]any{
		"student_id":         id,
		"learning_unit_type": "group",
		"learning_unit_id":   "group-a1",
		"amount":             "-3000",
		"academic_hours":     "1.5",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// LEDGER ENDPOINT TESTS
// =============================================================================

func TestAPI_ManualTransaction_DuplicateKeyConflict(t *testing.T) {
	srv := newTestServer(t)
	id := createStudent(t, srv, "org-1", "Anna")

	tx := map[string]any{
		"student_id":      id,
		"amount":          "500",
		"academic_hours":  "0",
		"type":            "bonus",
		"idempotency_key": "bonus-2026-09",
	}
	resp, _ := do(t, srv, http.MethodPost, "/api/transactions", "org-1", tx)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/transactions", "org-1", tx)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ManualTransaction_SignViolation(t *testing.T) {
	srv := newTestServer(t)
	id := createStudent(t, srv, "org-1", "Anna")

	resp, _ := do(t, srv, http.MethodPost, "/api/transactions", "org-1", map[string]any{
		"student_id":     id,
		"amount":         "-500",
		"academic_hours": "0",
		"type":           "payment",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// SCHEDULING ENDPOINT TESTS
// =============================================================================

func TestAPI_ChangeDuration_ReportsUnallocated(t *testing.T) {
	srv := newTestServer(t)
	id := createStudent(t, srv, "org-1", "Anna")

	resp, lesson := do(t, srv, http.MethodPost, "/api/lessons", "org-1", map[string]any{
		"student_id": id,
		"subject":    "English",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	lessonID := lesson["id"].(string)

	resp, session := do(t, srv, http.MethodPost, "/api/lessons/"+lessonID+"/sessions", "org-1", map[string]any{
		"lesson_date":  "2026-09-10",
		"duration":     90,
		"paid_minutes": 90,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID := session["id"].(string)

	resp, result := do(t, srv, http.MethodPut, "/api/sessions/"+sessionID+"/duration", "org-1", map[string]any{
		"new_duration": 60,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(30), result["freed_minutes"])
	assert.Equal(t, float64(30), result["unallocated_minutes"])
}

// =============================================================================
// PRICING ENDPOINT TESTS
// =============================================================================

func TestAPI_PriceCalculation(t *testing.T) {
	srv := newTestServer(t)
	id := createStudent(t, srv, "org-1", "Anna")

	resp, rule := do(t, srv, http.MethodPost, "/api/pricing/rules", "org-1", map[string]any{
		"name":       "Loyalty",
		"type":       "discount",
		"value_type": "percent",
		"value":      "10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/pricing/bindings", "org-1", map[string]any{
		"rule_id":    rule["id"],
		"student_id": id,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, calc := do(t, srv, http.MethodPost, "/api/pricing/calculate", "org-1", map[string]any{
		"student_id": id,
		"base_price": "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "900", calc["final_price"])
	assert.Equal(t, "100", calc["total_discount"])
}

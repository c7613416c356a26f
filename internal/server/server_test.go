package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"PegVault/internal/access"
	"PegVault/internal/book"
	"PegVault/internal/engine"
	"PegVault/internal/guard"
	"PegVault/internal/observability"
	"PegVault/internal/oracle"
	"PegVault/internal/token"
	"PegVault/internal/vault"
)

const unit = int64(1_000_000)

type fixture struct {
	srv      *httptest.Server
	engine   *engine.Engine
	user     uuid.UUID
	hedger   uuid.UUID
	governor uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	user := uuid.New()
	hedger := uuid.New()
	governor := uuid.New()
	guardian := uuid.New()
	vaultAccount := uuid.New()

	reserve := token.NewMemoryReserve()
	synth := token.NewMemorySynthetic()
	reserve.Credit(user, 100_000*unit)
	reserve.Credit(hedger, 100_000*unit)

	acl := access.NewController()
	acl.Grant(access.RoleGovernor, governor)
	acl.Grant(access.RoleEmergency, guardian)

	clock := engine.NewLogicalClock(0)
	gateway := oracle.NewFeedGateway(clock, 0)
	reentry := guard.NewReentryGuard()

	v, err := vault.New(vault.Config{
		Account:       vaultAccount,
		MinMintRatio:  1_000_000,
		CriticalRatio: 1_000_000,
	}, reserve, synth, gateway, reentry, acl)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	b, err := book.New(book.Config{
		MinMargin:            10 * unit,
		MaxLeverage:          10,
		CooldownTicks:        0,
		MaintenanceRatio:     100_000,
		LiquidationThreshold: 50_000,
		LiquidationPenalty:   100_000,
		LiquidatorFraction:   500_000,
	}, v, reserve, gateway, reentry, clock)
	if err != nil {
		t.Fatalf("book.New: %v", err)
	}

	eng := engine.New(v, b, gateway, clock, nil, nil, nil)
	if !eng.ApplyPriceUpdate(oracle.ParPrice, 1) {
		t.Fatal("seed price rejected")
	}

	health := observability.NewHealthChecker()
	health.SetReady(true)

	s := NewServer(eng, nil, health, nil, nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &fixture{
		srv:      srv,
		engine:   eng,
		user:     user,
		hedger:   hedger,
		governor: governor,
	}
}

func (f *fixture) do(t *testing.T, method, path string, caller uuid.UUID, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if caller != uuid.Nil {
		req.Header.Set("X-Caller-ID", caller.String())
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestMintEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/mint", f.user, map[string]string{
		"collateral_in":     "100",
		"min_synthetic_out": "0",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out mintResponse
	decode(t, resp, &out)
	if out.SyntheticOut.String() != "100" {
		t.Fatalf("synthetic_out = %s, want 100", out.SyntheticOut)
	}
}

func TestMintMissingCaller(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/mint", uuid.Nil, map[string]string{
		"collateral_in": "100", "min_synthetic_out": "0",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMintExcessPrecisionRejected(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/mint", f.user, map[string]string{
		"collateral_in": "100.0000001", "min_synthetic_out": "0",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRedeemEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/mint", f.user, map[string]string{
		"collateral_in": "100", "min_synthetic_out": "0",
	})

	resp := f.do(t, http.MethodPost, "/v1/redeem", f.user, map[string]string{
		"synthetic_in": "40", "min_collateral_out": "0",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out redeemResponse
	decode(t, resp, &out)
	if out.CollateralOut.String() != "40" {
		t.Fatalf("collateral_out = %s, want 40", out.CollateralOut)
	}
}

func TestSlippageConflict(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/mint", f.user, map[string]string{
		"collateral_in": "100", "min_synthetic_out": "101",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPositionLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/positions", f.hedger, map[string]interface{}{
		"margin": "100", "leverage": 5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enter status = %d, want 201", resp.StatusCode)
	}
	var entered enterPositionResponse
	decode(t, resp, &entered)
	if entered.Exposure.String() != "500" {
		t.Fatalf("exposure = %s, want 500", entered.Exposure)
	}

	resp = f.do(t, http.MethodPost, "/v1/positions/1/margin", f.hedger, map[string]string{
		"action": "add", "amount": "50",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add margin status = %d, want 200", resp.StatusCode)
	}
	var pos positionResponse
	decode(t, resp, &pos)
	if pos.Margin.String() != "150" {
		t.Fatalf("margin = %s, want 150", pos.Margin)
	}

	resp = f.do(t, http.MethodGet, "/v1/positions?owner="+f.hedger.String(), uuid.Nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var list []positionResponse
	decode(t, resp, &list)
	if len(list) != 1 || list[0].PositionID != 1 {
		t.Fatalf("list = %+v", list)
	}

	resp = f.do(t, http.MethodPost, "/v1/positions/1/exit", f.hedger, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exit status = %d, want 200", resp.StatusCode)
	}
	var exited exitPositionResponse
	decode(t, resp, &exited)
	if exited.Payout.String() != "150" {
		t.Fatalf("payout = %s, want 150", exited.Payout)
	}
}

func TestAdjustMarginBadAction(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/positions", f.hedger, map[string]interface{}{
		"margin": "100", "leverage": 2,
	})

	resp := f.do(t, http.MethodPost, "/v1/positions/1/margin", f.hedger, map[string]string{
		"action": "double", "amount": "50",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetPositionNotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/v1/positions/99", uuid.Nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/mint", f.user, map[string]string{
		"collateral_in": "100", "min_synthetic_out": "0",
	})

	resp := f.do(t, http.MethodGet, "/v1/status", uuid.Nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var st statusResponse
	decode(t, resp, &st)
	if st.TotalMinted.String() != "100" || !st.PriceOK || st.Paused {
		t.Fatalf("status = %+v", st)
	}
}

func TestAdminRequiresRole(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/admin/thresholds", f.user, map[string]string{
		"min_mint_ratio": "1.2", "critical_ratio": "1.1",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/v1/admin/thresholds", f.governor, map[string]string{
		"min_mint_ratio": "1.2", "critical_ratio": "1.1",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestRecordsDisabledWithoutDatabase(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/v1/records", uuid.Nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", uuid.Nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/readyz", uuid.Nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", resp.StatusCode)
	}
}

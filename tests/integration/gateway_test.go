//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestInvokeSentimentEndToEnd(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	token := MintToken(t, env, userID, false)

	resp := DoRequest(t, env, "POST", "/api/v1/ai/sentiment",
		map[string]string{"text": "loving the new release"}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invoke failed: status %d", resp.StatusCode)
	}
	result := ParseResponse(t, resp)
	data, ok := result["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", result)
	}
	if data["positive"].(float64) != 0.7 {
		t.Errorf("positive = %v, want 0.7", data["positive"])
	}

	// Usage counters reflect the exact usage reported by the upstream.
	resp = DoRequest(t, env, "GET", "/api/v1/ai/usage", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("usage failed: status %d", resp.StatusCode)
	}
	usage := ParseResponse(t, resp)["data"].(map[string]any)
	if got := usage["requests_today"].(float64); got != 1 {
		t.Errorf("requests_today = %v, want 1", got)
	}
	if got := usage["tokens_today"].(float64); got != 130 {
		t.Errorf("tokens_today = %v, want 130", got)
	}

	// Exactly one audit entry for the invocation.
	resp = DoRequest(t, env, "GET", "/api/v1/ai/audit?kind=sentiment", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit list failed: status %d", resp.StatusCode)
	}
	audit := ParseResponse(t, resp)
	if got := audit["total_count"].(float64); got != 1 {
		t.Errorf("audit total_count = %v, want 1", got)
	}
}

func TestInvokeRequiresAuth(t *testing.T) {
	env := SetupTestEnv(t)

	resp := DoRequest(t, env, "POST", "/api/v1/ai/sentiment",
		map[string]string{"text": "hello"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInvokeUnknownKind(t *testing.T) {
	env := SetupTestEnv(t)
	token := MintToken(t, env, uuid.New(), false)

	resp := DoRequest(t, env, "POST", "/api/v1/ai/haiku",
		map[string]string{"text": "hello"}, token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminRateLimitBlocksInvocations(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	userToken := MintToken(t, env, userID, false)
	adminToken := MintToken(t, env, uuid.New(), true)

	// Non-admin cannot reach the admin surface.
	resp := DoRequest(t, env, "POST",
		"/api/v1/admin/ai/users/"+userID.String()+"/rate-limit",
		map[string]int{"cooldown_seconds": 60}, userToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin rate-limit: status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = DoRequest(t, env, "POST",
		"/api/v1/admin/ai/users/"+userID.String()+"/rate-limit",
		map[string]int{"cooldown_seconds": 60}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin rate-limit: status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = DoRequest(t, env, "POST", "/api/v1/ai/sentiment",
		map[string]string{"text": "hello"}, userToken)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("rate-limited invoke: status = %d, want 429", resp.StatusCode)
	}
	resp.Body.Close()

	resp = DoRequest(t, env, "DELETE",
		"/api/v1/admin/ai/users/"+userID.String()+"/rate-limit", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear rate-limit: status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = DoRequest(t, env, "POST", "/api/v1/ai/sentiment",
		map[string]string{"text": "hello"}, userToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invoke after clear: status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminDisableUser(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	userToken := MintToken(t, env, userID, false)
	adminToken := MintToken(t, env, uuid.New(), true)

	resp := DoRequest(t, env, "PUT",
		"/api/v1/admin/ai/users/"+userID.String()+"/active",
		map[string]any{"active": false, "reason": "abuse report"}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable user: status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = DoRequest(t, env, "POST", "/api/v1/ai/sentiment",
		map[string]string{"text": "hello"}, userToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disabled invoke: status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = DoRequest(t, env, "PUT",
		"/api/v1/admin/ai/users/"+userID.String()+"/active",
		map[string]any{"active": true}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-enable user: status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUpstreamFailureReturns502AndAudited(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	token := MintToken(t, env, userID, false)

	env.Upstream.setChat("", http.StatusServiceUnavailable)
	defer env.Upstream.setChat(`{"positive":0.7,"neutral":0.2,"negative":0.1,"confidence":0.9}`, http.StatusOK)

	resp := DoRequest(t, env, "POST", "/api/v1/ai/sentiment",
		map[string]string{"text": "hello"}, token)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	resp.Body.Close()

	// The failed attempt still consumed the request slot.
	resp = DoRequest(t, env, "GET", "/api/v1/ai/usage", nil, token)
	usage := ParseResponse(t, resp)["data"].(map[string]any)
	if got := usage["requests_today"].(float64); got != 1 {
		t.Errorf("requests_today = %v, want 1", got)
	}
	if got := usage["tokens_today"].(float64); got != 0 {
		t.Errorf("tokens_today = %v, want 0", got)
	}

	// And the failure is visible on the operational surface.
	adminToken := MintToken(t, env, uuid.New(), true)
	resp = DoRequest(t, env, "GET", "/api/v1/admin/ai/failures", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("failures: status = %d, want 200", resp.StatusCode)
	}
	failures := ParseResponse(t, resp)["data"].([]any)
	if len(failures) == 0 {
		t.Error("expected at least one failed entry")
	}
}

func TestUsageRollup(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	token := MintToken(t, env, userID, false)

	for i := 0; i < 2; i++ {
		resp := DoRequest(t, env, "POST", "/api/v1/ai/sentiment",
			map[string]string{"text": "rollup sample"}, token)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("invoke %d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	from := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	resp := DoRequest(t, env, "GET", "/api/v1/ai/usage/rollup?from="+from+"&to="+to, nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rollup: status = %d", resp.StatusCode)
	}
	rollup := ParseResponse(t, resp)["data"].(map[string]any)
	if got := rollup["requests"].(float64); got != 2 {
		t.Errorf("rollup requests = %v, want 2", got)
	}
	if got := rollup["total_tokens"].(float64); got != 260 {
		t.Errorf("rollup total_tokens = %v, want 260", got)
	}
}

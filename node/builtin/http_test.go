package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/credential"
	"github.com/nervemind/nervemind/execlog"
	"github.com/nervemind/nervemind/workflow"
)

func httpNode(params map[string]any) workflow.Node {
	return workflow.Node{ID: "n1", Type: "httpRequest", Parameters: params}
}

func TestHTTPRequestParsesJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "abc-123")
		_, _ = w.Write([]byte(`{"ok": true, "count": 2}`))
	}))
	defer srv.Close()

	exec := NewHTTPRequest(srv.Client())
	out, err := exec.Execute(context.Background(), newRun(nil), httpNode(map[string]any{"url": srv.URL}), map[string]any{"keep": "me"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, out["status"])
	assert.Equal(t, map[string]any{"ok": true, "count": 2.0}, out["body"])
	headers := out["headers"].(map[string]string)
	assert.Equal(t, "abc-123", headers["X-Request-Id"])
	assert.Equal(t, "me", out["keep"])
}

func TestHTTPRequestReturnsTextBodyAsString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	exec := NewHTTPRequest(srv.Client())
	out, err := exec.Execute(context.Background(), newRun(nil), httpNode(map[string]any{"url": srv.URL}), nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out["body"])
}

func TestHTTPRequestSendsJSONBody(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	exec := NewHTTPRequest(srv.Client())
	params := map[string]any{
		"url":    srv.URL,
		"method": "post",
		"body":   map[string]any{"name": "Ada"},
	}
	out, err := exec.Execute(context.Background(), newRun(nil), httpNode(params), nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"name": "Ada"}`, string(gotBody))
	assert.Equal(t, http.StatusCreated, out["status"])
}

func TestHTTPRequestSendsRawStringBody(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	exec := NewHTTPRequest(srv.Client())
	params := map[string]any{
		"url":     srv.URL,
		"method":  "POST",
		"body":    "col1,col2\n1,2",
		"headers": map[string]any{"Content-Type": "text/csv"},
	}
	_, err := exec.Execute(context.Background(), newRun(nil), httpNode(params), nil)
	require.NoError(t, err)
	assert.Equal(t, "col1,col2\n1,2", string(gotBody))
	assert.Equal(t, "text/csv", gotContentType)
}

func TestHTTPRequestRequiresURL(t *testing.T) {
	exec := NewHTTPRequest(nil)
	_, err := exec.Execute(context.Background(), newRun(nil), httpNode(map[string]any{}), nil)
	require.EqualError(t, err, "url is required")
}

func TestHTTPRequestErrorStatusFailsNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := NewHTTPRequest(srv.Client())
	_, err := exec.Execute(context.Background(), newRun(nil), httpNode(map[string]any{"url": srv.URL}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestHTTPRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	exec := NewHTTPRequest(srv.Client())
	_, err := exec.Execute(context.Background(), newRun(nil), httpNode(map[string]any{"url": srv.URL, "timeout": 50}), nil)
	require.ErrorContains(t, err, "http request timed out")
}

func TestHTTPRequestAppliesAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Service-Key")
	}))
	defer srv.Close()

	run := newRun(nil)
	run.Credentials = &stubResolver{creds: map[string]credential.Credential{
		"cred-1": {ID: "cred-1", Type: credential.TypeAPIKey, Data: map[string]string{
			"apiKey": "sk-secret", "headerName": "X-Service-Key",
		}},
	}}

	exec := NewHTTPRequest(srv.Client())
	n := httpNode(map[string]any{"url": srv.URL, "credentialId": "cred-1"})
	_, err := exec.Execute(context.Background(), run, n, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", gotKey)
}

func TestHTTPRequestAppliesAPIKeyQueryParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("api_key")
	}))
	defer srv.Close()

	run := newRun(nil)
	run.Credentials = &stubResolver{creds: map[string]credential.Credential{
		"cred-1": {ID: "cred-1", Type: credential.TypeAPIKey, Data: map[string]string{
			"apiKey": "sk-secret", "queryParam": "api_key",
		}},
	}}

	exec := NewHTTPRequest(srv.Client())
	n := httpNode(map[string]any{"url": srv.URL, "credentialId": "cred-1"})
	_, err := exec.Execute(context.Background(), run, n, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", gotQuery)
}

func TestHTTPRequestAppliesAuthorizationCredentials(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()
	exec := NewHTTPRequest(srv.Client())

	cases := []struct {
		name string
		cred credential.Credential
		want string
	}{
		{
			name: "bearer",
			cred: credential.Credential{ID: "c", Type: credential.TypeBearer, Data: map[string]string{"token": "tok-1"}},
			want: "Bearer tok-1",
		},
		{
			name: "oauth2",
			cred: credential.Credential{ID: "c", Type: credential.TypeOAuth2, Data: map[string]string{"accessToken": "at-1"}},
			want: "Bearer at-1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := newRun(nil)
			run.Credentials = &stubResolver{creds: map[string]credential.Credential{"c": tc.cred}}
			_, err := exec.Execute(context.Background(), run, httpNode(map[string]any{"url": srv.URL, "credentialId": "c"}), nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, gotAuth)
		})
	}

	t.Run("basic", func(t *testing.T) {
		run := newRun(nil)
		run.Credentials = &stubResolver{creds: map[string]credential.Credential{
			"c": {ID: "c", Type: credential.TypeBasic, Data: map[string]string{"username": "ada", "password": "pw"}},
		}}
		_, err := exec.Execute(context.Background(), run, httpNode(map[string]any{"url": srv.URL, "credentialId": "c"}), nil)
		require.NoError(t, err)
		assert.Equal(t, "Basic YWRhOnB3", gotAuth)
	})
}

func TestHTTPRequestCustomHeaderCredential(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Custom-Auth")
	}))
	defer srv.Close()

	run := newRun(nil)
	run.Credentials = &stubResolver{creds: map[string]credential.Credential{
		"c": {ID: "c", Type: credential.TypeCustomHeader, Data: map[string]string{"headerName": "X-Custom-Auth", "headerValue": "v-1"}},
	}}
	exec := NewHTTPRequest(srv.Client())
	_, err := exec.Execute(context.Background(), run, httpNode(map[string]any{"url": srv.URL, "credentialId": "c"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "v-1", got)

	// headerName is mandatory for this type.
	run.Credentials = &stubResolver{creds: map[string]credential.Credential{
		"c": {ID: "c", Type: credential.TypeCustomHeader, Data: map[string]string{"headerValue": "v-1"}},
	}}
	_, err = exec.Execute(context.Background(), run, httpNode(map[string]any{"url": srv.URL, "credentialId": "c"}), nil)
	require.ErrorContains(t, err, "missing headerName")
}

func TestHTTPRequestVerboseLoggingRedactsSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	run := newRun(nil)
	run.Credentials = &stubResolver{creds: map[string]credential.Credential{
		"c": {ID: "c", Type: credential.TypeAPIKey, Data: map[string]string{"apiKey": "sk-top-secret", "headerName": "X-Api-Key"}},
	}}

	var mu sync.Mutex
	var entries []execlog.Entry
	sub, err := run.Log.Subscribe(execlog.SubscriberFunc(func(ctx context.Context, e execlog.Entry) error {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, err)
	defer sub.Close()

	exec := NewHTTPRequest(srv.Client())
	n := httpNode(map[string]any{"url": srv.URL, "credentialId": "c", "verbose": true})
	_, err = exec.Execute(context.Background(), run, n, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, execlog.CategoryDataFlow, e.Category)
		assert.Equal(t, "n1", e.NodeID)
		raw, err := json.Marshal(e.Context)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "sk-top-secret")
	}
	reqHeaders := entries[0].Context["headers"].(map[string]string)
	assert.Equal(t, "[redacted]", reqHeaders["X-Api-Key"])
}

func TestHTTPRequestValidate(t *testing.T) {
	exec := NewHTTPRequest(nil)

	problems := exec.Validate(map[string]any{"method": "YEET", "timeout": -1})
	assert.Contains(t, problems, "url")
	assert.Contains(t, problems, "method")
	assert.Contains(t, problems, "timeout")

	assert.Empty(t, exec.Validate(map[string]any{"url": "https://example.com", "method": "post"}))
	// Interpolated methods cannot be judged statically.
	assert.Empty(t, exec.Validate(map[string]any{"url": "https://example.com", "method": "${input.method}"}))
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringproxy/internal/lifecycle"
	"ringproxy/internal/membership"
	"ringproxy/internal/routing"
)

type testEnv struct {
	manager *membership.Manager
	router  *routing.Router
	server  *httptest.Server
}

func newTestEnv(t *testing.T, provisioner membership.Provisioner) *testEnv {
	t.Helper()
	m, err := membership.NewManager(membership.Options{
		RingSize:     512,
		VirtualNodes: 9,
		Provisioner:  provisioner,
		Rand:         rand.New(rand.NewSource(3)),
		Logger:       logr.Discard(),
	})
	require.NoError(t, err)
	r := routing.NewRouter(m, logr.Discard(), nil)
	srv := httptest.NewServer(NewServer(m, r, logr.Discard()).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = m.Shutdown(context.Background())
	})
	return &testEnv{manager: m, router: r, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, http.Header, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header, data
}

type membershipResponse struct {
	Message MembershipMessage `json:"message"`
	Status  string            `json:"status"`
}

type statusResponse struct {
	Message StatusMessage `json:"message"`
	Status  string        `json:"status"`
}

type failureResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), "body: %s", data)
	return v
}

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t, lifecycle.NewInProcess(logr.Discard()))
	code, _, body := env.do(t, http.MethodGet, "/heartbeat", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body)
}

func TestRouting_EmptyRing(t *testing.T) {
	env := newTestEnv(t, lifecycle.NewInProcess(logr.Discard()))

	code, _, body := env.do(t, http.MethodGet, "/home?key=abc", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, msgUnavailable, string(body))

	code, _, body = env.do(t, http.MethodGet, "/anything", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, msgNoServer, decode[failureResponse](t, body).Message)
}

func TestAdd_Validation(t *testing.T) {
	env := newTestEnv(t, lifecycle.NewInProcess(logr.Discard()))

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing body", body: "", want: msgInvalidAddCount},
		{name: "missing n", body: `{"hostnames":["a"]}`, want: msgInvalidAddCount},
		{name: "zero", body: `{"n":0}`, want: msgInvalidAddCount},
		{name: "negative", body: `{"n":-2}`, want: msgInvalidAddCount},
		{name: "string count", body: `{"n":"2"}`, want: msgInvalidAddCount},
		{name: "too many hostnames", body: `{"n":1,"hostnames":["a","b"]}`, want: msgAddTooManyNames},
		{name: "duplicate hostnames", body: `{"n":2,"hostnames":["a","a"]}`, want: membership.ErrDuplicateHostname.Error()},
		{name: "over capacity", body: `{"n":100}`, want: membership.ErrInsufficientSlots.Error()},
		{name: "huge count", body: `{"n":1152921504606846976}`, want: membership.ErrInsufficientSlots.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, header, body := env.do(t, http.MethodPost, "/add", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "application/json; charset=utf-8", header.Get("Content-Type"))
			resp := decode[failureResponse](t, body)
			assert.Equal(t, statusFailure, resp.Status)
			assert.Contains(t, resp.Message, tt.want)
		})
	}
	assert.Equal(t, 0, env.manager.Snapshot().Len(), "invalid requests must not mutate membership")
}

func TestRemove_Validation(t *testing.T) {
	env := newTestEnv(t, lifecycle.NewInProcess(logr.Discard()))

	code, _, body := env.do(t, http.MethodDelete, "/rm", `{"n":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, msgInvalidRemoveCount, decode[failureResponse](t, body).Message)

	code, _, body = env.do(t, http.MethodDelete, "/rm", `{"n":1,"hostnames":["a","b"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, msgRemoveTooManyNames, decode[failureResponse](t, body).Message)
}

func TestMembershipAndProxy(t *testing.T) {
	env := newTestEnv(t, lifecycle.NewInProcess(logr.Discard()))

	code, _, body := env.do(t, http.MethodPost, "/add", `{"n":3,"hostnames":["alpha","beta"]}`)
	require.Equal(t, http.StatusOK, code, "body: %s", body)
	added := decode[membershipResponse](t, body)
	assert.Equal(t, statusSuccessful, added.Status)
	assert.Equal(t, 3, added.Message.N)
	require.Len(t, added.Message.Replicas, 3)
	assert.Equal(t, "alpha", added.Message.Replicas[0])
	assert.Equal(t, "beta", added.Message.Replicas[1])

	code, _, body = env.do(t, http.MethodGet, "/rep", "")
	require.Equal(t, http.StatusOK, code)
	status := decode[statusResponse](t, body)
	assert.Equal(t, 3, status.Message.N)
	for _, rep := range status.Message.Replicas {
		assert.Len(t, rep.Slots, 9)
		assert.Equal(t, "ALIVE", rep.State)
		_, _, err := net.SplitHostPort(rep.InternalAddress)
		assert.NoError(t, err)
	}

	for i := 0; i < 20; i++ {
		key := "key-" + strconv.Itoa(i)
		expected, err := env.router.ServerForRequest(key)
		if errors.Is(err, routing.ErrNoServer) {
			code, _, _ := env.do(t, http.MethodGet, "/home?key="+key, "")
			assert.Equal(t, http.StatusServiceUnavailable, code)
			continue
		}
		require.NoError(t, err)

		code, header, body := env.do(t, http.MethodGet, "/home?key="+key, "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "Hello from "+expected.Hostname, string(body))
		assert.Equal(t, expected.Hostname, header.Get(ReplicaHeader))
	}

	for i := 0; i < 20; i++ {
		path := "p" + strconv.Itoa(i)
		expected, err := env.router.ServerForRequest(path)
		if err != nil {
			continue
		}
		code, header, body := env.do(t, http.MethodGet, "/"+path, "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "Hello from "+expected.Hostname+": /"+path, string(body))
		assert.Equal(t, expected.Hostname, header.Get(ReplicaHeader))
	}

	code, _, body = env.do(t, http.MethodDelete, "/rm", `{"n":2,"hostnames":["alpha","ghost"]}`)
	require.Equal(t, http.StatusOK, code, "body: %s", body)
	removed := decode[membershipResponse](t, body)
	assert.Equal(t, 1, removed.Message.N)
	// Remaining replica first, then the randomly removed one.
	require.Len(t, removed.Message.Replicas, 2)
	assert.Equal(t, env.manager.Snapshot().Hostnames(), removed.Message.Replicas[:1])
	assert.NotEqual(t, "alpha", removed.Message.Replicas[1])

	code, _, body = env.do(t, http.MethodDelete, "/rm", `{"n":5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, decode[membershipResponse](t, body).Message.N)

	code, _, _ = env.do(t, http.MethodGet, "/anything", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

type failingMembership struct {
	Membership
	err error
}

func (f failingMembership) Add(context.Context, int, []string) (*membership.AddResult, error) {
	return nil, f.err
}

func (f failingMembership) Remove(context.Context, int, []string) (*membership.RemoveResult, error) {
	return nil, f.err
}

func TestMembership_InternalErrors(t *testing.T) {
	env := newTestEnv(t, lifecycle.NewInProcess(logr.Discard()))

	tests := []struct {
		name   string
		err    error
		method string
		path   string
		want   string
	}{
		{name: "add", err: membership.ErrProvision, method: http.MethodPost, path: "/add", want: msgAddFailed},
		{name: "remove", err: membership.ErrDecommission, method: http.MethodDelete, path: "/rm", want: msgRemoveFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members := failingMembership{Membership: env.manager, err: tt.err}
			srv := httptest.NewServer(NewServer(members, env.router, logr.Discard()).Handler())
			defer srv.Close()

			failing := &testEnv{manager: env.manager, router: env.router, server: srv}
			code, _, body := failing.do(t, tt.method, tt.path, `{"n":1}`)
			assert.Equal(t, http.StatusInternalServerError, code)
			assert.Equal(t, failureResponse{Message: tt.want, Status: statusFailure}, decode[failureResponse](t, body))
		})
	}
}

// deadProvisioner returns endpoints nobody listens on.
type deadProvisioner struct{ port int }

func (d deadProvisioner) Provision(context.Context, string) (membership.Endpoint, error) {
	return membership.Endpoint{Address: "127.0.0.1", Port: d.port}, nil
}

func (deadProvisioner) Decommission(context.Context, string) error {
	return nil
}

func TestProxy_BadGateway(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	env := newTestEnv(t, deadProvisioner{port: port})
	_, err = env.manager.Add(context.Background(), 1, []string{"dead"})
	require.NoError(t, err)

	// A single replica owns 9 of 512 slots, so search for a routable key.
	var path string
	for i := 0; i < 10000; i++ {
		candidate := "k" + strconv.Itoa(i)
		if _, err := env.router.ServerForRequest(candidate); err == nil {
			path = candidate
			break
		}
	}
	require.NotEmpty(t, path, "no key routes to the replica")

	code, header, body := env.do(t, http.MethodGet, "/"+path, "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "dead", header.Get(ReplicaHeader))
	assert.Equal(t, statusFailure, decode[failureResponse](t, body).Status)
}

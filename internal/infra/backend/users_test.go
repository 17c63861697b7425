package backend

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOwnerFindsExistingMapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.auth-1", r.URL.Query().Get("auth_uid"))
		w.Write([]byte(`[{"id":12,"auth_uid":"auth-1","name":"chen"}]`))
	})

	id, err := c.ResolveOwner(context.Background(), "auth-1", "chen")

	require.NoError(t, err)
	assert.Equal(t, "12", id)
}

func TestResolveOwnerCreatesMissingMapping(t *testing.T) {
	var created bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			created = true
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"u-77","auth_uid":"auth-2"}`))
			return
		}
		w.Write([]byte(`[]`))
	})

	id, err := c.ResolveOwner(context.Background(), "auth-2", "li")

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "u-77", id)
}

func TestResolveOwnerReadsBackOnSuppressedEcho(t *testing.T) {
	var gets int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			return
		}
		gets++
		if gets == 1 {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"id":"u-9","auth_uid":"auth-3"}]`))
	})

	id, err := c.ResolveOwner(context.Background(), "auth-3", "wang")

	require.NoError(t, err)
	assert.Equal(t, "u-9", id)
	assert.Equal(t, 2, gets)
}

func TestResolveOwnerFallsBackToLegacyAuthColumn(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if strings.HasPrefix(q.Get("auth_uid"), "eq.") {
			// This deployment never got the column rename.
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"column users.auth_uid does not exist"}`))
			return
		}
		assert.Equal(t, "eq.auth-4", q.Get("auth_id"))
		w.Write([]byte(`[{"id":"u-4"}]`))
	})

	id, err := c.ResolveOwner(context.Background(), "auth-4", "zhao")

	require.NoError(t, err)
	assert.Equal(t, "u-4", id)
}

func TestResolveOwnerRejectsEmptyIdentity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.ResolveOwner(context.Background(), "", "anon")
	assert.Error(t, err)
}

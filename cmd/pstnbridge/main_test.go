// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/store"
	"github.com/ManuGH/pstnbridge/internal/persistence/sqlite"
	"github.com/ManuGH/pstnbridge/internal/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)
}

func TestTriggerURL(t *testing.T) {
	target, err := triggerURL(triggerOptions{baseURL: "http://bridge:8000/", pstn1: "+14155550100", param2: "es"})
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "/startcall", u.Path)
	assert.Equal(t, "+14155550100", u.Query().Get("pstn1"))
	assert.Equal(t, "es", u.Query().Get("param2"))
	assert.False(t, u.Query().Has("pstn2"))

	_, err = triggerURL(triggerOptions{baseURL: "not a url"})
	assert.Error(t, err)
}

func TestTriggerCommand(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/startcall", r.URL.Path)
		got = r.URL.Query()
		_, _ = w.Write([]byte("Ok"))
	}))
	defer srv.Close()

	out, err := execute(t, "trigger", "--url", srv.URL, "--pstn1", "15550001", "--pstn2", "15550002")
	require.NoError(t, err)
	assert.Equal(t, "Ok\n", out)
	assert.Equal(t, "15550001", got.Get("pstn1"))
	assert.Equal(t, "15550002", got.Get("pstn2"))
}

func TestTriggerCommand_ServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := execute(t, "trigger", "--url", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "shutting down")
}

func TestStoreVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.sqlite")
	st, err := store.NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "store", "verify", "--path", path, "--mode", "full")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "ok (full)"), out)
}

func TestStoreVerify_ForeignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.sqlite")
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := execute(t, "store", "verify", "--path", path)
	assert.ErrorContains(t, err, "1 integrity problem(s)")
	assert.Contains(t, out, `missing table "bridge_sessions"`)
}

func TestStoreVerify_FlagValidation(t *testing.T) {
	_, err := execute(t, "store", "verify")
	assert.ErrorContains(t, err, "--path is required")

	_, err = execute(t, "store", "verify", "--path", "x.sqlite", "--mode", "deep")
	assert.ErrorContains(t, err, "invalid mode")
}

func TestServe_InvalidConfig(t *testing.T) {
	t.Setenv("APP_ID", "")
	t.Setenv("SERVICE_PHONE_NUMBER", "")
	_, err := execute(t, "serve", "--config", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appId")
}

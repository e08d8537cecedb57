package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	var out bytes.Buffer
	cmdRoot.SetOut(&out)
	cmdRoot.SetArgs(args)
	require.NoError(t, cmdRoot.Execute())
	return out.String()
}

func TestInstallAndAreasCommands(t *testing.T) {
	assert := assert.New(t)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>" + r.URL.Path + "</p>"))
	}))
	defer origin.Close()

	dir := filepath.Join(t.TempDir(), "leveldb")
	stale, err := cache.NewLevelDBStorage(dir)
	require.NoError(t, err)
	area, err := stale.Open(context.Background(), "off-market-v0")
	require.NoError(t, err)
	require.NoError(t, area.Put(context.Background(), "/old", &cache.Response{Status: http.StatusOK}))
	require.NoError(t, stale.Close())

	flags := []string{"-o", origin.URL, "-b", "leveldb", "--leveldb-path", dir, "--probe-timeout", "0"}

	run(t, append([]string{"install", "--activate=false"}, flags...)...)
	out := run(t, append([]string{"areas"}, flags...)...)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, out)
	assert.Equal([]string{"AREA", "STATE", "ENTRIES"}, strings.Fields(lines[0]))
	assert.Equal([]string{"off-market-v0", "stale", "1"}, strings.Fields(lines[1]))
	assert.Equal([]string{"off-market-v1", "current", "4"}, strings.Fields(lines[2]))

	run(t, append([]string{"install", "--activate=true"}, flags...)...)
	out = run(t, append([]string{"areas"}, flags...)...)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, out)
	assert.Equal([]string{"off-market-v1", "current", "4"}, strings.Fields(lines[1]))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "migrate", "seed-admin"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/authd.yaml", "--help"},
			wantFlag: "/path/to/authd.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/authd.yaml", "--help"},
			wantFlag: "/etc/authd.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""
			t.Cleanup(func() { configFile = "" })

			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_Properties(t *testing.T) {
	cmd := NewRootCmd()

	assert.Equal(t, "authd", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.Contains(t, cmd.Long, "password reset")
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestAddStorageFlags_Defaults(t *testing.T) {
	cmd := NewServeCmd()

	driver, err := cmd.Flags().GetString("storage-driver")
	require.NoError(t, err)
	assert.Equal(t, "postgres", driver)

	dbURL, err := cmd.Flags().GetString("database-url")
	require.NoError(t, err)
	assert.Empty(t, dbURL)

	format, err := cmd.Flags().GetString("log-format")
	require.NoError(t, err)
	assert.Equal(t, "json", format)
}

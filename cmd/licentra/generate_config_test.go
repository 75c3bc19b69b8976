// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGenerateConfigCommand(t *testing.T) {
	tests := []struct {
		name              string
		configArg         string
		setupExistingFile bool
		validateOutput    func(t *testing.T, output string)
		validateFile      func(t *testing.T, configPath string)
	}{
		{
			name:      "generate_config_custom_directory",
			configArg: "custom/path",
			validateOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Configuration file created")
				assert.Contains(t, output, filepath.Join("custom", "path", "config.toml"))
			},
			validateFile: func(t *testing.T, configPath string) {
				content, err := os.ReadFile(configPath)
				require.NoError(t, err)
				assert.Contains(t, string(content), "# config.toml")
				assert.Contains(t, string(content), "[licensing]")
			},
		},
		{
			name:      "generate_config_custom_file",
			configArg: "custom/myconfig.toml",
			validateOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Configuration file created")
				assert.Contains(t, output, "myconfig.toml")
			},
			validateFile: func(t *testing.T, configPath string) {
				assert.Equal(t, "myconfig.toml", filepath.Base(configPath))
			},
		},
		{
			name:              "skip_existing_config",
			configArg:         "existing/path",
			setupExistingFile: true,
			validateOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Configuration file already exists")
			},
			validateFile: func(t *testing.T, configPath string) {
				content, err := os.ReadFile(configPath)
				require.NoError(t, err)
				assert.Equal(t, "existing content", string(content))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configArg := filepath.Join(tmpDir, tt.configArg)
			configPath := configArg
			if !strings.HasSuffix(configPath, ".toml") {
				configPath = filepath.Join(configArg, "config.toml")
			}

			if tt.setupExistingFile {
				require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
				require.NoError(t, os.WriteFile(configPath, []byte("existing content"), 0644))
			}

			cmd := RunGenerateConfigCommand()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetArgs([]string{"--config-dir", configArg})

			require.NoError(t, cmd.Execute())

			tt.validateOutput(t, out.String())
			tt.validateFile(t, configPath)
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "config.toml", resolveConfigPath(""))
	assert.Equal(t, "dir/myconfig.toml", resolveConfigPath("dir/myconfig.toml"))
	assert.Equal(t, filepath.Join("some", "dir", "config.toml"), resolveConfigPath(filepath.Join("some", "dir")))
}

package pond_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacoelho/pond"
)

func TestDefaultConfig(t *testing.T) {
	cfg := pond.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "object", cfg.Mode)
	assert.Equal(t, 32*1024, cfg.OutputBuffer)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    func(*pond.Config)
		wantErr []string
	}{
		{
			name: "Empty",
			yaml: "",
			want: func(*pond.Config) {},
		},
		{
			name: "Override",
			yaml: "mode: bytes\noutput_buffer: 4096\nlog:\n  level: debug\n  format: console\n",
			want: func(c *pond.Config) {
				c.Mode = "bytes"
				c.OutputBuffer = 4096
				c.Log.Level = "debug"
				c.Log.Format = "console"
			},
		},
		{
			name: "PartialKeepsDefaults",
			yaml: "object_queue: 0\n",
			want: func(c *pond.Config) { c.ObjectQueue = 0 },
		},
		{
			name:    "AllErrorsReported",
			yaml:    "mode: stream\noutput_buffer: 0\nlog:\n  format: xml\n  level: loud\n",
			wantErr: []string{`unknown mode "stream"`, "output_buffer", "log.format", "log.level"},
		},
		{
			name:    "Malformed",
			yaml:    "mode: [",
			wantErr: []string{"parse config"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := pond.ParseConfig([]byte(tt.yaml))
			if len(tt.wantErr) > 0 {
				require.Error(t, err)
				for _, msg := range tt.wantErr {
					assert.Contains(t, err.Error(), msg)
				}
				return
			}
			require.NoError(t, err)

			want := pond.DefaultConfig()
			tt.want(&want)
			assert.Equal(t, want, cfg)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pond.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: bytes\n"), 0o600))

	cfg, err := pond.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "bytes", cfg.Mode)

	_, err = pond.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]pond.Mode{
		"":       pond.ModeObject,
		"object": pond.ModeObject,
		"bytes":  pond.ModeBytes,
	} {
		got, err := pond.ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}

	_, err := pond.ParseMode("stream")
	require.Error(t, err)
}

func TestConfigOptions(t *testing.T) {
	cfg := pond.DefaultConfig()
	cfg.Mode = "bytes"
	cfg.OutputBuffer = 8

	opts, err := cfg.Options()
	require.NoError(t, err)

	s := pond.NewTransform(pond.FixedSize(2), opts...)
	defer s.Close()

	_, err = s.Write([]byte("abcd"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf))
}

package copilot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TB_SET", "value")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "braced", in: "key: ${TB_SET}", want: "key: value"},
		{name: "bare", in: "key: $TB_SET", want: "key: value"},
		{name: "default used", in: "key: ${TB_UNSET:-fallback}", want: "key: fallback"},
		{name: "default ignored", in: "key: ${TB_SET:-fallback}", want: "key: value"},
		{name: "unset kept", in: "key: ${TB_UNSET}", want: "key: ${TB_UNSET}"},
		{name: "required missing", in: "key: ${TB_UNSET:?set it}", wantErr: true},
		{name: "required present", in: "key: ${TB_SET:?set it}", want: "key: value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "TB_UNSET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConfig_KeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
api:
  assistant_id: asst_1
access:
  allowed_users: [alice, bob]
`))
	require.NoError(t, err)

	assert.Equal(t, "asst_1", cfg.API.AssistantID)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Access.AllowedUsers)
	assert.Equal(t, "No access", cfg.Access.DeniedMessage)
	assert.Equal(t, "whisper-1", cfg.API.TranscriptionModel)
	assert.Equal(t, "high", cfg.API.ImageDetail)
	assert.Equal(t, "Markdown", cfg.Channels.Telegram.ParseMode)
	assert.Equal(t, "Input data", cfg.Media.AttachmentPlaceholder)
	assert.Equal(t, 8, cfg.Relay.MaxToolRounds)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("THREADBOT_API_KEY", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:tok")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_dir: state
api:
  api_key: ${OPENAI_API_KEY}
  assistant_id: asst_1
media:
  scratch_dir: /tmp/audio
scheduler:
  storage: data/reminders.db
`), 0o600))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.API.APIKey)
	assert.Equal(t, "123:tok", cfg.Channels.Telegram.Token)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.StateDir)
	assert.Equal(t, "/tmp/audio", cfg.Media.ScratchDir)
	assert.Equal(t, filepath.Join(dir, "data/reminders.db"), cfg.Scheduler.Storage)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile_RequiredVarMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  api_key: ${TB_MISSING_KEY:?api key required}\n"), 0o600))

	_, err := LoadConfigFromFile(path)
	assert.ErrorContains(t, err, "api key required")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.api_key")
	assert.Contains(t, err.Error(), "api.assistant_id")

	cfg.API.APIKey = "${OPENAI_API_KEY}"
	cfg.API.AssistantID = "asst_1"
	assert.ErrorContains(t, cfg.Validate(), "api.api_key")

	cfg.API.APIKey = "sk-real"
	assert.NoError(t, cfg.Validate())
}

func TestSaveConfigToFile_SanitizesEnvSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-secret-from-env")

	cfg := DefaultConfig()
	cfg.API.APIKey = "sk-secret-from-env"
	cfg.API.AssistantID = "asst_1"

	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	require.NoError(t, SaveConfigToFile(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "${OPENAI_API_KEY}")
	assert.NotContains(t, string(data), "sk-secret-from-env")
	assert.Equal(t, "sk-secret-from-env", cfg.API.APIKey)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestResolvePathFromConfig(t *testing.T) {
	assert.Equal(t, "", resolvePathFromConfig("", "/etc/tb"))
	assert.Equal(t, "/var/x", resolvePathFromConfig("/var/x", "/etc/tb"))
	assert.Equal(t, "/etc/tb/x", resolvePathFromConfig("x", "/etc/tb"))
}

func TestLooksLikeRealKey(t *testing.T) {
	assert.True(t, looksLikeRealKey("sk-abc"))
	assert.True(t, looksLikeRealKey("123456789:AAEexampleexampleexampleexample"))
	assert.False(t, looksLikeRealKey("${OPENAI_API_KEY}"))
	assert.False(t, looksLikeRealKey("short"))
}

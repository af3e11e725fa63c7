package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	translateOutgoing, translateJSON = false, false
	translateServer, translateSpeaker = "", "cli"
	ragServer, ragLimit = "", 5
	configInitForce = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeConfig writes a config file pointing the local backend at llmURL.
func writeConfig(t *testing.T, llmURL string) (path, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	path = filepath.Join(dir, "config.json")
	data, err := json.Marshal(map[string]any{
		"llmServerUrl":         llmURL,
		"dataDir":              dataDir,
		"autoStartLlamaServer": false,
		"requestTimeout":       2000,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, dataDir
}

func completionServer(t *testing.T, content string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "parley dev"), out)
}

func TestConfigPathAndInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	out, err := run(t, "config", "path", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	_, err = run(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = run(t, "config", "init", "--config", path)
	assert.Error(t, err, "init refuses to overwrite without --force")

	_, err = run(t, "config", "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestConfigShowMasksKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"onlineApiKey":"sk-secret"}`), 0o644))

	out, err := run(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "********")
}

func TestLlamaCommand(t *testing.T) {
	path, dataDir := writeConfig(t, "http://127.0.0.1:1")

	out, err := run(t, "llama", "command", "--config", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, filepath.Join(dataDir, "llama", "llama-server")), out)
	assert.Contains(t, out, "--model "+filepath.Join(dataDir, "models", "gemma-3-4b-q4.gguf"))
	assert.Contains(t, out, "--port 8080")
}

func TestTranslatePersistsToServerStore(t *testing.T) {
	ts, calls := completionServer(t, "こんにちは")
	path, dataDir := writeConfig(t, ts.URL)

	out, err := run(t, "translate", "--config", path, "--server", "mc.example.com", "hello")
	require.NoError(t, err)
	assert.Equal(t, "こんにちは\n", out)
	assert.FileExists(t, filepath.Join(dataDir, "servers", "mc_example_com", "rag.json"))

	// a fresh process answers from the saved store without the model
	ts.Close()
	out, err = run(t, "translate", "--config", path, "--server", "mc.example.com", "--json", "hello")
	require.NoError(t, err)
	var res struct {
		Text   string `json:"text"`
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "こんにちは", res.Text)
	assert.Equal(t, "retrieval", res.Source)
	assert.Equal(t, int32(1), calls.Load())

	out, err = run(t, "rag", "stats", "--config", path, "--server", "mc.example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "entries: 1 / 1000")

	out, err = run(t, "rag", "search", "--config", path, "--server", "mc.example.com", "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestTranslateModelDownEchoesOriginal(t *testing.T) {
	path, _ := writeConfig(t, "http://127.0.0.1:1")

	out, err := run(t, "translate", "--config", path, "--outgoing", "good game")
	require.NoError(t, err)
	assert.Equal(t, "good game\n", out)
}

func TestStatsEmptyJournal(t *testing.T) {
	path, _ := writeConfig(t, "http://127.0.0.1:1")

	out, err := run(t, "stats", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Journal is empty")
}

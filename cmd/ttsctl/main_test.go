package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/tts-uploader/internal/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret        = "s3cr3t"
	narratorVoice     = "21m00Tcm4TlvDq8ikWAM"
	guestVoice        = "AZnzlk1XvdvUeBnXmlld"
	expectedSignature = "f6b3868f348c4b5fe016f967c931605f294caa88"
)

func testEnv(name string) string {
	switch name {
	case "CLOUDINARY_API_SECRET":
		return testSecret
	case "TEST_ELEVENLABS_KEY":
		return "xi-test-key"
	default:
		return ""
	}
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	err := newApp(&out, testEnv).Run(append([]string{"ttsctl"}, args...))

	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestSign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{
			name: "every param signed",
			args: []string{"sign", "-p", "public_id=test_signed_1700000000", "-p", "timestamp=1700000000"},
		},
		{
			name: "signed set drops resource_type",
			args: []string{
				"sign", "-p", "public_id=test_signed_1700000000", "-p", "timestamp=1700000000",
				"-p", "resource_type=video", "--signed", "public_id", "--signed", "timestamp",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := runApp(t, tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, "public_id=test_signed_1700000000&timestamp=1700000000[REDACTED]")
			assert.Contains(t, out, expectedSignature)
			assert.NotContains(t, out, testSecret)
		})
	}
}

func TestSign_Errors(t *testing.T) {
	t.Parallel()

	_, err := runApp(t, "sign", "-p", "no-equals-sign")
	require.ErrorIs(t, err, errBadParam)

	_, err = runApp(t, "sign", "-p", "timestamp=1", "--secret-env", "UNSET_SECRET")
	require.ErrorIs(t, err, errMissingSecret)
}

func TestCursor(t *testing.T) {
	t.Parallel()

	out, err := runApp(t, "cursor", "--total", "33", "--page-size", "5", "--processed", "10")
	require.NoError(t, err)
	assert.Equal(t, "batch 2/7, processed 10/33, remaining 23, has_more=true, next window [10, 15)\n", out)

	out, err = runApp(t, "cursor", "--total", "33", "--page-size", "5", "--processed", "33", "--json")
	require.NoError(t, err)

	var cursor batch.Cursor
	require.NoError(t, json.Unmarshal([]byte(out), &cursor))
	assert.False(t, cursor.HasMore)
	assert.Equal(t, 7, cursor.CurrentBatch)

	_, err = runApp(t, "cursor", "--total", "3", "--processed", "4")
	require.ErrorIs(t, err, batch.ErrInvalidInput)
}

func TestPlan(t *testing.T) {
	t.Parallel()

	out, err := runApp(t, "plan", "--total", "12", "--page-size", "5")
	require.NoError(t, err)
	assert.Equal(t, "batch 1: items 0-4 (5)\nbatch 2: items 5-9 (5)\nbatch 3: items 10-11 (2)\n", out)
}

func TestValidateScript(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "script.json", `[
		{"row": 1, "speaker": "narrator", "fileName": "intro", "text": "Hello."},
		{"row": 2, "speaker": "guest", "fileName": "reply", "text": "Hi!"}
	]`)

	out, err := runApp(t, "validate-script", "-f", path, "--prefix", "ep1", "--page-size", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 lines, 9 characters, 2 batches")
	assert.Contains(t, out, "row 2 guest -> ep1_reply")

	bad := writeFile(t, "bad.json", `[{"row": 1, "speaker": "narrator", "fileName": "intro"}]`)
	_, err = runApp(t, "validate-script", "-f", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text is required")
}

func TestValidateVoices_Local(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "project.toml", fmt.Sprintf(`
[cloudinary]
cloud_name = "demo"

[elevenlabs]
default_voice = %q

[elevenlabs.voices]
narrator = %q
guest = "short"
`, narratorVoice, guestVoice))

	out, err := runApp(t, "validate-voices", "-c", path)
	require.ErrorIs(t, err, errBadVoices)
	assert.Contains(t, out, "ok   (default) "+narratorVoice)
	assert.Contains(t, out, "ok   narrator "+guestVoice)
	assert.Contains(t, out, "FAIL guest short")
}

func TestValidateVoices_Remote(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "xi-test-key", r.Header.Get("xi-api-key"))

		if strings.HasSuffix(r.URL.Path, "/"+narratorVoice) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"voice_id": %q, "name": "Rachel", "category": "premade"}`, narratorVoice)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail": {"status": "voice_not_found", "message": "voice not found"}}`))
	}))
	t.Cleanup(server.Close)

	path := writeFile(t, "project.toml", fmt.Sprintf(`
[cloudinary]
cloud_name = "demo"

[elevenlabs]
base_url = %q
api_key_env = "TEST_ELEVENLABS_KEY"

[elevenlabs.voices]
narrator = %q
guest = %q

[batch]
max_retries = 0
`, server.URL, narratorVoice, guestVoice))

	out, err := runApp(t, "validate-voices", "-c", path, "--remote")
	require.ErrorIs(t, err, errBadVoices)
	assert.Contains(t, out, "ok   narrator (Rachel) "+narratorVoice)
	assert.Contains(t, out, "FAIL guest "+guestVoice)
	assert.Contains(t, out, "voice not found")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	out, err := runApp(t, "classify", "200", "402", "429", "404")
	require.NoError(t, err)
	assert.Equal(t, "200 none retryable=false\n"+
		"402 provider_auth retryable=false\n"+
		"429 provider_transient retryable=true\n"+
		"404 provider_permanent retryable=false\n", out)

	_, err = runApp(t, "classify")
	require.ErrorIs(t, err, errNoStatus)

	_, err = runApp(t, "classify", "abc")
	require.Error(t, err)
}

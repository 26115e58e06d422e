package image

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/testutil"
	"github.com/BaSui01/renderflow/testutil/fixtures"
	"github.com/BaSui01/renderflow/types"
)

const editKey = "sk-proj-edit-secret-value"

func newEdit(t testing.TB, baseURL string, logger *zap.Logger, dir string) *EditProvider {
	t.Helper()
	cfg := config.DefaultEditConfig()
	cfg.APIKey = editKey
	cfg.BaseURL = baseURL
	p, err := NewEditProvider(cfg,
		WithResultsDir(dir),
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(logger),
	)
	require.NoError(t, err)
	return p
}

func b64Response(w http.ResponseWriter, img []byte) {
	writeBody(w, fixtures.EditResponse(img))
}

func TestEditProvider_MultiReference(t *testing.T) {
	png := testutil.EncodeImage(t, ".png", testutil.GradientImage(4, 4))
	var (
		parts []capturedPart
		auth  string
		path  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, auth = r.URL.Path, r.Header.Get("Authorization")
		parts = readParts(t, r)
		b64Response(w, png)
	}))
	defer srv.Close()

	dir := t.TempDir()
	primary := testutil.WriteImage(t, dir, "primary.png", 16, 16)
	refA := testutil.WriteImage(t, dir, "ref_a.jpg", 8, 8)
	refB := testutil.WriteImage(t, dir, "ref_b.png", 8, 8)

	p := newEdit(t, srv.URL, zaptest.NewLogger(t), t.TempDir())
	res, err := p.Edit(testutil.TestContext(t), primary, []string{refA, refB}, "apply the material palette", "")
	require.NoError(t, err)

	assert.Equal(t, "/v1/images/edits", path)
	assert.Equal(t, "Bearer "+editKey, auth)
	assert.Equal(t, []string{"model", "prompt", "image[]", "image[]", "image[]"}, partNames(parts))
	assert.Equal(t, "gpt-image-1", parts[0].value)
	assert.Equal(t, "apply the material palette", parts[1].value)
	assert.Equal(t, []string{"primary.png", "ref_a.jpg", "ref_b.png"},
		[]string{parts[2].filename, parts[3].filename, parts[4].filename})
	assert.Equal(t, "image/jpeg", parts[3].ctype)

	assert.Equal(t, "result_20250102_030405_006.png", filepath.Base(res.Path))
	assert.Equal(t, "edit", filepath.Base(filepath.Dir(res.Path)))
	assert.Equal(t, png, testutil.ReadFile(t, res.Path))
}

func TestEditProvider_GenerateUsesRequestReferences(t *testing.T) {
	var parts []capturedPart
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts = readParts(t, r)
		b64Response(w, []byte("\xff\xd8\xff\xe0jpeg"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	primary := testutil.WriteImage(t, dir, "p.png", 8, 8)
	ref := testutil.WriteImage(t, dir, "r.png", 8, 8)

	req := fixtures.EditRequest(primary, ref)
	req.Model = "gpt-image-1-mini"
	p := newEdit(t, srv.URL, zaptest.NewLogger(t), t.TempDir())
	res, err := p.Generate(testutil.TestContext(t), req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-image-1-mini", parts[0].value)
	assert.Equal(t, []string{"p.png", "r.png"}, []string{parts[2].filename, parts[3].filename})
	assert.Equal(t, ".jpg", filepath.Ext(res.Path))
}

func TestEditProvider_ErrorEnvelope(t *testing.T) {
	body := fixtures.EditErrorResponse("Invalid image file or mode for image 2")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	primary := testutil.WriteImage(t, t.TempDir(), "p.png", 8, 8)
	p := newEdit(t, srv.URL, zaptest.NewLogger(t), t.TempDir())

	_, err := p.Edit(testutil.TestContext(t), primary, nil, "p", "")

	te := testutil.AssertErrorCode(t, err, types.ErrProvider)
	assert.Equal(t, "Invalid image file or mode for image 2", te.Message)
	assert.Equal(t, body, te.Payload)
	assert.Equal(t, http.StatusBadRequest, te.HTTPStatus)
}

func TestEditProvider_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	primary := testutil.WriteImage(t, t.TempDir(), "p.png", 8, 8)
	p := newEdit(t, srv.URL, zaptest.NewLogger(t), t.TempDir())

	_, err := p.Edit(testutil.TestContext(t), primary, nil, "p", "")

	te := testutil.AssertErrorCode(t, err, types.ErrProvider)
	assert.Equal(t, "request rejected with status 502", te.Message)
	assert.Equal(t, "Bad Gateway", te.Payload)
}

func TestEditProvider_NoResponseIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	primary := testutil.WriteImage(t, t.TempDir(), "p.png", 8, 8)
	p := newEdit(t, url, zaptest.NewLogger(t), t.TempDir())

	_, err := p.Edit(testutil.TestContext(t), primary, nil, "p", "")

	te := testutil.AssertErrorCode(t, err, types.ErrNetwork)
	assert.Nil(t, te.Constraint)
	assert.Zero(t, te.HTTPStatus)
}

func TestEditProvider_EmptyAndCorruptPayloads(t *testing.T) {
	responses := map[string]string{
		"no data":     `{"data":[]}`,
		"bad base64":  `{"data":[{"b64_json":"%%%not-base64"}]}`,
		"not json":    `<html>oops</html>`,
		"empty image": `{"data":[{"b64_json":""}]}`,
	}
	for name, body := range responses {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			primary := testutil.WriteImage(t, t.TempDir(), "p.png", 8, 8)
			p := newEdit(t, srv.URL, zaptest.NewLogger(t), t.TempDir())

			_, err := p.Edit(testutil.TestContext(t), primary, nil, "p", "")
			te := testutil.AssertErrorCode(t, err, types.ErrProvider)
			assert.Equal(t, types.StageDecode, te.Stage)
		})
	}
}

func TestEditProvider_MissingReference(t *testing.T) {
	primary := testutil.WriteImage(t, t.TempDir(), "p.png", 8, 8)
	p := newEdit(t, "http://127.0.0.1:1", zaptest.NewLogger(t), t.TempDir())

	_, err := p.Edit(testutil.TestContext(t), primary, []string{"/nonexistent/ref.png"}, "p", "")
	testutil.AssertErrorCode(t, err, types.ErrImageIO)

	_, err = p.Edit(testutil.TestContext(t), "", nil, "p", "")
	testutil.AssertErrorCode(t, err, types.ErrInvalidRequest)
}

// Reference order on the wire always equals the caller's order, primary first.
func TestEditProvider_ReferenceOrderProperty(t *testing.T) {
	var parts []capturedPart
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts = readParts(t, r)
		b64Response(w, []byte("\x89PNG\r\n\x1a\nbody"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	refPool := make([]string, 6)
	for i := range refPool {
		refPool[i] = testutil.WriteImage(t, dir, fmt.Sprintf("ref_%d.png", i), 2, 2)
	}
	primary := testutil.WriteImage(t, dir, "primary.png", 2, 2)
	p := newEdit(t, srv.URL, zap.NewNop(), t.TempDir())
	p.now = tickingClock()

	rapid.Check(t, func(rt *rapid.T) {
		refs := rapid.SliceOfN(rapid.SampledFrom(refPool), 0, 5).Draw(rt, "refs")

		_, err := p.Edit(testutil.TestContext(t), primary, refs, "p", "")
		require.NoError(rt, err)

		var files []string
		for _, part := range parts {
			if part.name == "image[]" {
				files = append(files, part.filename)
			}
		}
		want := []string{"primary.png"}
		for _, r := range refs {
			want = append(want, filepath.Base(r))
		}
		if len(files) != len(want) {
			rt.Fatalf("got %d file parts, want %d", len(files), len(want))
		}
		for i := range want {
			if files[i] != want[i] {
				rt.Fatalf("part %d = %s, want %s", i, files[i], want[i])
			}
		}
	})
}

// Decoded file bytes equal the bytes the provider encoded.
func TestEditProvider_Base64RoundTripProperty(t *testing.T) {
	var payload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		b64Response(w, payload)
	}))
	defer srv.Close()

	primary := testutil.WriteImage(t, t.TempDir(), "p.png", 2, 2)
	p := newEdit(t, srv.URL, zap.NewNop(), t.TempDir())
	p.now = tickingClock()

	rapid.Check(t, func(rt *rapid.T) {
		payload = rapid.SliceOfN(rapid.Byte(), 1, 4096).Draw(rt, "payload")

		res, err := p.Edit(testutil.TestContext(t), primary, nil, "p", "")
		require.NoError(rt, err)

		got, err := os.ReadFile(res.Path)
		require.NoError(rt, err)
		assert.Equal(rt, payload, got)
	})
}

// tickingClock advances one millisecond per call so repeated renders get
// distinct result names.
func tickingClock() func() time.Time {
	t := fixedNow
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

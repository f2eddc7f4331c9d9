package server

import (
	"bytes"
	"encoding/json"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/piwi3910/slabnest/internal/importer"
	"github.com/piwi3910/slabnest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yofu/dxf"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type upload struct {
	name string
	data []byte
	qty  string
}

// rectDXF returns the bytes of a drawing holding one w x h rectangle.
func rectDXF(t *testing.T, w, h float64) []byte {
	t.Helper()
	d := dxf.NewDrawing()
	_, err := d.LwPolyline(true, []float64{0, 0}, []float64{w, 0}, []float64{w, h}, []float64{0, h})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "part.dxf")
	require.NoError(t, d.SaveAs(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// newForm builds a multipart nesting request.
func newForm(t *testing.T, target string, uploads []upload, fields map[string][]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, u := range uploads {
		fw, err := mw.CreateFormFile("files", u.name)
		require.NoError(t, err)
		_, err = fw.Write(u.data)
		require.NoError(t, err)
		if u.qty != "" {
			require.NoError(t, mw.WriteField("quantities", u.qty))
		}
	}
	for key, values := range fields {
		for _, v := range values {
			require.NoError(t, mw.WriteField(key, v))
		}
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func referenceFields() map[string][]string {
	return map[string][]string{
		"sheet_width":   {"50"},
		"sheet_height":  {"50"},
		"gap":           {"2"},
		"rotation_step": {"90"},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := model.DefaultServerConfig()
	cfg.WorkDir = t.TempDir()
	return New(cfg, nil)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

// ─── Routes ────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNest_ReturnsDXF(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest", []upload{{name: "square.dxf", data: rectDXF(t, 10, 10), qty: "3"}}, referenceFields())
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/dxf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "3", rec.Header().Get(HeaderRequested))
	assert.Equal(t, "3", rec.Header().Get(HeaderPlaced))
	assert.Equal(t, "0", rec.Header().Get(HeaderSkipped))

	out := filepath.Join(t.TempDir(), "out.dxf")
	require.NoError(t, os.WriteFile(out, rec.Body.Bytes(), 0644))
	ext, err := importer.ExtractFile(out, importer.Options{})
	require.NoError(t, err)
	require.Len(t, ext.Outlines, 3)

	for i, want := range []float64{2, 14, 26} {
		min, _ := ext.Outlines[i].BoundingBox()
		assert.InDelta(t, want, min.Y, 1e-6)
	}
}

func TestNest_WorkspaceRemoved(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest", []upload{{name: "square.dxf", data: rectDXF(t, 10, 10), qty: "1"}}, referenceFields())
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err := os.ReadDir(s.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "per-request workspace must be removed")
}

func TestNestPreview_ReturnsSVG(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest_preview", []upload{{name: "square.dxf", data: rectDXF(t, 10, 10), qty: "3"}}, referenceFields())
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, 3, strings.Count(rec.Body.String(), "<polygon"))
	assert.Contains(t, rec.Body.String(), `viewBox="0 0 50 50"`)
}

func TestNestPreviewPNG(t *testing.T) {
	s := newTestServer(t)
	fields := referenceFields()
	fields["scale"] = []string{"4"}
	req := newForm(t, "/nest/preview.png", []upload{{name: "square.dxf", data: rectDXF(t, 10, 10), qty: "1"}}, fields)
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestNestReportPDF(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest/report.pdf", []upload{{name: "square.dxf", data: rectDXF(t, 10, 10), qty: "2"}}, referenceFields())
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestNestLabelsPDF(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest/labels.pdf", []upload{{name: "square.dxf", data: rectDXF(t, 10, 10), qty: "2"}}, referenceFields())
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestNestLabelsPDF_NothingPlaced(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest/labels.pdf", []upload{{name: "big.dxf", data: rectDXF(t, 60, 60), qty: "1"}}, referenceFields())
	rec := serve(s, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "0", rec.Header().Get(HeaderPlaced))
}

func TestNestGCode(t *testing.T) {
	s := newTestServer(t)
	fields := referenceFields()
	fields["profile"] = []string{"LinuxCNC"}
	req := newForm(t, "/nest/gcode", []upload{{name: "square.dxf", data: rectDXF(t, 10, 10), qty: "3"}}, fields)
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Contains(t, body, "( slabnest GCode )")
	assert.Equal(t, 3, strings.Count(body, "--- Part "))
	assert.Contains(t, body, "square")

	// Three 10mm squares, each loop at least its 40mm perimeter.
	length, err := strconv.ParseFloat(rec.Header().Get(HeaderCutLength), 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, length, 120.0)
	minutes, err := strconv.ParseFloat(rec.Header().Get(HeaderCutTime), 64)
	require.NoError(t, err)
	assert.Greater(t, minutes, 0.0)
}

func TestNestCompare(t *testing.T) {
	s := newTestServer(t)
	fields := map[string][]string{
		"sheet_width":   {"30"},
		"sheet_height":  {"100"},
		"gap":           {"1"},
		"rotation_step": {"90"},
		"steps":         {"180", "90"},
	}
	req := newForm(t, "/nest/compare", []upload{{name: "bar.dxf", data: rectDXF(t, 40, 10), qty: "1"}}, fields)
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Results []struct {
			RotationStep int `json:"rotation_step"`
			Placed       int `json:"placed"`
		} `json:"results"`
		Diagnostics []struct {
			Drawing string `json:"drawing"`
		} `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, 180, body.Results[0].RotationStep)
	assert.Equal(t, 0, body.Results[0].Placed)
	assert.Equal(t, 1, body.Results[1].Placed)
	require.Len(t, body.Diagnostics, 1)
	assert.Equal(t, "bar", body.Diagnostics[0].Drawing)
}

// ─── Defaults and parsing ──────────────────────────────────

func TestNest_OmittedSheetUsesDefaults(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest_preview", []upload{{name: "square.dxf", data: rectDXF(t, 10, 10), qty: "1"}}, nil)
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `viewBox="0 0 2440 1220"`)
}

func TestNest_MultipleFilesInOrder(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest/gcode", []upload{
		{name: "first.dxf", data: rectDXF(t, 10, 10), qty: "1"},
		{name: "second.dxf", data: rectDXF(t, 20, 5), qty: "2"},
	}, map[string][]string{"sheet_width": {"200"}, "sheet_height": {"200"}, "gap": {"2"}, "rotation_step": {"90"}})
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3", rec.Header().Get(HeaderRequested))
	body := rec.Body.String()
	assert.Less(t, strings.Index(body, "Part 1: first"), strings.Index(body, "Part 2: second"))
	assert.Contains(t, body, "Part 3: second")
}

func TestUploadName(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"bracket.dxf", "bracket"},
		{"../../etc/passwd", "passwd"},
		{`C:\drawings\plate.DXF`, "plate"},
		{"", "drawing-1"},
	} {
		got := uploadName(&multipart.FileHeader{Filename: tc.in}, 0)
		assert.Equal(t, tc.want, got, "filename %q", tc.in)
	}
}

// ─── Errors ────────────────────────────────────────────────

func TestNest_QuantityMismatch(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest", []upload{
		{name: "a.dxf", data: rectDXF(t, 10, 10), qty: "1"},
		{name: "b.dxf", data: rectDXF(t, 10, 10)},
	}, referenceFields())
	rec := serve(s, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorBody(t, rec), "2 files but 1 quantities")
}

func TestNest_BadFormValues(t *testing.T) {
	s := newTestServer(t)
	for name, fields := range map[string]map[string][]string{
		"non-numeric width": {"sheet_width": {"wide"}},
		"negative quantity": nil,
		"zero step":         {"rotation_step": {"0"}},
		"negative gap":      {"gap": {"-1"}},
		"unknown mode":      {"mode": {"fuzzy"}},
	} {
		t.Run(name, func(t *testing.T) {
			qty := "1"
			if name == "negative quantity" {
				qty = "-2"
			}
			req := newForm(t, "/nest", []upload{{name: "a.dxf", data: rectDXF(t, 10, 10), qty: qty}}, fields)
			rec := serve(s, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, errorBody(t, rec))
		})
	}
}

func TestNest_NoFiles(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, newForm(t, "/nest", nil, referenceFields()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorBody(t, rec), "no files")
}

func TestNest_NotMultipart(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/nest", strings.NewReader(`{"files": []}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(s, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNest_UnreadableDrawing(t *testing.T) {
	s := newTestServer(t)
	req := newForm(t, "/nest", []upload{{name: "broken.dxf", data: []byte("PK\x03\x04 not a drawing"), qty: "1"}}, referenceFields())
	rec := serve(s, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, errorBody(t, rec), "unreadable drawing")
}

func TestNest_UploadTooLarge(t *testing.T) {
	cfg := model.DefaultServerConfig()
	cfg.WorkDir = t.TempDir()
	cfg.MaxUploadMB = 1
	s := New(cfg, nil)

	big := bytes.Repeat([]byte("0\n"), 1<<20)
	req := newForm(t, "/nest", []upload{{name: "big.dxf", data: big, qty: "1"}}, referenceFields())
	rec := serve(s, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// ─── CORS ──────────────────────────────────────────────────

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/nest", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := serve(s, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), HeaderPlaced)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), HeaderCutLength)
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	cfg := model.DefaultServerConfig()
	cfg.AllowedOrigins = []string{"https://shop.example"}
	s := New(cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://shop.example")
	rec := serve(s, req)
	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

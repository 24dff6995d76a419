package artifact

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/segment-cli/internal/model"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	a := testArtifact("v1")

	doc, sum, err := Encode(a)
	require.NoError(t, err)
	assert.Len(t, sum, 64)

	got, gotSum, err := Decode("v1", doc)
	require.NoError(t, err)
	assert.Equal(t, sum, gotSum)
	assert.Equal(t, a, got)
}

func TestEncode_Deterministic(t *testing.T) {
	a, _, err := Encode(testArtifact("v1"))
	require.NoError(t, err)
	b, _, err := Encode(testArtifact("v1"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncode_Rejects(t *testing.T) {
	bad := testArtifact("v1")
	bad.SegmentLabelMap = map[int]string{0: "VIP"}

	tests := []struct {
		name string
		a    *model.ModelArtifact
	}{
		{"nil", nil},
		{"empty version", testArtifact("")},
		{"reserved version", testArtifact("latest")},
		{"path traversal", testArtifact("../v1")},
		{"invalid artifact", bad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Encode(tt.a)
			assert.Error(t, err)
		})
	}
}

func TestDecode_Corrupt(t *testing.T) {
	doc, _, err := Encode(testArtifact("v1"))
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc, &env))
	tampered := strings.Replace(string(env["artifact"]), `"VIP"`, `"Whale"`, 1)
	tamperedDoc, err := json.Marshal(map[string]any{"checksum": json.RawMessage(env["checksum"]), "artifact": json.RawMessage(tampered)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		doc    []byte
		reason string
	}{
		{"truncated", doc[:len(doc)/2], "unreadable envelope"},
		{"empty object", []byte(`{}`), "missing checksum"},
		{"tampered", tamperedDoc, "checksum mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode("v1", tt.doc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrArtifactCorrupt))
			assert.True(t, errors.Is(err, model.ErrArtifactNotFound))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestDecode_InvalidArtifactWithGoodChecksum(t *testing.T) {
	body := []byte(`{"schema_version":1,"version":"v1","feature_column_order":["recency"]}`)
	doc, err := json.Marshal(envelope{Checksum: checksum(body), Artifact: body})
	require.NoError(t, err)

	_, _, err = Decode("v1", doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrArtifactCorrupt))
	assert.Contains(t, err.Error(), "scaler_parameters")
}

func TestDecode_VersionMismatch(t *testing.T) {
	doc, _, err := Encode(testArtifact("v1"))
	require.NoError(t, err)

	_, _, err = Decode("v2", doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrArtifactCorrupt))
}

func TestNewVersionID_Sortable(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	a := NewVersionID(t0)
	b := NewVersionID(t0.Add(time.Nanosecond))
	c := NewVersionID(t0.Add(time.Hour))

	assert.True(t, ValidVersion(a))
	assert.True(t, strings.HasPrefix(a, "20260102T030405.000000006Z-"))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.NotEqual(t, NewVersionID(t0), NewVersionID(t0))
}

func TestValidVersion(t *testing.T) {
	assert.True(t, ValidVersion("v1"))
	assert.True(t, ValidVersion("2026-01-01_rfm.k4"))
	assert.False(t, ValidVersion(""))
	assert.False(t, ValidVersion("latest"))
	assert.False(t, ValidVersion(".hidden"))
	assert.False(t, ValidVersion("a/b"))
}

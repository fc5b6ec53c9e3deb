package bundle

import (
	"encoding/json"
	"testing"
)

func TestDecodeDispatchV1(t *testing.T) {
	data := []byte(`{
		"schema": 1,
		"created": "2026-02-01T12:00:00Z",
		"created_by": "ops@buildhost",
		"runtime": "podman",
		"compression": "zstd",
		"archive": "images.tar.zst",
		"bundle_version": "1.0.0",
		"architecture": "amd64",
		"images": ["busybox:latest"]
	}`)
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := m.(*ManifestV1); !ok {
		t.Fatalf("type = %T, want *ManifestV1", m)
	}
	if m.SchemaVersion() != 1 || m.ArchiveName() != "images.tar.zst" {
		t.Errorf("accessors wrong: %d %q", m.SchemaVersion(), m.ArchiveName())
	}
	if m.RuntimeName() != "podman" || m.CompressionName() != "zstd" {
		t.Errorf("runtime/compression wrong: %q %q", m.RuntimeName(), m.CompressionName())
	}
}

func TestDecodeDispatchV2(t *testing.T) {
	v2 := ManifestV2{
		ManifestV1: ManifestV1{
			Schema:      2,
			Runtime:     "docker",
			Compression: "gzip",
			Archive:     "images.tar.gz",
			Images:      []string{"a:1", "b:2"},
		},
		ComposeVersion:  "3.8",
		ComposeChecksum: "abc",
		ImageDigests:    []ImageDigest{{Name: "a:1", Digest: "sha256:x"}},
		Files:           map[string]string{"README": "def"},
	}
	data, err := json.Marshal(&v2)
	if err != nil {
		t.Fatal(err)
	}

	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	decoded, ok := m.(*ManifestV2)
	if !ok {
		t.Fatalf("type = %T, want *ManifestV2", m)
	}
	if decoded.ComposeVersion != "3.8" || decoded.Files["README"] != "def" {
		t.Errorf("v2 fields lost: %+v", decoded)
	}
	if len(decoded.ImageRefs()) != 2 {
		t.Errorf("images = %v", decoded.ImageRefs())
	}
}

func TestDecodeEmbeddedFieldsFlat(t *testing.T) {
	// v1字段在v2的JSON中必须平铺，不能出现嵌套对象
	v2 := ManifestV2{ManifestV1: ManifestV1{Schema: 2, Archive: "images.tar"}}
	data, err := json.Marshal(&v2)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, nested := raw["ManifestV1"]; nested {
		t.Error("v1 fields are nested instead of flat")
	}
	if _, ok := raw["archive"]; !ok {
		t.Error("archive field missing at top level")
	}
}

func TestDecodeUnsupportedSchema(t *testing.T) {
	if _, err := Decode([]byte(`{"schema": 9}`)); err == nil {
		t.Error("unsupported schema accepted")
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("garbage accepted")
	}
}

package bundle

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"airgap-bundler/archive"
	"airgap-bundler/checksum"
	"airgap-bundler/engine"
	"airgap-bundler/pull"
)

// fakeEngine 模拟容器运行时的本地镜像库
type fakeEngine struct {
	store     map[string]bool
	saved     []string
	loadCalls int
	pullCalls int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{store: make(map[string]bool)}
}

func (f *fakeEngine) Name() string { return "docker" }

func (f *fakeEngine) Pull(ref string) error {
	f.pullCalls++
	f.store[ref] = true
	return nil
}

func (f *fakeEngine) Save(output string, refs ...string) error {
	f.saved = append([]string(nil), refs...)
	sorted := append([]string(nil), refs...)
	sort.Strings(sorted)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, ref := range sorted {
		content := []byte("image: " + ref + "\n")
		hdr := &tar.Header{Name: ref + ".layer", Size: int64(len(content)), Mode: 0644}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(content); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return os.WriteFile(output, buf.Bytes(), 0644)
}

func (f *fakeEngine) Load(archivePath string) error {
	f.loadCalls++
	for _, ref := range f.saved {
		f.store[ref] = true
	}
	return nil
}

func (f *fakeEngine) Exists(ref string) bool { return f.store[ref] }

func (f *fakeEngine) RepoDigest(ref string) (string, error) {
	sum := sha256.Sum256([]byte(ref))
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func (f *fakeEngine) Images() ([]string, error) {
	var images []string
	for ref := range f.store {
		images = append(images, ref)
	}
	sort.Strings(images)
	return images, nil
}

func fastOpts(rt engine.Client, images ...string) CreateOptions {
	return CreateOptions{
		Engine:      rt,
		Images:      images,
		Compression: archive.Gzip,
		Pull:        pull.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func TestCreateLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	rt := newFakeEngine()
	if err := Create(dir, fastOpts(rt, "busybox:latest", "nginx:1.25")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for _, name := range []string{
		"images.tar.gz",
		"images.tar.gz" + checksum.Suffix,
		ManifestName,
		readmeName,
		auditName,
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("bundle member %s missing: %v", name, err)
		}
	}

	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	v1, ok := m.(*ManifestV1)
	if !ok {
		t.Fatalf("manifest type = %T, want *ManifestV1", m)
	}
	if v1.Schema != 1 {
		t.Errorf("schema = %d, want 1", v1.Schema)
	}
	if v1.Compression != "gzip" || v1.Archive != "images.tar.gz" {
		t.Errorf("compression/archive mismatch: %q %q", v1.Compression, v1.Archive)
	}
	if len(v1.Images) != 2 || v1.Images[0] != "busybox:latest" {
		t.Errorf("images = %v", v1.Images)
	}
	if v1.CreatedBy == "" || v1.Created == "" {
		t.Error("creator/timestamp missing")
	}
	if _, err := time.Parse(time.RFC3339, v1.Created); err != nil {
		t.Errorf("created %q is not RFC3339: %v", v1.Created, err)
	}
}

func TestCreateEmptyImages(t *testing.T) {
	err := Create(t.TempDir(), fastOpts(newFakeEngine()))
	if !errors.Is(err, pull.ErrNoImages) {
		t.Errorf("err = %v, want ErrNoImages", err)
	}
}

func TestCreateNilEngine(t *testing.T) {
	opts := fastOpts(nil, "busybox:latest")
	if err := Create(t.TempDir(), opts); !errors.Is(err, engine.ErrNotAvailable) {
		t.Errorf("err = %v, want ErrNotAvailable", err)
	}
}

func TestCreateIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	read := func() ([]byte, []byte) {
		a, err := os.ReadFile(filepath.Join(dir, "images.tar.gz"))
		if err != nil {
			t.Fatal(err)
		}
		s, err := os.ReadFile(filepath.Join(dir, "images.tar.gz"+checksum.Suffix))
		if err != nil {
			t.Fatal(err)
		}
		return a, s
	}

	if err := Create(dir, fastOpts(newFakeEngine(), "busybox:latest")); err != nil {
		t.Fatal(err)
	}
	a1, s1 := read()
	if err := Create(dir, fastOpts(newFakeEngine(), "busybox:latest")); err != nil {
		t.Fatal(err)
	}
	a2, s2 := read()

	if !bytes.Equal(a1, a2) {
		t.Error("archives differ between identical runs")
	}
	if !bytes.Equal(s1, s2) {
		t.Error("checksum sidecars differ between identical runs")
	}
}

func TestCreateLoadRoundtrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	images := []string{"busybox:latest", "nginx:1.25", "redis:7"}
	creatorRT := newFakeEngine()
	if err := Create(dir, fastOpts(creatorRT, images...)); err != nil {
		t.Fatal(err)
	}

	// 目标主机：全新的运行时，归档内容由创建侧的saved传递
	target := newFakeEngine()
	target.saved = creatorRT.saved
	if err := Load(dir, LoadOptions{Engine: target, VerifyAfter: true}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for _, img := range images {
		if !target.Exists(img) {
			t.Errorf("image %s missing after load", img)
		}
	}
	if missing, err := Verify(dir, target); err != nil || missing != 0 {
		t.Errorf("Verify after load: missing=%d err=%v", missing, err)
	}
}

func TestLoadTamperedSidecarBlocksRuntime(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	rt := newFakeEngine()
	if err := Create(dir, fastOpts(rt, "busybox:latest")); err != nil {
		t.Fatal(err)
	}

	// 篡改校验和
	sidecar := filepath.Join(dir, "images.tar.gz"+checksum.Suffix)
	bad := fmt.Sprintf("%064d  images.tar.gz\n", 0)
	if err := os.WriteFile(sidecar, []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}

	target := newFakeEngine()
	err := Load(dir, LoadOptions{Engine: target})
	if !errors.Is(err, checksum.ErrMismatch) {
		t.Errorf("err = %v, want ErrMismatch", err)
	}
	if target.loadCalls != 0 {
		t.Errorf("runtime load invoked %d times despite checksum mismatch", target.loadCalls)
	}
}

func TestLoadMissingSidecarWarnsAndProceeds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	rt := newFakeEngine()
	if err := Create(dir, fastOpts(rt, "busybox:latest")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "images.tar.gz"+checksum.Suffix)); err != nil {
		t.Fatal(err)
	}

	target := newFakeEngine()
	if err := Load(dir, LoadOptions{Engine: target}); err != nil {
		t.Fatalf("Load failed without sidecar: %v", err)
	}
	if target.loadCalls != 1 {
		t.Errorf("loadCalls = %d, want 1", target.loadCalls)
	}
}

func TestLoadWithoutManifestUsesGlob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "images.tar")
	if err := os.WriteFile(path, []byte("fake tar"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := checksum.Write(path); err != nil {
		t.Fatal(err)
	}

	target := newFakeEngine()
	if err := Load(dir, LoadOptions{Engine: target}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if target.loadCalls != 1 {
		t.Errorf("loadCalls = %d, want 1", target.loadCalls)
	}
}

func TestLoadAmbiguousArchive(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"images.tar", "images.tar.gz"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	err := Load(dir, LoadOptions{Engine: newFakeEngine()})
	if !errors.Is(err, ErrAmbiguousArchive) {
		t.Errorf("err = %v, want ErrAmbiguousArchive", err)
	}
}

func TestLoadEmptyDir(t *testing.T) {
	if err := Load(t.TempDir(), LoadOptions{Engine: newFakeEngine()}); err == nil {
		t.Error("Load on empty dir succeeded")
	}
}

func TestVerifyReportsMissingCount(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	rt := newFakeEngine()
	if err := Create(dir, fastOpts(rt, "a.example.com/app:1", "b.example.com/db:2")); err != nil {
		t.Fatal(err)
	}

	// 只有第一个镜像在本地
	delete(rt.store, "b.example.com/db:2")
	missing, err := Verify(dir, rt)
	if err == nil {
		t.Fatal("Verify succeeded with a missing image")
	}
	if missing != 1 {
		t.Errorf("missing = %d, want 1", missing)
	}
}

func TestVerifyRequiresSidecar(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	rt := newFakeEngine()
	if err := Create(dir, fastOpts(rt, "busybox:latest")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "images.tar.gz"+checksum.Suffix)); err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(dir, rt); err == nil {
		t.Error("Verify succeeded without sidecar")
	}
}

func TestCreateEnhanced(t *testing.T) {
	workDir := t.TempDir()
	composeFile := filepath.Join(workDir, "docker-compose.yml")
	composeContent := "version: \"3.8\"\nservices:\n  app:\n    image: busybox:latest\n"
	if err := os.WriteFile(composeFile, []byte(composeContent), 0644); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(workDir, "bundle")
	rt := newFakeEngine()
	opts := fastOpts(rt, "busybox:latest", "nginx:1.25")
	opts.Enhanced = true
	opts.ComposeFile = composeFile
	if err := Create(dir, opts); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	v2, ok := m.(*ManifestV2)
	if !ok {
		t.Fatalf("manifest type = %T, want *ManifestV2", m)
	}
	if v2.Schema != 2 {
		t.Errorf("schema = %d, want 2", v2.Schema)
	}
	if v2.ComposeVersion != "3.8" {
		t.Errorf("compose_version = %q, want 3.8", v2.ComposeVersion)
	}

	composeDigest, err := checksum.Digest(filepath.Join(dir, composeName))
	if err != nil {
		t.Fatal(err)
	}
	if v2.ComposeChecksum != composeDigest {
		t.Error("compose_checksum does not match bundled compose file")
	}

	if len(v2.ImageDigests) != 2 {
		t.Fatalf("image_digests = %v", v2.ImageDigests)
	}
	for _, id := range v2.ImageDigests {
		if id.Digest == "" {
			t.Errorf("image %s has empty digest", id.Name)
		}
	}

	// 文件校验和表覆盖除清单自身外的全部成员
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Name() == EnhancedManifestName {
			if _, selfRef := v2.Files[entry.Name()]; selfRef {
				t.Error("files map references the manifest itself")
			}
			continue
		}
		digest, ok := v2.Files[entry.Name()]
		if !ok {
			t.Errorf("files map missing member %s", entry.Name())
			continue
		}
		actual, err := checksum.Digest(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if digest != actual {
			t.Errorf("files[%s] stale", entry.Name())
		}
	}
}

func TestCreateEnhancedRequiresCompose(t *testing.T) {
	opts := fastOpts(newFakeEngine(), "busybox:latest")
	opts.Enhanced = true
	if err := Create(t.TempDir(), opts); err == nil {
		t.Error("enhanced create without compose file succeeded")
	}
}

func TestCreateSecretsSnapshot(t *testing.T) {
	workDir := t.TempDir()
	versionsFile := filepath.Join(workDir, "versions.env")
	content := "APP_IMAGE=busybox:latest\nDB_PASSWORD=hunter2\n"
	if err := os.WriteFile(versionsFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(workDir, "bundle")
	opts := fastOpts(newFakeEngine(), "busybox:latest")
	opts.VersionsFile = versionsFile
	opts.Passphrase = "correct horse battery staple"
	if err := Create(dir, opts); err != nil {
		t.Fatal(err)
	}

	snapshot := filepath.Join(dir, secretsName)
	info, err := os.Stat(snapshot)
	if err != nil {
		t.Fatalf("secrets snapshot missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("snapshot mode = %v, want 0600", info.Mode().Perm())
	}

	data, err := os.ReadFile(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("hunter2")) {
		t.Error("snapshot stored in plaintext")
	}
	plain, err := Decrypt(data, opts.Passphrase)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(plain) != content {
		t.Error("decrypted snapshot differs from original")
	}
}

func TestCreateSecretsSkippedWithoutPassphrase(t *testing.T) {
	workDir := t.TempDir()
	versionsFile := filepath.Join(workDir, "versions.env")
	if err := os.WriteFile(versionsFile, []byte("APP_IMAGE=busybox\n"), 0644); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(workDir, "bundle")
	opts := fastOpts(newFakeEngine(), "busybox:latest")
	opts.VersionsFile = versionsFile
	if err := Create(dir, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, secretsName)); !os.IsNotExist(err) {
		t.Error("snapshot written without passphrase")
	}
}

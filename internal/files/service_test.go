package files

import (
	"bytes"
	"context"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"filedeck/internal/apperr"
	"filedeck/internal/fsutil"
	"filedeck/internal/logging"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	res, err := fsutil.NewResolver(filepath.Join(t.TempDir(), "root"), false)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return New(res, logging.Discard()), res.Root()
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type testUpload struct {
	name string
	body string
}

func fileHeaders(t *testing.T, uploads ...testUpload) []*multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, u := range uploads {
		w, err := mw.CreateFormFile("files", u.name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := w.Write([]byte(u.body)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	form, err := multipart.NewReader(&buf, mw.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("ReadForm: %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["files"]
}

func TestList_EmptyFolder(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.CreateFolder("", "empty"); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	items, err := svc.List("empty")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", items)
	}
}

func TestList_Entries(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "docs", "Report.PDF"), "12345")
	if err := os.MkdirAll(filepath.Join(root, "docs", "img"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	items, err := svc.List("/docs/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(items))
	}
	byName := map[string]Entry{}
	for _, it := range items {
		byName[it.Name] = it
	}

	f := byName["Report.PDF"]
	if f.Type != TypeFile || f.Path != "docs/Report.PDF" || f.Size != 5 || f.Extension != ".pdf" {
		t.Errorf("unexpected file entry: %+v", f)
	}
	if f.SizeFormatted != "5.0 B" || f.Modified <= 0 {
		t.Errorf("unexpected file metadata: %+v", f)
	}

	d := byName["img"]
	if d.Type != TypeFolder || d.Path != "docs/img" || d.Size != 0 || d.SizeFormatted != "-" {
		t.Errorf("unexpected folder entry: %+v", d)
	}
}

func TestList_Errors(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "a.txt"), "x")

	if _, err := svc.List("missing"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("missing: err = %v, want NotFound", err)
	}
	if _, err := svc.List("a.txt"); !apperr.Is(err, apperr.BadRequest) {
		t.Errorf("file: err = %v, want BadRequest", err)
	}
	if _, err := svc.List("../"); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("escape: err = %v, want Forbidden", err)
	}
}

func TestOpen(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "a.txt"), "hello")

	f, st, err := svc.Open("a.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	f.Close()
	if st.Size() != 5 {
		t.Errorf("size = %d", st.Size())
	}
	if _, _, err := svc.Open(""); !apperr.Is(err, apperr.BadRequest) {
		t.Errorf("dir: err = %v, want BadRequest", err)
	}
	if _, _, err := svc.Open("nope.txt"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("missing: err = %v, want NotFound", err)
	}
}

func TestDelete_PartialFailure(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "a.txt"), "a")
	writeTestFile(t, filepath.Join(root, "dir", "nested", "b.txt"), "b")

	res, err := svc.Delete([]string{"a.txt", "missing.txt", "dir"})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	sort.Strings(res.Deleted)
	if len(res.Deleted) != 2 || res.Deleted[0] != "a.txt" || res.Deleted[1] != "dir" {
		t.Errorf("deleted = %v", res.Deleted)
	}
	if len(res.Errors) != 1 || res.Errors[0].Path != "missing.txt" || res.Errors[0].Error != "File not found" {
		t.Errorf("errors = %+v", res.Errors)
	}
	for _, p := range []string{"a.txt", "dir"} {
		if _, err := os.Lstat(filepath.Join(root, p)); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}
}

func TestDelete_ForbiddenAbortsBatch(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "keep.txt"), "x")

	_, err := svc.Delete([]string{"keep.txt", "../outside"})
	if !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("err = %v, want Forbidden", err)
	}
	if _, err := os.Stat(filepath.Join(root, "keep.txt")); err != nil {
		t.Errorf("keep.txt should not be deleted: %v", err)
	}
}

func TestDelete_RootIsItemError(t *testing.T) {
	svc, root := newTestService(t)
	res, err := svc.Delete([]string{"/"})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(res.Errors) != 1 || len(res.Deleted) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root removed: %v", err)
	}
}

func TestDeleteOne(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "a.txt"), "a")

	if err := svc.DeleteOne("a.txt"); err != nil {
		t.Fatalf("DeleteOne failed: %v", err)
	}
	if err := svc.DeleteOne("a.txt"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("second delete err = %v, want NotFound", err)
	}
}

func TestUpload_SameNameInBatch(t *testing.T) {
	svc, root := newTestService(t)
	fhs := fileHeaders(t,
		testUpload{"dup.txt", "first"},
		testUpload{"dup.txt", "second"},
		testUpload{"d u p.txt", "third"},
	)

	res, err := svc.Upload(context.Background(), "inbox", fhs)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	want := []string{"dup.txt", "dup_1.txt", "d_u_p.txt"}
	if len(res.Uploaded) != len(want) {
		t.Fatalf("uploaded = %v, want %v", res.Uploaded, want)
	}
	for i, name := range want {
		if res.Uploaded[i] != name {
			t.Errorf("uploaded[%d] = %q, want %q", i, res.Uploaded[i], name)
		}
	}
	for name, body := range map[string]string{"dup.txt": "first", "dup_1.txt": "second"} {
		b, err := os.ReadFile(filepath.Join(root, "inbox", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(b) != body {
			t.Errorf("%s = %q, want %q", name, b, body)
		}
	}
}

func TestUpload_AvoidsExistingFiles(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "photo.jpg"), "old")
	writeTestFile(t, filepath.Join(root, "photo_1.jpg"), "old")

	res, err := svc.Upload(context.Background(), "", fileHeaders(t, testUpload{"photo.jpg", "new"}))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(res.Uploaded) != 1 || res.Uploaded[0] != "photo_2.jpg" {
		t.Errorf("uploaded = %v", res.Uploaded)
	}
	b, _ := os.ReadFile(filepath.Join(root, "photo.jpg"))
	if string(b) != "old" {
		t.Errorf("existing file overwritten: %q", b)
	}
}

func TestUploadName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"日本語", "日本語"},
		{"日本/語", "日本_語"},
		{"..", ""},
	}
	for _, tt := range tests {
		if got := uploadName(tt.in); got != tt.want {
			t.Errorf("uploadName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUpload_Errors(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "a.txt"), "x")

	if _, err := svc.Upload(context.Background(), "../x", nil); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("escape: err = %v, want Forbidden", err)
	}
	if _, err := svc.Upload(context.Background(), "a.txt", nil); !apperr.Is(err, apperr.BadRequest) {
		t.Errorf("file target: err = %v, want BadRequest", err)
	}
}

func TestCreateFolder(t *testing.T) {
	svc, root := newTestService(t)

	rel, err := svc.CreateFolder("a/b", " New Folder ")
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if rel != "a/b/New_Folder" {
		t.Errorf("rel = %q", rel)
	}
	if st, err := os.Stat(filepath.Join(root, "a", "b", "New_Folder")); err != nil || !st.IsDir() {
		t.Errorf("folder not created: %v", err)
	}

	if _, err := svc.CreateFolder("a/b", "New Folder"); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("duplicate: err = %v, want Conflict", err)
	}
	if _, err := svc.CreateFolder("", "../.."); !apperr.Is(err, apperr.BadRequest) {
		t.Errorf("empty name: err = %v, want BadRequest", err)
	}
	if _, err := svc.CreateFolder("../../", "x"); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("escape parent: err = %v, want Forbidden", err)
	}
}

func TestRename(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "sub", "old.txt"), "data")

	rel, err := svc.Rename("sub/old.txt", "new.txt")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if rel != "sub/new.txt" {
		t.Errorf("rel = %q", rel)
	}
	if _, err := os.Stat(filepath.Join(root, "sub", "new.txt")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}

	rel, err = svc.Rename("sub/new.txt", "x/y.txt")
	if err != nil {
		t.Fatalf("Rename with separator failed: %v", err)
	}
	if rel != "sub/x_y.txt" {
		t.Errorf("separator rename rel = %q, want sibling", rel)
	}
}

func TestRename_ConflictLeavesOriginal(t *testing.T) {
	svc, root := newTestService(t)
	writeTestFile(t, filepath.Join(root, "a.txt"), "a")
	writeTestFile(t, filepath.Join(root, "b.txt"), "b")

	if _, err := svc.Rename("a.txt", "b.txt"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("err = %v, want Conflict", err)
	}
	for name, body := range map[string]string{"a.txt": "a", "b.txt": "b"} {
		got, err := os.ReadFile(filepath.Join(root, name))
		if err != nil || string(got) != body {
			t.Errorf("%s = %q, %v", name, got, err)
		}
	}
}

func TestRename_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	tests := []struct {
		name    string
		oldPath string
		newName string
		want    apperr.Kind
	}{
		{"empty old", "", "x", apperr.BadRequest},
		{"root", "/", "x", apperr.BadRequest},
		{"empty new", "a.txt", "  ", apperr.BadRequest},
		{"missing", "nope.txt", "x.txt", apperr.NotFound},
		{"escape", "../x", "y", apperr.Forbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Rename(tt.oldPath, tt.newName); !apperr.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.0 B"},
		{1023, "1023.0 B"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 40, "3.0 TB"},
		{2 << 50, "2.0 PB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("a.PNG"); got != "image/png" {
		t.Errorf("png = %q", got)
	}
	if got := ContentType("noext"); got != "" {
		t.Errorf("noext = %q", got)
	}
}

func TestList_DoesNotDescribeOutsideLinkTarget(t *testing.T) {
	s, root := newTestService(t)
	outside := filepath.Join(filepath.Dir(root), "secret.bin")
	if err := os.WriteFile(outside, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "l")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	entries, err := s.List("")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Size == 4096 {
		t.Errorf("link reported with its outside target's size: %+v", entries[0])
	}
}

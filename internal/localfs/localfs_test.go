package localfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden", true},
		{".gitignore", true},
		{"visible.txt", false},
		{"/path/to/.hidden", true},
		{"/path/to/visible.txt", false},
		{"../.hidden", true},
		{"..", false}, // Special case: parent dir reference
		{".", false},  // Special case: current dir reference
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsHidden(tt.path); got != tt.expected {
				t.Errorf("IsHidden(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestIsOpenable(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"report.PDF", true},
		{"/tmp/photo.jpeg", true},
		{"notes.txt", true},
		{"archive.tar.gz", false},
		{"binary", false},
		{"setup.exe", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsOpenable(tt.path); got != tt.expected {
				t.Errorf("IsOpenable(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestListDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	for _, f := range []string{"visible.txt", ".hidden", "Another.txt"} {
		if err := os.WriteFile(filepath.Join(tmpDir, f), []byte("test"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	t.Run("exclude hidden", func(t *testing.T) {
		entries, err := ListDirectory(tmpDir, ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, e := range entries {
			names = append(names, e.Name)
		}
		want := []string{"subdir", "Another.txt", "visible.txt"}
		if len(names) != len(want) {
			t.Fatalf("got %v, want %v", names, want)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
			}
		}
		if !entries[0].IsDir || entries[0].Size != 0 {
			t.Errorf("subdir entry = %+v", entries[0])
		}
		if entries[1].Path != filepath.Join(tmpDir, "Another.txt") || entries[1].Size != 4 {
			t.Errorf("file entry = %+v", entries[1])
		}
	})

	t.Run("include hidden", func(t *testing.T) {
		entries, err := ListDirectory(tmpDir, ListOptions{IncludeHidden: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 4 {
			t.Errorf("got %d entries, want 4", len(entries))
		}
	})

	t.Run("nonexistent directory", func(t *testing.T) {
		if _, err := ListDirectory(filepath.Join(tmpDir, "missing"), ListOptions{}); err == nil {
			t.Error("expected error for nonexistent directory")
		}
	})
}

func TestOS(t *testing.T) {
	var fsys OS
	dir := filepath.Join(t.TempDir(), "a", "b")

	if fsys.Exists(dir) {
		t.Fatal("Exists before MkdirAll")
	}
	if err := fsys.MkdirAll(dir); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if !fsys.Exists(dir) {
		t.Fatal("directory missing after MkdirAll")
	}

	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove(file); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fsys.Exists(file) {
		t.Error("file still exists after Remove")
	}
	if err := fsys.Remove(file); err == nil {
		t.Error("Remove of a missing file succeeded")
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		expectValid bool
	}{
		{"simple", "file.txt", true},
		{"with_dots", "file.v1.2.3.txt", true},
		{"hidden_file", ".hidden", true},
		{"spaces", "my file.txt", true},
		{"contains_dots", "file..txt", true},
		{"empty", "", false},
		{"current_dir", ".", false},
		{"parent_dir", "..", false},
		{"unix_separator", "dir/file.txt", false},
		{"windows_separator", `dir\file.txt`, false},
		{"root", "/", false},
		{"null_byte", "file\x00.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.expectValid && err != nil {
				t.Errorf("ValidateFilename(%q) unexpected error: %v", tt.filename, err)
			}
			if !tt.expectValid && err == nil {
				t.Errorf("ValidateFilename(%q) expected an error", tt.filename)
			}
		})
	}
}

func TestCheckAvailableSpace(t *testing.T) {
	dir := t.TempDir()

	if err := CheckAvailableSpace(dir, 1, 1.0); err != nil {
		t.Errorf("one byte should fit: %v", err)
	}

	// A directory that does not exist yet is checked through its parent.
	missing := filepath.Join(dir, "a", "b")
	if err := CheckAvailableSpace(missing, 1, 1.0); err != nil {
		t.Errorf("one byte should fit under a missing directory: %v", err)
	}

	err := CheckAvailableSpace(missing, 1<<62, 1.0)
	if !IsInsufficientSpaceError(err) {
		t.Fatalf("expected InsufficientSpaceError, got %v", err)
	}
	if e := err.(*InsufficientSpaceError); e.Path != missing || e.RequiredBytes != 1<<62 {
		t.Errorf("error fields = %+v", e)
	}
}

func TestExistingAncestor(t *testing.T) {
	dir := t.TempDir()
	if got := existingAncestor(filepath.Join(dir, "x", "y", "z")); got != dir {
		t.Errorf("existingAncestor = %q, want %q", got, dir)
	}
	if got := existingAncestor(dir); got != dir {
		t.Errorf("existingAncestor(existing) = %q", got)
	}
}

package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	root := t.TempDir()
	store, err := NewLocalStore(filepath.Join(root, "uploads"), filepath.Join(root, "courses"))
	require.NoError(t, err)
	return store
}

func TestSaveReaderGeneralUpload(t *testing.T) {
	store := newTestStore(t)

	file, err := store.SaveReader(strings.NewReader("hello"), "../../Notes.PDF", "application/pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "Notes.PDF", file.OriginalName)
	assert.True(t, strings.HasSuffix(file.Name, ".pdf"))
	assert.Equal(t, "/uploads/"+file.Name, file.URL)
	assert.EqualValues(t, 5, file.Size)

	data, err := os.ReadFile(filepath.Join(store.uploadDir, file.Name))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSaveReaderCourseMaterial(t *testing.T) {
	store := newTestStore(t)

	file, err := store.SaveReader(strings.NewReader("slides"), "week1.pptx", "", "course-1")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", file.ContentType)
	assert.Equal(t, "/api/courses/course-1/materials/"+file.Name, file.URL)

	p, err := store.MaterialPath("course-1", file.Name)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.materialsDir, "course-1", file.Name), p)

	_, err = store.SaveReader(strings.NewReader("x"), "a.txt", "", "../escape")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestMaterialPathRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	for _, tc := range []struct{ course, file string }{
		{"course-1", "../secret"},
		{"course-1", ".."},
		{"..", "passwd"},
		{"course-1", `..\win.ini`},
		{"", "a.pdf"},
		{"course-1", ""},
	} {
		_, err := store.MaterialPath(tc.course, tc.file)
		assert.ErrorIs(t, err, ErrInvalidName, "%q/%q", tc.course, tc.file)
	}

	_, err := store.MaterialPath("course-1", "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

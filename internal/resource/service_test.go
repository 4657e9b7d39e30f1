package resource

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drive/internal/apperr"
	"drive/internal/blob"
	"drive/internal/constants"
	"drive/internal/db"
	"drive/internal/models"
	"drive/internal/render"
)

var testPDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

type testEnv struct {
	database *db.DB
	backend  *blob.LocalBackend
	folders  *Service
	images   *Service
	pdfs     *Service
	notes    *Service
	alice    string
	bob      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	backend, err := blob.NewLocalBackend(t.TempDir(), 1024*1024)
	require.NoError(t, err)

	repo := db.NewResourceRepository(database)
	reaper := blob.NewCleanupService(db.NewOrphanRepository(database), repo, backend)
	renderer := render.NewRenderer()

	users := db.NewUserRepository(database)
	alice, err := users.Create(context.Background(), "Alice", "alice@example.com", "hash")
	require.NoError(t, err)
	bob, err := users.Create(context.Background(), "Bob", "bob@example.com", "hash")
	require.NoError(t, err)

	return &testEnv{
		database: database,
		backend:  backend,
		folders:  NewService(Folders, repo, nil, nil, renderer, ""),
		images:   NewService(Images, repo, backend, reaper, renderer, ""),
		pdfs:     NewService(Pdfs, repo, backend, reaper, renderer, ""),
		notes:    NewService(Notes, repo, backend, reaper, renderer, "https://drive.example.com"),
		alice:    alice.ID,
		bob:      bob.ID,
	}
}

func (e *testEnv) uploadPDF(t *testing.T, owner, name string) *models.Resource {
	t.Helper()

	res, err := e.pdfs.Create(context.Background(), owner, CreateInput{
		Name: name,
		File: &Upload{Name: name + ".pdf", Reader: bytes.NewReader(testPDF)},
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) readFile(t *testing.T, svc *Service, owner, id string) []byte {
	t.Helper()

	f, err := svc.Open(context.Background(), owner, id)
	require.NoError(t, err)
	require.NotNil(t, f.Content)
	defer f.Content.Close()

	data, err := io.ReadAll(f.Content)
	require.NoError(t, err)
	return data
}

func TestCrossUserAccessIsNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := env.uploadPDF(t, env.alice, "taxes")

	_, err := env.pdfs.Get(ctx, env.bob, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.pdfs.Update(ctx, env.bob, doc.ID, UpdateInput{Name: strPtr("mine")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.pdfs.Rename(ctx, env.bob, doc.ID, "mine")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.pdfs.ToggleFavorite(ctx, env.bob, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.pdfs.Copy(ctx, env.bob, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.pdfs.Open(ctx, env.bob, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.ErrorIs(t, env.pdfs.Delete(ctx, env.bob, doc.ID), apperr.ErrNotFound)

	got, err := env.pdfs.Get(ctx, env.alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "taxes", got.Name)
	assert.False(t, got.Favorite)
	assert.Equal(t, testPDF, env.readFile(t, env.pdfs, env.alice, doc.ID))
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.images.Create(ctx, env.alice, CreateInput{Name: "no file"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = env.folders.Create(ctx, env.alice, CreateInput{Name: "  "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = env.pdfs.Create(ctx, env.alice, CreateInput{
		Name: "fake",
		File: &Upload{Name: "fake.pdf", Reader: strings.NewReader("not a pdf at all")},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	bobFolder, err := env.folders.Create(ctx, env.bob, CreateInput{Name: "Bob's"})
	require.NoError(t, err)
	_, err = env.folders.Create(ctx, env.alice, CreateInput{Name: "Sneaky", ParentID: &bobFolder.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation, "parent must belong to the caller")

	_, err = env.folders.Update(ctx, env.bob, bobFolder.ID, UpdateInput{ParentID: &bobFolder.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateDefaultsNameToFileName(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.pdfs.Create(context.Background(), env.alice, CreateInput{
		File: &Upload{Name: "report.pdf", Reader: bytes.NewReader(testPDF)},
	})
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", res.Name)
	assert.Equal(t, "application/pdf", res.File.ContentType)
	assert.Equal(t, int64(len(testPDF)), res.File.Size)
	assert.Equal(t, "/api/pdfs/file/"+res.ID, res.URL)
	assert.True(t, strings.HasPrefix(res.ID, "pdf_"))
}

func TestNotesRenderDescription(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	note, err := env.notes.Create(ctx, env.alice, CreateInput{Name: "Ideas", Description: "**big** plans"})
	require.NoError(t, err)
	assert.Equal(t, "Ideas", note.Title)
	assert.Contains(t, note.DescriptionHTML, "<strong>big</strong>")
	assert.Nil(t, note.File)
	assert.Empty(t, note.URL)

	_, err = env.notes.Open(ctx, env.alice, note.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	updated, err := env.notes.Update(ctx, env.alice, note.ID, UpdateInput{Description: strPtr("_small_ plans")})
	require.NoError(t, err)
	assert.Contains(t, updated.DescriptionHTML, "<em>small</em>")
	assert.True(t, !updated.UpdatedAt.Before(note.UpdatedAt))

	withFile, err := env.notes.Create(ctx, env.alice, CreateInput{
		Name: "Shopping",
		File: &Upload{Name: "list.txt", Reader: strings.NewReader("milk\neggs")},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example.com/api/notes/file/"+withFile.ID, withFile.URL)

	_, err = env.pdfs.Create(ctx, env.alice, CreateInput{
		Name:        "x",
		Description: "not for pdfs",
		File:        &Upload{Name: "x.pdf", Reader: bytes.NewReader(testPDF)},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDuplicateAndCopyBlobSemantics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	t.Run("duplicate", func(t *testing.T) {
		doc := env.uploadPDF(t, env.alice, "contract")

		dup, err := env.pdfs.Duplicate(ctx, env.alice, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "contract - duplicate", dup.Name)
		assert.NotEqual(t, doc.File.StorageKey, dup.File.StorageKey)

		require.NoError(t, env.pdfs.Delete(ctx, env.alice, doc.ID))
		assert.Equal(t, testPDF, env.readFile(t, env.pdfs, env.alice, dup.ID))
	})

	t.Run("copy", func(t *testing.T) {
		doc := env.uploadPDF(t, env.alice, "invoice")
		_, err := env.pdfs.ToggleFavorite(ctx, env.alice, doc.ID)
		require.NoError(t, err)

		cp, err := env.pdfs.Copy(ctx, env.alice, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "invoice - Copy", cp.Name)
		assert.Equal(t, doc.File.StorageKey, cp.File.StorageKey)
		assert.True(t, cp.Favorite)

		require.NoError(t, env.pdfs.Delete(ctx, env.alice, doc.ID))
		assert.Equal(t, testPDF, env.readFile(t, env.pdfs, env.alice, cp.ID))

		require.NoError(t, env.pdfs.Delete(ctx, env.alice, cp.ID))
		_, err = env.backend.Fetch(ctx, doc.File.StorageKey)
		assert.ErrorIs(t, err, blob.ErrNotFound, "last reference gone, blob reaped")
	})

	t.Run("duplicate with missing blob", func(t *testing.T) {
		doc := env.uploadPDF(t, env.alice, "lost")
		require.NoError(t, env.backend.Delete(ctx, doc.File.StorageKey))

		_, err := env.pdfs.Duplicate(ctx, env.alice, doc.ID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("folder suffixes", func(t *testing.T) {
		folder, err := env.folders.Create(ctx, env.alice, CreateInput{Name: "Trips"})
		require.NoError(t, err)

		dup, err := env.folders.Duplicate(ctx, env.alice, folder.ID)
		require.NoError(t, err)
		assert.Equal(t, "Trips - Duplicate", dup.Name)

		cp, err := env.folders.Copy(ctx, env.alice, folder.ID)
		require.NoError(t, err)
		assert.Equal(t, "Trips - Copy", cp.Name)
	})
}

func TestListByDate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	stamps := map[string]time.Time{
		"before": day.Add(-time.Millisecond),
		"first":  day,
		"last":   day.Add(24*time.Hour - time.Millisecond),
		"after":  day.Add(24 * time.Hour),
	}
	for name, ts := range stamps {
		res, err := env.folders.Create(ctx, env.alice, CreateInput{Name: name})
		require.NoError(t, err)
		_, err = env.database.Exec(`UPDATE resources SET created_at = ? WHERE id = ?`, ts, res.ID)
		require.NoError(t, err)
	}

	got, err := env.folders.ListByDate(ctx, env.alice, "2024-03-05")
	require.NoError(t, err)
	names := make([]string, 0, len(got))
	for _, r := range got {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"last", "first"}, names)

	none, err := env.folders.ListByDate(ctx, env.bob, "2024-03-05")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = env.folders.ListByDate(ctx, env.alice, "05-03-2024")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestTotalsAndUsage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	folder, err := env.folders.Create(ctx, env.alice, CreateInput{Name: "Work"})
	require.NoError(t, err)

	inFolder, err := env.pdfs.Create(ctx, env.alice, CreateInput{
		Name:     "a",
		ParentID: &folder.ID,
		File:     &Upload{Name: "a.pdf", Reader: bytes.NewReader(testPDF)},
	})
	require.NoError(t, err)
	loose := env.uploadPDF(t, env.alice, "b")
	env.uploadPDF(t, env.bob, "c")

	size := int64(len(testPDF))
	total, err := env.pdfs.TotalSize(ctx, env.alice)
	require.NoError(t, err)
	assert.Equal(t, 2*size, total)

	count, err := env.pdfs.Count(ctx, env.alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	one, err := env.pdfs.Size(ctx, env.alice, inFolder.ID)
	require.NoError(t, err)
	assert.Equal(t, size, one)

	usage, err := env.folders.FolderUsage(ctx, env.alice, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, size, usage)

	_, err = env.folders.FolderUsage(ctx, env.bob, folder.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, env.pdfs.Delete(ctx, env.alice, loose.ID))
	total, err = env.pdfs.TotalSize(ctx, env.alice)
	require.NoError(t, err)
	assert.Equal(t, size, total)

	require.NoError(t, env.folders.Delete(ctx, env.alice, folder.ID))
	orphaned, err := env.pdfs.Get(ctx, env.alice, inFolder.ID)
	require.NoError(t, err)
	assert.Nil(t, orphaned.ParentID, "deleting a folder detaches its contents")
}

func TestFavorites(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	a, err := env.folders.Create(ctx, env.alice, CreateInput{Name: "a"})
	require.NoError(t, err)
	_, err = env.folders.Create(ctx, env.alice, CreateInput{Name: "b"})
	require.NoError(t, err)

	const toggles = 7
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.folders.ToggleFavorite(ctx, env.alice, a.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	favs, err := env.folders.ListFavorites(ctx, env.alice)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, a.ID, favs[0].ID)
	assert.True(t, favs[0].Favorite)

	all, err := env.folders.List(ctx, env.alice)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOversizedUploadIsFlagged(t *testing.T) {
	env := newTestEnv(t)

	big := append(append([]byte(nil), testPDF...), bytes.Repeat([]byte("x"), 1024*1024)...)
	_, err := env.pdfs.Create(context.Background(), env.alice, CreateInput{
		Name: "big",
		File: &Upload{Name: "big.pdf", Reader: bytes.NewReader(big)},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.ErrorIs(t, err, blob.ErrFileTooLarge)
}

func TestNamesAreStoredVerbatim(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	folder, err := env.folders.Create(ctx, env.alice, CreateInput{Name: "<notes>"})
	require.NoError(t, err)
	assert.Equal(t, "<notes>", folder.Name)

	renamed, err := env.folders.Rename(ctx, env.alice, folder.ID, "a<b and c>d")
	require.NoError(t, err)
	assert.Equal(t, "a<b and c>d", renamed.Name)

	got, err := env.folders.Get(ctx, env.alice, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, "a<b and c>d", got.Name)

	updated, err := env.folders.Update(ctx, env.alice, folder.ID, UpdateInput{Name: strPtr("  Budget <Q1> final\t")})
	require.NoError(t, err)
	assert.Equal(t, "Budget <Q1> final", updated.Name)
}

func TestCopyNamesStayWithinLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	long := strings.Repeat("a", constants.MaxNameLength)
	folder, err := env.folders.Create(ctx, env.alice, CreateInput{Name: long})
	require.NoError(t, err)

	cp, err := env.folders.Copy(ctx, env.alice, folder.ID)
	require.NoError(t, err)
	assert.Len(t, cp.Name, constants.MaxNameLength)
	assert.True(t, strings.HasSuffix(cp.Name, " - Copy"))

	_, err = env.folders.Rename(ctx, env.alice, cp.ID, cp.Name)
	require.NoError(t, err, "a copied name must be a valid name")

	dup, err := env.folders.Duplicate(ctx, env.alice, folder.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(dup.Name), constants.MaxNameLength)
	assert.True(t, strings.HasSuffix(dup.Name, " - Duplicate"))

	// Multi-byte names are cut on a rune boundary.
	wide := strings.Repeat("é", constants.MaxNameLength/2)
	note, err := env.notes.Create(ctx, env.alice, CreateInput{Name: wide})
	require.NoError(t, err)
	noteCopy, err := env.notes.Copy(ctx, env.alice, note.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(noteCopy.Name), constants.MaxNameLength)
	assert.True(t, utf8.ValidString(noteCopy.Name))
}

func strPtr(s string) *string { return &s }

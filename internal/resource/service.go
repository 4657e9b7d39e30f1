// Package resource is the ownership-scoped access layer shared by folders,
// images, pdfs and notes. Every operation takes the caller's user ID and
// treats records owned by someone else as missing.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"drive/internal/apperr"
	"drive/internal/blob"
	"drive/internal/constants"
	"drive/internal/db"
	"drive/internal/mediaurl"
	"drive/internal/models"
	"drive/internal/render"
)

const dateLayout = "2006-01-02"

type BlobReaper interface {
	Reap(ctx context.Context, orphan *models.OrphanedBlob) error
}

type Upload struct {
	Name   string
	Reader io.Reader
}

type CreateInput struct {
	Name        string
	Description string
	ParentID    *string
	File        *Upload
}

// UpdateInput holds the fields to change. An empty ParentID detaches the
// record from its folder.
type UpdateInput struct {
	Name        *string
	Description *string
	ParentID    *string
}

// File is an opened record file: either Content to stream or RedirectURL.
type File struct {
	*blob.Object
	Name        string
	ContentType string
	Size        int64
}

type Service struct {
	desc     Descriptor
	repo     *db.ResourceRepository
	blobs    blob.Backend
	reaper   BlobReaper
	renderer *render.Renderer
	baseURL  string
}

// NewService wires one resource kind. blobs and reaper may be nil for kinds
// without files.
func NewService(desc Descriptor, repo *db.ResourceRepository, blobs blob.Backend, reaper BlobReaper, renderer *render.Renderer, baseURL string) *Service {
	return &Service{
		desc:     desc,
		repo:     repo,
		blobs:    blobs,
		reaper:   reaper,
		renderer: renderer,
		baseURL:  baseURL,
	}
}

func (s *Service) Descriptor() Descriptor {
	return s.desc
}

func (s *Service) Create(ctx context.Context, callerID string, in CreateInput) (*models.Resource, error) {
	if in.File != nil && !s.desc.HasFiles() {
		return nil, apperr.Validation(s.desc.Label + " cannot have a file")
	}
	if in.File == nil && s.desc.FileRequired {
		return nil, apperr.Validation("File is required")
	}
	if in.Description != "" && s.desc.Kind != models.KindNote {
		return nil, apperr.Validation("Description is only supported for notes")
	}

	rawName := in.Name
	if strings.TrimSpace(rawName) == "" && in.File != nil {
		rawName = in.File.Name
	}
	name, err := s.cleanName(rawName)
	if err != nil {
		return nil, err
	}

	parentID, err := s.checkParent(ctx, callerID, "", in.ParentID)
	if err != nil {
		return nil, err
	}

	res := &models.Resource{
		UserID:      callerID,
		Kind:        s.desc.Kind,
		ParentID:    parentID,
		Name:        name,
		Description: in.Description,
	}

	var stored *blob.StoredBlob
	if in.File != nil {
		stored, err = s.blobs.Save(ctx, s.desc.BlobKind, in.File.Name, in.File.Reader)
		if err != nil {
			return nil, s.blobSaveError(err)
		}
		res.File = &models.FileRef{
			Name:        stored.OriginalName,
			Size:        stored.SizeBytes,
			ContentType: stored.MimeType,
			FilePath:    stored.FilePath,
			StorageKey:  stored.Key,
		}
	}

	created, err := s.repo.Create(ctx, s.desc.IDPrefix, res)
	if err != nil {
		if stored != nil {
			s.discardBlob(ctx, stored.Key)
		}
		if errors.Is(err, db.ErrInvalidParent) {
			return nil, apperr.Validation("Parent folder not found")
		}
		return nil, apperr.Backend("creating "+string(s.desc.Kind), err)
	}

	slog.Info("resource created", "kind", s.desc.Kind, "resource_id", created.ID, "user_id", callerID)
	return s.decorate(created)
}

func (s *Service) Get(ctx context.Context, callerID, id string) (*models.Resource, error) {
	res, err := s.get(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	return s.decorate(res)
}

func (s *Service) Update(ctx context.Context, callerID, id string, in UpdateInput) (*models.Resource, error) {
	if in.Name == nil && in.Description == nil && in.ParentID == nil {
		return nil, apperr.Validation("No updates provided")
	}
	if in.Description != nil && s.desc.Kind != models.KindNote {
		return nil, apperr.Validation("Description is only supported for notes")
	}

	var update db.ResourceUpdate
	if in.Name != nil {
		name, err := s.cleanName(*in.Name)
		if err != nil {
			return nil, err
		}
		update.Name = &name
	}
	update.Description = in.Description

	if in.ParentID != nil {
		if *in.ParentID == "" {
			update.ParentID = in.ParentID
		} else {
			parentID, err := s.checkParent(ctx, callerID, id, in.ParentID)
			if err != nil {
				return nil, err
			}
			update.ParentID = parentID
		}
	}

	res, err := s.repo.Update(ctx, s.desc.Kind, callerID, id, update)
	if err != nil {
		if errors.Is(err, db.ErrInvalidParent) {
			return nil, apperr.Validation("Parent folder not found")
		}
		return nil, s.storeError("updating", err)
	}
	return s.decorate(res)
}

func (s *Service) Rename(ctx context.Context, callerID, id, name string) (*models.Resource, error) {
	return s.Update(ctx, callerID, id, UpdateInput{Name: &name})
}

func (s *Service) ToggleFavorite(ctx context.Context, callerID, id string) (*models.Resource, error) {
	res, err := s.repo.ToggleFavorite(ctx, s.desc.Kind, callerID, id)
	if err != nil {
		return nil, s.storeError("toggling favorite on", err)
	}
	return s.decorate(res)
}

// Delete removes the record. Its blob is deleted once no other record refers
// to it; a failed blob delete stays queued for the cleanup service.
func (s *Service) Delete(ctx context.Context, callerID, id string) error {
	backend := ""
	if s.blobs != nil {
		backend = s.blobs.Name()
	}

	res, orphan, err := s.repo.Delete(ctx, s.desc.Kind, callerID, id, backend)
	if err != nil {
		return s.storeError("deleting", err)
	}

	if orphan != nil && s.reaper != nil {
		if err := s.reaper.Reap(ctx, orphan); err != nil {
			slog.Warn("error deleting blob, left for cleanup", "error", err, "kind", s.desc.Kind, "resource_id", res.ID, "blob_key", orphan.StorageKey)
		}
	}

	slog.Info("resource deleted", "kind", s.desc.Kind, "resource_id", res.ID, "user_id", callerID)
	return nil
}

// Copy creates a new record pointing at the same blob as the source.
func (s *Service) Copy(ctx context.Context, callerID, id string) (*models.Resource, error) {
	src, err := s.get(ctx, callerID, id)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateFrom(ctx, s.desc.Kind, callerID, src.ID, s.desc.IDPrefix, copyName(src.Name, s.desc.CopySuffix), true)
	if err != nil {
		return nil, s.storeError("copying", err)
	}
	return s.decorate(created)
}

// Duplicate creates a new record with its own copy of the source blob.
func (s *Service) Duplicate(ctx context.Context, callerID, id string) (*models.Resource, error) {
	src, err := s.get(ctx, callerID, id)
	if err != nil {
		return nil, err
	}

	clone := cloneRecord(src, s.desc.DuplicateSuffix)

	var dup *blob.StoredBlob
	if src.HasFile() {
		dup, err = s.blobs.Duplicate(ctx, src.File.StorageKey)
		if errors.Is(err, blob.ErrNotFound) {
			return nil, apperr.NotFound("File not found")
		}
		if err != nil {
			return nil, apperr.Backend("duplicating blob", err)
		}
		clone.File.StorageKey = dup.Key
		clone.File.FilePath = dup.FilePath
		clone.File.Size = dup.SizeBytes
	}

	created, err := s.repo.Create(ctx, s.desc.IDPrefix, clone)
	if err != nil {
		if dup != nil {
			s.discardBlob(ctx, dup.Key)
		}
		return nil, apperr.Backend("duplicating "+string(s.desc.Kind), err)
	}
	return s.decorate(created)
}

func (s *Service) List(ctx context.Context, callerID string) ([]*models.Resource, error) {
	return s.list(ctx, callerID, db.ListFilter{})
}

func (s *Service) ListFavorites(ctx context.Context, callerID string) ([]*models.Resource, error) {
	return s.list(ctx, callerID, db.ListFilter{FavoritesOnly: true})
}

// ListByDate returns the records created on the given UTC day (YYYY-MM-DD),
// from 00:00:00.000 to 23:59:59.999 inclusive, newest first.
func (s *Service) ListByDate(ctx context.Context, callerID, date string) ([]*models.Resource, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), time.UTC)
	if err != nil {
		return nil, apperr.Validation("Date must be formatted as YYYY-MM-DD")
	}
	end := day.Add(24*time.Hour - time.Millisecond)
	return s.list(ctx, callerID, db.ListFilter{CreatedFrom: &day, CreatedTo: &end})
}

func (s *Service) Count(ctx context.Context, callerID string) (int64, error) {
	count, err := s.repo.Count(ctx, s.desc.Kind, callerID)
	if err != nil {
		return 0, apperr.Backend("counting "+s.desc.Collection, err)
	}
	return count, nil
}

func (s *Service) TotalSize(ctx context.Context, callerID string) (int64, error) {
	total, err := s.repo.TotalSize(ctx, s.desc.Kind, callerID)
	if err != nil {
		return 0, apperr.Backend("summing "+s.desc.Collection, err)
	}
	return total, nil
}

// Size is the file size of one record, 0 when it has no file.
func (s *Service) Size(ctx context.Context, callerID, id string) (int64, error) {
	res, err := s.get(ctx, callerID, id)
	if err != nil {
		return 0, err
	}
	return res.FileSize(), nil
}

// FolderUsage sums the file sizes of the caller's records inside a folder.
func (s *Service) FolderUsage(ctx context.Context, callerID, folderID string) (int64, error) {
	if s.desc.Kind != models.KindFolder {
		return 0, fmt.Errorf("folder usage requested on %s service", s.desc.Kind)
	}
	if _, err := s.get(ctx, callerID, folderID); err != nil {
		return 0, err
	}

	total, err := s.repo.FolderUsage(ctx, callerID, folderID)
	if err != nil {
		return 0, apperr.Backend("summing folder usage", err)
	}
	return total, nil
}

// Open resolves a record's file for download.
func (s *Service) Open(ctx context.Context, callerID, id string) (*File, error) {
	res, err := s.get(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if !res.HasFile() || s.blobs == nil {
		return nil, apperr.NotFound("File not found")
	}

	obj, err := s.blobs.Fetch(ctx, res.File.StorageKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, apperr.NotFound("File not found")
	}
	if err != nil {
		return nil, apperr.Backend("opening blob", err)
	}

	return &File{
		Object:      obj,
		Name:        res.File.Name,
		ContentType: res.File.ContentType,
		Size:        res.File.Size,
	}, nil
}

func (s *Service) get(ctx context.Context, callerID, id string) (*models.Resource, error) {
	res, err := s.repo.Get(ctx, s.desc.Kind, callerID, id)
	if err != nil {
		return nil, s.storeError("loading", err)
	}
	return res, nil
}

func (s *Service) list(ctx context.Context, callerID string, filter db.ListFilter) ([]*models.Resource, error) {
	records, err := s.repo.List(ctx, s.desc.Kind, callerID, filter)
	if err != nil {
		return nil, apperr.Backend("listing "+s.desc.Collection, err)
	}
	for i, res := range records {
		if records[i], err = s.decorate(res); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// checkParent verifies that parentID names a folder owned by the caller.
// selfID guards against a folder becoming its own parent.
func (s *Service) checkParent(ctx context.Context, callerID, selfID string, parentID *string) (*string, error) {
	if parentID == nil || strings.TrimSpace(*parentID) == "" {
		return nil, nil
	}
	id := strings.TrimSpace(*parentID)
	if s.desc.Kind == models.KindFolder && id == selfID {
		return nil, apperr.Validation("A folder cannot contain itself")
	}

	_, err := s.repo.Get(ctx, models.KindFolder, callerID, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Validation("Parent folder not found")
	}
	if err != nil {
		return nil, apperr.Backend("loading parent folder", err)
	}
	return &id, nil
}

func (s *Service) cleanName(raw string) (string, error) {
	name := s.renderer.Name(raw)
	if name == "" {
		if s.desc.Kind == models.KindNote {
			return "", apperr.Validation("Title is required")
		}
		return "", apperr.Validation("Name is required")
	}
	if len(name) > constants.MaxNameLength {
		return "", apperr.Validation("Name is too long")
	}
	return name, nil
}

func (s *Service) decorate(res *models.Resource) (*models.Resource, error) {
	if res.HasFile() {
		res.URL = mediaurl.File(s.baseURL, s.desc.Collection, res.ID)
	}
	if res.Kind == models.KindNote {
		res.Title = res.Name
		html, err := s.renderer.Markdown(res.Description)
		if err != nil {
			return nil, apperr.Backend("rendering note", err)
		}
		res.DescriptionHTML = html
	}
	return res, nil
}

func (s *Service) storeError(op string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound(s.desc.Label + " not found")
	}
	return apperr.Backend(op+" "+string(s.desc.Kind), err)
}

func (s *Service) blobSaveError(err error) error {
	switch {
	case errors.Is(err, blob.ErrFileTooLarge):
		return &apperr.Error{Kind: apperr.ErrValidation, Message: "File exceeds the upload limit", Err: err}
	case errors.Is(err, blob.ErrDisallowedType):
		return apperr.Validation("File type is not allowed")
	case errors.Is(err, blob.ErrExecutableFile):
		return apperr.Validation("Executable files are not allowed")
	case errors.Is(err, blob.ErrEmptyFile):
		return apperr.Validation("File is empty")
	default:
		return apperr.Backend("saving blob", err)
	}
}

// discardBlob removes a blob written for a record that was never created.
func (s *Service) discardBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		slog.Warn("error cleaning up stored blob", "error", err, "kind", s.desc.Kind, "blob_key", key)
	}
}

func cloneRecord(src *models.Resource, suffix string) *models.Resource {
	clone := &models.Resource{
		UserID:      src.UserID,
		Kind:        src.Kind,
		ParentID:    src.ParentID,
		Name:        copyName(src.Name, suffix),
		Description: src.Description,
	}
	if src.File != nil {
		file := *src.File
		clone.File = &file
	}
	return clone
}

// copyName appends suffix, cutting name at a rune boundary so the result
// stays within MaxNameLength.
func copyName(name, suffix string) string {
	limit := constants.MaxNameLength - len(suffix)
	if len(name) > limit {
		for limit > 0 && !utf8.RuneStart(name[limit]) {
			limit--
		}
		name = name[:limit]
	}
	return name + suffix
}

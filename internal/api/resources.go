package api

import (
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"drive/internal/models"
	"drive/internal/resource"
)

// ResourceHandler serves the route set shared by folders, images, pdfs and
// notes. Differences between kinds come from the service's descriptor.
type ResourceHandler struct {
	svc         *resource.Service
	desc        resource.Descriptor
	jsonLimit   int64
	uploadLimit int64
}

func NewResourceHandler(svc *resource.Service, jsonLimit, uploadLimit int64) *ResourceHandler {
	return &ResourceHandler{
		svc:         svc,
		desc:        svc.Descriptor(),
		jsonLimit:   jsonLimit,
		uploadLimit: uploadLimit,
	}
}

// Routes builds the sub-router mounted at /api/<collection>. The given
// middlewares, normally the auth gate, run before every route.
func (h *ResourceHandler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)

	r.Post("/create", h.Create)
	r.Post("/upload", h.Create)

	r.Group(func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(h.jsonLimit))

		r.Get("/get/{id}", h.Get)
		r.Get("/get-all", h.List)
		r.Get("/all/favorites", h.ListFavorites)
		r.Get("/date/{date}", h.ListByDate)
		r.Get("/total/count", h.Count)
		r.Get("/total/size", h.TotalSize)
		r.Put("/update/{id}", h.Update)
		r.Put("/rename/{id}", h.Rename)
		r.Put("/favorite/{id}", h.ToggleFavorite)
		r.Post("/copy/{id}", h.Copy)
		r.Post("/duplicate/{id}", h.Duplicate)
		r.Delete("/delete/{id}", h.Delete)

		if h.desc.HasFiles() {
			r.Get("/file/{id}", h.File)
			r.Get("/size/{id}", h.Size)
		}
		if h.desc.Kind == models.KindFolder {
			r.Get("/storage/{id}", h.FolderUsage)
		}
	})

	return r
}

type CreateResourceRequest struct {
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ParentID    *string `json:"parentId"`
}

type UpdateResourceRequest struct {
	Name        *string `json:"name"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	ParentID    *string `json:"parentId"`
}

type RenameResourceRequest struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// POST /api/{collection}/create and /api/{collection}/upload
func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.createFromForm(w, r)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.jsonLimit)
	var req CreateResourceRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Title != "" && h.desc.Kind != models.KindNote {
		badRequest(w, "title is only supported for notes")
		return
	}

	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = req.Title
	}
	h.create(w, r, resource.CreateInput{
		Name:        name,
		Description: req.Description,
		ParentID:    req.ParentID,
	})
}

func (h *ResourceHandler) createFromForm(w http.ResponseWriter, r *http.Request) {
	if !h.desc.HasFiles() {
		badRequest(w, h.desc.Label+" cannot have a file")
		return
	}

	form, ok := readUploadForm(w, r, h.uploadLimit)
	if !ok {
		return
	}
	defer form.Close()

	in := resource.CreateInput{
		Name:        form.value("name"),
		Description: form.value("description"),
	}
	if in.Name == "" {
		in.Name = form.value("title")
	}
	if parentID := form.value("parentId"); parentID != "" {
		in.ParentID = &parentID
	}
	if form.file != nil {
		in.File = &resource.Upload{Name: form.header.Filename, Reader: form.file}
	}

	h.create(w, r, in)
}

func (h *ResourceHandler) create(w http.ResponseWriter, r *http.Request, in resource.CreateInput) {
	res, err := h.svc.Create(r.Context(), GetUserID(r), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GET /api/{collection}/get/{id}
func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Get(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	h.writeRecord(w, r, http.StatusOK, res, err)
}

// GET /api/{collection}/file/{id}
func (h *ResourceHandler) File(w http.ResponseWriter, r *http.Request) {
	file, err := h.svc.Open(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	serveFile(w, r, file)
}

// GET /api/{collection}/size/{id}
func (h *ResourceHandler) Size(w http.ResponseWriter, r *http.Request) {
	size, err := h.svc.Size(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"size": size})
}

// GET /api/folders/storage/{id}
func (h *ResourceHandler) FolderUsage(w http.ResponseWriter, r *http.Request) {
	used, err := h.svc.FolderUsage(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"storageUsed": used})
}

// PUT /api/{collection}/update/{id}
func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateResourceRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Title != nil && h.desc.Kind != models.KindNote {
		badRequest(w, "title is only supported for notes")
		return
	}

	in := resource.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		ParentID:    req.ParentID,
	}
	if in.Name == nil {
		in.Name = req.Title
	}

	res, err := h.svc.Update(r.Context(), GetUserID(r), chi.URLParam(r, "id"), in)
	h.writeRecord(w, r, http.StatusOK, res, err)
}

// PUT /api/{collection}/rename/{id}
func (h *ResourceHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameResourceRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	name := req.Name
	if h.desc.Kind == models.KindNote && strings.TrimSpace(name) == "" {
		name = req.Title
	}

	res, err := h.svc.Rename(r.Context(), GetUserID(r), chi.URLParam(r, "id"), name)
	h.writeRecord(w, r, http.StatusOK, res, err)
}

// PUT /api/{collection}/favorite/{id}
func (h *ResourceHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ToggleFavorite(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	h.writeRecord(w, r, http.StatusOK, res, err)
}

// POST /api/{collection}/copy/{id}
func (h *ResourceHandler) Copy(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Copy(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	h.writeRecord(w, r, http.StatusCreated, res, err)
}

// POST /api/{collection}/duplicate/{id}
func (h *ResourceHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Duplicate(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	h.writeRecord(w, r, http.StatusCreated, res, err)
}

// DELETE /api/{collection}/delete/{id}
func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), GetUserID(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, h.desc.Label+" deleted successfully")
}

// GET /api/{collection}/get-all
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List(r.Context(), GetUserID(r))
	h.writeRecords(w, r, records, err)
}

// GET /api/{collection}/all/favorites
func (h *ResourceHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListFavorites(r.Context(), GetUserID(r))
	h.writeRecords(w, r, records, err)
}

// GET /api/{collection}/date/{date}
func (h *ResourceHandler) ListByDate(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListByDate(r.Context(), GetUserID(r), chi.URLParam(r, "date"))
	h.writeRecords(w, r, records, err)
}

// GET /api/{collection}/total/count
func (h *ResourceHandler) Count(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.Count(r.Context(), GetUserID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{countKey(h.desc.Collection): count})
}

// GET /api/{collection}/total/size
func (h *ResourceHandler) TotalSize(w http.ResponseWriter, r *http.Request) {
	total, err := h.svc.TotalSize(r.Context(), GetUserID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"totalSize": total})
}

func (h *ResourceHandler) writeRecord(w http.ResponseWriter, r *http.Request, status int, res *models.Resource, err error) {
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, status, res)
}

func (h *ResourceHandler) writeRecords(w http.ResponseWriter, r *http.Request, records []*models.Resource, err error) {
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// countKey turns "folders" into "totalFolders".
func countKey(collection string) string {
	if collection == "" {
		return "total"
	}
	return "total" + strings.ToUpper(collection[:1]) + collection[1:]
}

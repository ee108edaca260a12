package gallery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/gallery/service/internal/logger"
	"github.com/gallery/service/internal/media"
	"github.com/gallery/service/internal/response"
	"github.com/gallery/service/internal/storage"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temp files.
const multipartMemory = 32 << 20

// Handler holds HTTP handlers for album and asset endpoints.
type Handler struct {
	ingester   *Ingester
	aggregator *Aggregator
	reconciler *Reconciler
	maxRequest int64
}

// NewHandler creates a new gallery Handler. maxRequest caps the size of an
// upload request body.
func NewHandler(ingester *Ingester, aggregator *Aggregator, reconciler *Reconciler, maxRequest int64) *Handler {
	return &Handler{ingester: ingester, aggregator: aggregator, reconciler: reconciler, maxRequest: maxRequest}
}

type uploadResult struct {
	FileName string `json:"fileName"`
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	Backend  string `json:"backend,omitempty"`
	Error    string `json:"error,omitempty"`
}

type uploadSummary struct {
	Message  string         `json:"message"  example:"uploaded 2 of 3"`
	Uploaded int            `json:"uploaded" example:"2"`
	Total    int            `json:"total"    example:"3"`
	Results  []uploadResult `json:"results"`
}

type deleteRequest struct {
	IDs        []string `json:"ids"`
	Visibility string   `json:"visibility" example:"public"`
}

type registerRequest struct {
	Album   string `json:"album"   example:"beach"`
	URL     string `json:"url"     example:"https://example.com/photo.jpg"`
	Private bool   `json:"private" example:"false"`
}

// ListPublicAlbums godoc
//
//	@Summary	List public albums
//	@Tags		albums
//	@Produce	json
//	@Success	200	{object}	response.Envelope{data=[]media.Album}
//	@Failure	500	{object}	response.Envelope
//	@Router		/albums [get]
func (h *Handler) ListPublicAlbums(w http.ResponseWriter, r *http.Request) {
	h.listAlbums(w, r, media.Public)
}

// ListPrivateAlbums godoc
//
//	@Summary	List private albums
//	@Tags		albums
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	response.Envelope{data=[]media.Album}
//	@Failure	401	{object}	response.Envelope
//	@Router		/private/albums [get]
func (h *Handler) ListPrivateAlbums(w http.ResponseWriter, r *http.Request) {
	h.listAlbums(w, r, media.Private)
}

func (h *Handler) listAlbums(w http.ResponseWriter, r *http.Request, vis media.Visibility) {
	albums, err := h.aggregator.ListAlbums(r.Context(), vis)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if albums == nil {
		albums = []media.Album{}
	}
	response.OK(w, albums)
}

// ListPublicAssets godoc
//
//	@Summary	List the assets of a public album
//	@Tags		albums
//	@Produce	json
//	@Param		album	path		string	true	"Album name"
//	@Success	200		{object}	response.Envelope{data=[]media.Asset}
//	@Failure	400		{object}	response.Envelope
//	@Router		/albums/{album}/assets [get]
func (h *Handler) ListPublicAssets(w http.ResponseWriter, r *http.Request) {
	h.listAssets(w, r, media.Public)
}

// ListPrivateAssets lists the assets of a private album.
func (h *Handler) ListPrivateAssets(w http.ResponseWriter, r *http.Request) {
	h.listAssets(w, r, media.Private)
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request, vis media.Visibility) {
	assets, err := h.aggregator.ListAssets(r.Context(), AlbumParam(r), vis)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if assets == nil {
		assets = []media.Asset{}
	}
	response.OK(w, assets)
}

// Upload godoc
//
//	@Summary		Upload photos into an album
//	@Description	Every "photo" part is normalized and stored independently; the response reports each file.
//	@Tags			albums
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			album		path		string	true	"Album name"
//	@Param			photo		formData	file	true	"Image files"
//	@Param			visibility	formData	string	false	"public or private"
//	@Success		200			{object}	response.Envelope{data=uploadSummary}
//	@Failure		400			{object}	response.Envelope
//	@Failure		413			{object}	response.Envelope
//	@Router			/albums/{album}/assets [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxRequest > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequest)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		response.InvalidMultipart(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	vis, err := media.ParseVisibility(r.FormValue("visibility"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	files, err := ReadFiles(r.MultipartForm, "photo")
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	results, err := h.ingester.Ingest(r.Context(), AlbumParam(r), vis, files)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	summary := uploadSummary{Total: len(results), Uploaded: Uploaded(results), Results: make([]uploadResult, len(results))}
	summary.Message = fmt.Sprintf("uploaded %d of %d", summary.Uploaded, summary.Total)
	for i, res := range results {
		summary.Results[i] = uploadResult{
			FileName: res.FileName,
			ID:       res.AssetID,
			URL:      res.Locator,
			Backend:  res.Backend,
			Error:    publicError(res.Err),
		}
	}
	response.OK(w, summary)
}

// DeleteAssets godoc
//
//	@Summary	Delete assets of an album by id or URL
//	@Tags		albums
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		album	path		string			true	"Album name"
//	@Param		request	body		deleteRequest	true	"Identifiers"
//	@Success	200		{object}	response.Envelope{data=DeleteReport}
//	@Failure	400		{object}	response.Envelope
//	@Router		/albums/{album}/assets [delete]
func (h *Handler) DeleteAssets(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		response.BadRequest(w, "ids are required")
		return
	}
	vis, err := media.ParseVisibility(req.Visibility)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	report, err := h.reconciler.Delete(r.Context(), req.IDs, AlbumParam(r), vis)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, report)
}

// DeleteAlbum removes every asset of an album. The visibility comes from the
// "visibility" query parameter.
func (h *Handler) DeleteAlbum(w http.ResponseWriter, r *http.Request) {
	vis, err := media.ParseVisibility(r.URL.Query().Get("visibility"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	report, err := h.reconciler.DeleteAlbum(r.Context(), AlbumParam(r), vis)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, report)
}

// Register godoc
//
//	@Summary	Record an externally hosted photo
//	@Tags		assets
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		request	body		registerRequest	true	"Photo"
//	@Success	201		{object}	response.Envelope{data=media.Asset}
//	@Success	200		{object}	response.Envelope{data=media.Asset}
//	@Failure	400		{object}	response.Envelope
//	@Router		/assets [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	vis := media.Public
	if req.Private {
		vis = media.Private
	}

	a, created, err := h.ingester.Register(r.Context(), req.Album, vis, req.URL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if created {
		response.Created(w, a)
		return
	}
	response.OK(w, a)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAlbumRequired),
		errors.Is(err, ErrNoFiles),
		errors.Is(err, ErrInvalidLocator),
		errors.Is(err, media.ErrInvalidVisibility):
		response.BadRequest(w, err.Error())
	default:
		logger.FromContext(r.Context()).Error("gallery request failed", slog.Any("error", err))
		response.InternalError(w)
	}
}

// publicError is the message shown to the client for a per-file error.
func publicError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyFile):
		return ErrEmptyFile.Error()
	case errors.Is(err, storage.ErrAllBackendsFailed):
		return "storage unavailable, try again later"
	default:
		return "could not save file"
	}
}

// AlbumParam returns the decoded {album} route parameter.
func AlbumParam(r *http.Request) string {
	raw := chi.URLParam(r, "album")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

// ReadFiles loads every file of a multipart field into memory.
func ReadFiles(form *multipart.Form, field string) ([]File, error) {
	if form == nil || len(form.File[field]) == 0 {
		return nil, fmt.Errorf("field %q: %w", field, ErrNoFiles)
	}
	headers := form.File[field]
	files := make([]File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, File{
			Name:        fh.Filename,
			Data:        data,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

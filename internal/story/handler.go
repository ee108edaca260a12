package story

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gallery/service/internal/gallery"
	"github.com/gallery/service/internal/logger"
	"github.com/gallery/service/internal/response"
	"github.com/gallery/service/internal/storage"
)

const (
	textField   = "text"
	imagesField = "story_images"
	deleteField = "delete_images"
)

// Handler holds HTTP handlers for story endpoints.
type Handler struct {
	service    *Service
	maxRequest int64
}

// NewHandler creates a new story Handler.
func NewHandler(service *Service, maxRequest int64) *Handler {
	return &Handler{service: service, maxRequest: maxRequest}
}

// List godoc
//
//	@Summary	List stories, newest first
//	@Tags		stories
//	@Produce	json
//	@Param		limit	query		int	false	"Page size"	default(20)
//	@Param		offset	query		int	false	"Offset"
//	@Success	200		{object}	response.Envelope{data=[]Story}
//	@Router		/stories [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	stories, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, stories)
}

// Get godoc
//
//	@Summary	Get a story
//	@Tags		stories
//	@Produce	json
//	@Param		id	path		string	true	"Story ID"
//	@Success	200	{object}	response.Envelope{data=Story}
//	@Failure	404	{object}	response.Envelope
//	@Router		/stories/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, s)
}

// Create godoc
//
//	@Summary	Publish a story
//	@Tags		stories
//	@Accept		multipart/form-data
//	@Produce	json
//	@Security	BearerAuth
//	@Param		text			formData	string	false	"Story text"
//	@Param		story_images	formData	file	false	"Images"
//	@Success	201				{object}	response.Envelope{data=Story}
//	@Failure	400				{object}	response.Envelope
//	@Router		/stories [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequest)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		response.InvalidMultipart(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, err := optionalFiles(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	s, err := h.service.Create(r.Context(), r.FormValue(textField), files)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, s)
}

// Update edits the text of a story, removes the images listed in
// "delete_images" and appends the uploaded "story_images".
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequest)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		response.InvalidMultipart(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, err := optionalFiles(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	var text *string
	if values, ok := r.MultipartForm.Value[textField]; ok && len(values) > 0 {
		text = &values[0]
	}

	s, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), text, r.MultipartForm.Value[deleteField], files)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, s)
}

// Delete godoc
//
//	@Summary	Delete a story and its images
//	@Tags		stories
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"Story ID"
//	@Success	200	{object}	response.Envelope
//	@Failure	404	{object}	response.Envelope
//	@Router		/stories/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, map[string]string{"message": "story deleted"})
}

func optionalFiles(r *http.Request) ([]gallery.File, error) {
	if len(r.MultipartForm.File[imagesField]) == 0 {
		return nil, nil
	}
	return gallery.ReadFiles(r.MultipartForm, imagesField)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "story not found")
	case errors.Is(err, ErrEmptyStory),
		errors.Is(err, ErrTextTooLong),
		errors.Is(err, ErrTooManyImages),
		errors.Is(err, gallery.ErrEmptyFile):
		response.BadRequest(w, err.Error())
	case errors.Is(err, storage.ErrAllBackendsFailed):
		response.ServiceUnavailable(w, "storage unavailable, try again later")
	default:
		logger.FromContext(r.Context()).Error("story request failed", slog.Any("error", err))
		response.InternalError(w)
	}
}

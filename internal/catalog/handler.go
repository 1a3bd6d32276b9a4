package catalog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/librora/bookstore/internal/auth"
	"github.com/librora/bookstore/internal/domain"
	"github.com/librora/bookstore/internal/files"
)

const maxCoverSize = 10 << 20

type Handler struct {
	repo   *Repository
	files  *files.Store
	logger *slog.Logger
}

func NewHandler(repo *Repository, fileStore *files.Store, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		files:  fileStore,
		logger: logger,
	}
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.repo.ListBooks(r.Context())
	if err != nil {
		h.respondError(w, err, "failed to list books")
		return
	}

	h.writeJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleTopBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.repo.TopBooks(r.Context(), 10)
	if err != nil {
		h.respondError(w, err, "failed to list top books")
		return
	}

	h.writeJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	book, err := h.repo.GetBook(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "failed to get book")
		return
	}

	h.writeJSON(w, http.StatusOK, book)
}

type createBookRequest struct {
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Price       decimal.Decimal `json:"price"`
	ISBN        string          `json:"isbn"`
	Description string          `json:"description"`
	GenreIDs    []string        `json:"genre_ids"`
}

func (h *Handler) HandleCreateBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	var req createBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ValidateBook(req.Title, req.Author, req.ISBN, req.Price); err != nil {
		h.respondError(w, err, "invalid book")
		return
	}

	book := &domain.Book{
		Title:       req.Title,
		Author:      req.Author,
		Price:       req.Price,
		ISBN:        req.ISBN,
		Description: req.Description,
	}

	if err := h.repo.CreateBook(r.Context(), book, req.GenreIDs); err != nil {
		h.respondError(w, err, "failed to create book")
		return
	}

	book, err := h.repo.GetBook(r.Context(), book.ID)
	if err != nil {
		h.respondError(w, err, "failed to reload book")
		return
	}

	h.logger.Info("book created", "book_id", book.ID, "title", book.Title)
	h.writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var upd BookUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&upd); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	book, err := h.repo.UpdateBook(r.Context(), id, upd)
	if err != nil {
		h.respondError(w, err, "failed to update book")
		return
	}

	h.logger.Info("book updated", "book_id", book.ID)
	h.writeJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteBook(r.Context(), id); err != nil {
		h.respondError(w, err, "failed to delete book")
		return
	}

	h.logger.Info("book deleted", "book_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUploadCover(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxCoverSize); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("cover")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "a cover file is required")
		return
	}
	defer func() { _ = file.Close() }()

	coverURL, err := h.files.Save(file, header.Filename)
	if err != nil {
		h.respondError(w, err, "failed to store cover")
		return
	}

	if err := h.repo.SetBookCover(r.Context(), id, coverURL); err != nil {
		h.respondError(w, err, "failed to set cover")
		return
	}

	h.logger.Info("book cover updated", "book_id", id)
	h.writeJSON(w, http.StatusOK, map[string]string{"cover_url": coverURL})
}

func (h *Handler) HandleListGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := h.repo.ListGenres(r.Context())
	if err != nil {
		h.respondError(w, err, "failed to list genres")
		return
	}

	h.writeJSON(w, http.StatusOK, genres)
}

func (h *Handler) HandleGetGenre(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	genre, err := h.repo.GetGenre(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "failed to get genre")
		return
	}

	h.writeJSON(w, http.StatusOK, genre)
}

type genreRequest struct {
	Name string `json:"name"`
}

func (h *Handler) HandleCreateGenre(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	var req genreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ValidateGenre(req.Name); err != nil {
		h.respondError(w, err, "invalid genre")
		return
	}

	genre := &domain.Genre{Name: req.Name}
	if err := h.repo.CreateGenre(r.Context(), genre); err != nil {
		h.respondError(w, err, "failed to create genre")
		return
	}

	h.logger.Info("genre created", "genre_id", genre.ID, "name", genre.Name)
	h.writeJSON(w, http.StatusCreated, genre)
}

func (h *Handler) HandleUpdateGenre(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req genreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ValidateGenre(req.Name); err != nil {
		h.respondError(w, err, "invalid genre")
		return
	}

	genre, err := h.repo.UpdateGenre(r.Context(), id, req.Name)
	if err != nil {
		h.respondError(w, err, "failed to update genre")
		return
	}

	h.writeJSON(w, http.StatusOK, genre)
}

func (h *Handler) HandleDeleteGenre(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteGenre(r.Context(), id); err != nil {
		h.respondError(w, err, "failed to delete genre")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathID rejects malformed ids before they reach a uuid column; a garbage id
// is indistinguishable from a missing resource.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, http.StatusNotFound, "not found")
		return "", false
	}
	return id, true
}

func (h *Handler) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !identity.IsStaff {
		h.writeError(w, http.StatusForbidden, "staff access required")
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidState):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

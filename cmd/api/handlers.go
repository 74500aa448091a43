package main

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/PaulBabatuyi/pairchat/internal/chat"
	"github.com/PaulBabatuyi/pairchat/internal/media"
	"github.com/go-chi/chi/v5"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (app *application) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, err)
		return
	}
	session, err := app.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (app *application) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, err)
		return
	}
	session, err := app.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (app *application) me(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	user, err := app.svc.Me(r.Context(), id.UserID)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (app *application) listUsers(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	users, err := app.svc.ListUsers(r.Context(), id.UserID)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (app *application) listConversations(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	list, err := app.svc.ListConversations(r.Context(), id.UserID)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (app *application) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantEmail string `json:"participantEmail"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, err)
		return
	}
	id, _ := identityFromContext(r.Context())
	conv, err := app.svc.FindOrCreate(r.Context(), id.UserID, req.ParticipantEmail)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (app *application) listMessages(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	msgs, err := app.svc.ListMessages(r.Context(), id.UserID, chi.URLParam(r, "conversationID"))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (app *application) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, err)
		return
	}
	id, _ := identityFromContext(r.Context())
	msg, err := app.svc.SendText(r.Context(), id.UserID, chi.URLParam(r, "conversationID"), req.Content)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (app *application) sendMediaMessage(w http.ResponseWriter, r *http.Request) {
	if err := app.parseMultipart(w, r, 1); err != nil {
		app.writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	id, _ := identityFromContext(r.Context())
	msg, err := app.svc.SendMedia(r.Context(), id.UserID, chi.URLParam(r, "conversationID"),
		firstFile(r.MultipartForm, "file"), r.FormValue("type"))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (app *application) upload(w http.ResponseWriter, r *http.Request) {
	if err := app.parseMultipart(w, r, 1); err != nil {
		app.writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, err := app.svc.Upload(firstFile(r.MultipartForm, "file"))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (app *application) uploadMulti(w http.ResponseWriter, r *http.Request) {
	if err := app.parseMultipart(w, r, chat.MaxUploadFiles); err != nil {
		app.writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, err := app.svc.UploadMany(r.MultipartForm.File["files"])
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Files []*media.File `json:"files"`
	}{files})
}

func (app *application) serveUpload(w http.ResponseWriter, r *http.Request) {
	if err := app.files.Serve(w, r, chi.URLParam(r, "filename")); err != nil {
		app.writeError(w, r, err)
	}
}

// parseMultipart bounds the body to maxFiles uploads plus form overhead.
func (app *application) parseMultipart(w http.ResponseWriter, r *http.Request, maxFiles int64) error {
	limit := app.files.MaxBytes()*maxFiles + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return apperr.Validation("upload too large")
		}
		return apperr.Validation("expected a multipart form")
	}
	return nil
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if fhs := form.File[field]; len(fhs) > 0 {
		return fhs[0]
	}
	return nil
}

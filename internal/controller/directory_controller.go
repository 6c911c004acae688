package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// DirectoryController serves test users and schools.
type DirectoryController struct {
	DirectoryService *service.DirectoryService
	Log              zerolog.Logger
}

func (c *DirectoryController) ListTestUsers(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	users, err := c.DirectoryService.ListTestUsers(r.Context(), activeOnly)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": users})
}

type testUserRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"max=200"`
	SchoolCode string `json:"school_code" validate:"max=32"`
	Active     *bool  `json:"active"`
}

func (c *DirectoryController) SaveTestUser(w http.ResponseWriter, r *http.Request) {
	var body testUserRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	u := &model.TestUser{Email: body.Email, Name: body.Name, SchoolCode: body.SchoolCode, Active: true}
	if body.Active != nil {
		u.Active = *body.Active
	}

	saved, err := c.DirectoryService.SaveTestUser(r.Context(), u)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, saved)
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (c *DirectoryController) SetTestUserActive(w http.ResponseWriter, r *http.Request) {
	var body setActiveRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	email := chi.URLParam(r, "email")
	if err := c.DirectoryService.SetTestUserActive(r.Context(), email, *body.Active); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"email": email, "active": *body.Active})
}

func (c *DirectoryController) DeleteTestUser(w http.ResponseWriter, r *http.Request) {
	if err := c.DirectoryService.DeleteTestUser(r.Context(), chi.URLParam(r, "email")); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *DirectoryController) ListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := c.DirectoryService.ListSchools(r.Context())
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": schools})
}

type schoolRequest struct {
	SchoolCode string `json:"school_code" validate:"required,max=32"`
	SchoolName string `json:"school_name" validate:"required,max=200"`
	SchoolPage string `json:"school_page" validate:"omitempty,url"`
	SchoolLogo string `json:"school_logo" validate:"omitempty,url"`
}

func (c *DirectoryController) SaveSchool(w http.ResponseWriter, r *http.Request) {
	var body schoolRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	saved, err := c.DirectoryService.SaveSchool(r.Context(), &model.School{
		SchoolCode: body.SchoolCode,
		SchoolName: body.SchoolName,
		SchoolPage: body.SchoolPage,
		SchoolLogo: body.SchoolLogo,
	})
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, saved)
}

package server

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/mohammad-safakhou/counsel/internal/preprocess"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type chatFile struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

type chatRequest struct {
	Message   string     `json:"message"`
	SessionID string     `json:"session_id"`
	Files     []chatFile `json:"files,omitempty"`
}

type chatHandler struct {
	runner Runner
	log    zerolog.Logger
}

func (h *chatHandler) Register(e *echo.Echo) {
	e.POST("/chat", h.chat)
	e.DELETE("/sessions/:id", h.deleteSession)
}

func (h *chatHandler) chat(c echo.Context) error {
	message, sessionID, uploads, err := h.bind(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	resp, err := h.runner.RunAgent(c.Request().Context(), message, sessionID, uploads)
	if err != nil {
		return pipelineError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"response": resp})
}

// deleteSession erases a session's history and uploaded documents.
func (h *chatHandler) deleteSession(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.runner.DeleteSession(c.Request().Context(), id); err != nil {
		return pipelineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func pipelineError(err error) error {
	if apperr.KindOf(err) == apperr.KindValidation {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
}

func (h *chatHandler) bind(c echo.Context) (string, string, []preprocess.Upload, error) {
	ctype := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ctype, echo.MIMEMultipartForm) {
		return h.bindMultipart(c)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return "", "", nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	req, err := decodeChatRequest(body)
	if err != nil {
		return "", "", nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	uploads := make([]preprocess.Upload, 0, len(req.Files))
	for _, f := range req.Files {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return "", "", nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("file %q is not valid base64", f.Filename)).SetInternal(err)
		}
		uploads = append(uploads, preprocess.Upload{Filename: f.Filename, Data: data})
	}
	return req.Message, req.SessionID, uploads, nil
}

func (h *chatHandler) bindMultipart(c echo.Context) (string, string, []preprocess.Upload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return "", "", nil, echo.NewHTTPError(http.StatusBadRequest, "invalid multipart body").SetInternal(err)
	}
	var uploads []preprocess.Upload
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return "", "", nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable file part").SetInternal(err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return "", "", nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable file part").SetInternal(err)
		}
		uploads = append(uploads, preprocess.Upload{Filename: fh.Filename, Data: data})
	}
	return c.FormValue("message"), c.FormValue("session_id"), uploads, nil
}

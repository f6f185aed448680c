// Package api serves the chat REST endpoints under /chatting.
package api

import (
	"net/http"
	"strconv"
	"time"

	"usedtrade/logger"
	"usedtrade/middleware"
	midsec "usedtrade/middleware/security"
	"usedtrade/module/chat/service"
	"usedtrade/tools/chrono"
	"usedtrade/tools/errs"
	"usedtrade/tools/specialerror"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope of every endpoint.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// HandlerFunc lets handlers return their error instead of rendering it.
type HandlerFunc func(c *gin.Context) error

type Server struct {
	svc     *service.Service
	display *chrono.Display
}

func NewServer(svc *service.Service, display *chrono.Display) *Server {
	if display == nil {
		display = chrono.MustDisplay("+00:00")
	}
	return &Server{svc: svc, display: display}
}

// Register mounts the endpoints; auth guards every route.
func (s *Server) Register(r gin.IRouter, auth gin.HandlerFunc) {
	g := r.Group("/chatting")
	opt := middleware.RouteOpt{Auth: auth}
	middleware.GET(g, "", s.wrap(s.ListChannels), opt)
	middleware.POST(g, "", s.wrap(s.CreateChannel), opt)
	middleware.GET(g, "/userId", s.wrap(s.Me), opt)
	middleware.GET(g, "/:roomId", s.wrap(s.ListMessages), opt)
	middleware.GET(g, "/:roomId/read-time", s.wrap(s.ReadTime), opt)
	middleware.DELETE(g, "/:roomId", s.wrap(s.DeleteChannel), opt)
}

func (s *Server) wrap(h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h(c); err != nil {
			status := specialerror.HTTPStatus(err)
			code := specialerror.CodeError(err)
			if status >= http.StatusInternalServerError {
				logger.Error("[API] request failed", zap.String("path", c.FullPath()), zap.Error(err))
			} else {
				logger.Debugf("[API] %s rejected: %v", c.FullPath(), err)
			}
			c.JSON(status, Response{Code: code.Code, Msg: code.Msg, Data: nil})
		}
	}
}

func ok(c *gin.Context, data any) error {
	c.JSON(http.StatusOK, Response{Code: 0, Msg: "OK", Data: data})
	return nil
}

// ListChannels GET /chatting?last-chat-time=
func (s *Server) ListChannels(c *gin.Context) error {
	userID, err := midsec.UserID(c)
	if err != nil {
		return err
	}
	before, err := s.display.ParseOptional(c.Query("last-chat-time"))
	if err != nil {
		return err
	}
	page, err := s.svc.ListChannelsForUser(c.Request.Context(), userID, before)
	if err != nil {
		return err
	}
	return ok(c, page)
}

// ListMessages GET /chatting/:roomId?created-at=
func (s *Server) ListMessages(c *gin.Context) error {
	userID, err := midsec.UserID(c)
	if err != nil {
		return err
	}
	before, err := s.display.ParseOptional(c.Query("created-at"))
	if err != nil {
		return err
	}
	page, err := s.svc.ListMessagesForChannel(c.Request.Context(), userID, c.Param("roomId"), before)
	if err != nil {
		return err
	}
	return ok(c, page)
}

type createRequest struct {
	SalesItemID int64 `json:"salesItemId" binding:"required,gt=0"`
}

type createResponse struct {
	RoomID   string `json:"roomId"`
	Redirect string `json:"redirect"`
	Created  bool   `json:"created"`
}

// CreateChannel POST /chatting {salesItemId}
func (s *Server) CreateChannel(c *gin.Context) error {
	userID, err := midsec.UserID(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	token, created, err := s.svc.CreateChannel(c.Request.Context(), userID, req.SalesItemID)
	if err != nil {
		return err
	}
	return ok(c, createResponse{RoomID: token, Redirect: "/" + token, Created: created})
}

// DeleteChannel DELETE /chatting/:roomId
func (s *Server) DeleteChannel(c *gin.Context) error {
	userID, err := midsec.UserID(c)
	if err != nil {
		return err
	}
	if err := s.svc.DeleteChannel(c.Request.Context(), userID, c.Param("roomId")); err != nil {
		return err
	}
	return ok(c, nil)
}

// Me GET /chatting/userId
func (s *Server) Me(c *gin.Context) error {
	userID, err := midsec.UserID(c)
	if err != nil {
		return err
	}
	return ok(c, gin.H{"userId": strconv.FormatInt(userID, 10)})
}

// ReadTime GET /chatting/:roomId/read-time
func (s *Server) ReadTime(c *gin.Context) error {
	userID, err := midsec.UserID(c)
	if err != nil {
		return err
	}
	at, err := s.svc.PeerReadTime(c.Request.Context(), userID, c.Param("roomId"))
	if err != nil {
		return err
	}
	return ok(c, gin.H{"readTime": s.renderRead(at)})
}

// renderRead hides the never-read sentinel from clients.
func (s *Server) renderRead(at time.Time) any {
	if !at.After(chrono.Epoch) {
		return nil
	}
	return s.display.Format(at)
}

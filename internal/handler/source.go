package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"botforge/internal/model"
	"botforge/internal/model/source"
	httputil "botforge/internal/pkg/http"
	"botforge/internal/service"
)

// multipartOverhead multipart 边界和表头占用的额外字节
const multipartOverhead = 1 << 20

// SourceHandler 知识源管理
type SourceHandler struct {
	sourceService  *service.SourceService
	maxUploadBytes int64
}

// NewSourceHandler 创建知识源处理器，maxUploadBytes <= 0 时不限制请求体大小
func NewSourceHandler(sourceService *service.SourceService, maxUploadBytes int64) *SourceHandler {
	return &SourceHandler{sourceService: sourceService, maxUploadBytes: maxUploadBytes}
}

// CreateFile 上传文件知识源
// @Summary      上传文件知识源
// @Description  支持 pdf/docx/txt/md/csv/xlsx，文件保存后异步解析入库
// @Tags         知识源
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id  path      string  true  "机器人ID"
// @Param        file    formData  file    true  "上传的文件"
// @Success      202     {object}  map[string]interface{}  "{\"code\": 0, \"message\": \"accepted\", \"data\": {\"source_id\": \"...\", \"status\": \"pending\"}}"
// @Failure      400     {object}  ErrorResponse
// @Failure      403     {object}  QuotaErrorResponse
// @Failure      404     {object}  ErrorResponse
// @Failure      413     {object}  ErrorResponse
// @Router       /sources/{bot_id}/file [post]
func (h *SourceHandler) CreateFile(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	if h.maxUploadBytes > 0 {
		limit := h.maxUploadBytes + multipartOverhead
		if c.Request.ContentLength > limit {
			writeError(c, service.ErrFileTooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(c, service.ErrFileTooLarge)
			return
		}
		badRequest(c, "Invalid file", err)
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		writeError(c, service.ErrFileTooLarge)
		return
	}

	body, err := file.Open()
	if err != nil {
		badRequest(c, "Failed to open file", err)
		return
	}
	defer body.Close()

	src, err := h.sourceService.CreateFile(c.Request.Context(), tenant, c.Param("bot_id"), &service.FileUpload{
		FileName: file.Filename,
		Size:     file.Size,
		Body:     body,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	accepted(c, src)
}

// CreateURL 添加网页知识源
// @Summary      添加网页知识源
// @Tags         知识源
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id   path      string                        true  "机器人ID"
// @Param        request  body      model.CreateURLSourceRequest  true  "网址"
// @Success      202      {object}  map[string]interface{}
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  QuotaErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /sources/{bot_id}/url [post]
func (h *SourceHandler) CreateURL(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req model.CreateURLSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	src, err := h.sourceService.CreateURL(c.Request.Context(), tenant, c.Param("bot_id"), req.URL)
	if err != nil {
		writeError(c, err)
		return
	}
	accepted(c, src)
}

// CreateText 添加文本知识源
// @Summary      添加文本知识源
// @Tags         知识源
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id   path      string                         true  "机器人ID"
// @Param        request  body      model.CreateTextSourceRequest  true  "标题和正文"
// @Success      202      {object}  map[string]interface{}
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  QuotaErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /sources/{bot_id}/text [post]
func (h *SourceHandler) CreateText(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req model.CreateTextSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	src, err := h.sourceService.CreateText(c.Request.Context(), tenant, c.Param("bot_id"), req.Title, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	accepted(c, src)
}

// List 机器人的全部知识源，包含状态和失败原因
// @Summary      知识源列表
// @Tags         知识源
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id  path      string  true  "机器人ID"
// @Success      200     {object}  map[string]interface{}
// @Failure      404     {object}  ErrorResponse
// @Router       /sources/{bot_id} [get]
func (h *SourceHandler) List(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	sources, err := h.sourceService.List(c.Request.Context(), tenant, c.Param("bot_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", httputil.ListResponse{
		Items: sources,
		Total: int64(len(sources)),
		Limit: len(sources),
	})
}

// Get 知识源详情
// @Summary      知识源详情
// @Tags         知识源
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id     path      string  true  "机器人ID"
// @Param        source_id  path      string  true  "知识源ID"
// @Success      200        {object}  map[string]interface{}
// @Failure      404        {object}  ErrorResponse
// @Router       /sources/{bot_id}/{source_id} [get]
func (h *SourceHandler) Get(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	src, err := h.sourceService.Get(c.Request.Context(), tenant, c.Param("bot_id"), c.Param("source_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", src)
}

// Delete 删除知识源，处理中的知识源返回 409
// @Summary      删除知识源
// @Tags         知识源
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id     path      string  true  "机器人ID"
// @Param        source_id  path      string  true  "知识源ID"
// @Success      200        {object}  map[string]interface{}
// @Failure      404        {object}  ErrorResponse
// @Failure      409        {object}  ErrorResponse
// @Router       /sources/{bot_id}/{source_id} [delete]
func (h *SourceHandler) Delete(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	if err := h.sourceService.Delete(c.Request.Context(), tenant, c.Param("bot_id"), c.Param("source_id")); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "知识源已删除", nil)
}

func accepted(c *gin.Context, src *source.Source) {
	respond(c, http.StatusAccepted, "accepted", model.SourceCreatedResponse{
		SourceID: src.ID,
		Status:   string(src.Status),
	})
}

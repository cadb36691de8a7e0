package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AttachmentsHandler serves ticket attachment endpoints.
type AttachmentsHandler struct {
	service AttachmentUseCases
}

// NewAttachmentsHandler constructs handler.
func NewAttachmentsHandler(attachmentService AttachmentUseCases) *AttachmentsHandler {
	return &AttachmentsHandler{service: attachmentService}
}

// List GET /tickets/:id/attachments.
func (h *AttachmentsHandler) List(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	list, err := h.service.List(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.AttachmentResponse, 0, len(list))
	for i := range list {
		items = append(items, attachmentResponse(&list[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Upload POST /tickets/:id/attachments with multipart field "file".
func (h *AttachmentsHandler) Upload(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	header, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("multipart field \"file\" required", nil)
	}
	file, err := header.Open()
	if err != nil {
		return apperrors.NewValidationError("unreadable upload", nil)
	}
	defer file.Close()

	attachment, err := h.service.Upload(c.UserContext(), user, c.Params("id"), service.UploadInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   header.Size,
		Body:        file,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": attachmentResponse(attachment)})
}

// Delete DELETE /tickets/:id/attachments/:attachmentID.
func (h *AttachmentsHandler) Delete(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), user, c.Params("id"), c.Params("attachmentID")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func attachmentResponse(att *domain.Attachment) dto.AttachmentResponse {
	return dto.AttachmentResponse{
		ID:         att.ID,
		FileName:   att.FileName,
		URL:        att.URL,
		SizeBytes:  att.SizeBytes,
		UploadedBy: att.UploadedBy,
		CreatedAt:  att.CreatedAt,
	}
}

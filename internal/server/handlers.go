package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/merchantdesk/clientbook/internal/clients"
	"go.uber.org/zap"
)

const maxAttachmentBytes = 5 << 20

var (
	errTooManyFiles = errors.New("too many attachment files")
	errFileTooLarge = errors.New("attachment file too large")
)

func (h *httpHandler) handleListClients(c *gin.Context) {
	records, err := h.service.ListClients(c.Request.Context())
	if err != nil {
		h.logger.Error("fetch clients failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch clients"})
		return
	}
	c.JSON(http.StatusOK, clientsToPayload(records))
}

func (h *httpHandler) handleListPage(c *gin.Context) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	filter := clients.Filter{
		Field: clients.ParseFilterField(c.Param("filterName")),
		Value: c.Param("filterValue"),
	}

	records, err := h.service.ListPage(c.Request.Context(), page, filter)
	if err != nil {
		h.logger.Error("fetch client page failed", zap.Int("page", page), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch clients"})
		return
	}
	c.JSON(http.StatusOK, clientsToPayload(records))
}

func (h *httpHandler) handleCreateClient(c *gin.Context) {
	photos, err := h.readAttachments(c, "photos")
	if err != nil {
		h.writeAttachmentError(c, err)
		return
	}

	record, err := h.service.CreateClient(c.Request.Context(), clients.NewClient{
		Name:    c.PostForm("name"),
		Address: c.PostForm("address"),
		Photos:  photos,
	})
	if err != nil {
		switch {
		case errors.Is(err, clients.ErrNameRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required and cannot be empty"})
		case errors.Is(err, clients.ErrTooManyAttachments):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Too many files - max 15"})
		default:
			h.logger.Error("add client failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add client"})
		}
		return
	}
	c.JSON(http.StatusOK, clientToPayload(record))
}

func (h *httpHandler) handleUpdateClient(c *gin.Context) {
	clientID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	newPhotos, err := h.readAttachments(c, "photos")
	if err != nil {
		h.writeAttachmentError(c, err)
		return
	}

	// Kept photos arrive as a JSON array; anything malformed defaults empty.
	photos := decodeBlobField(c.PostForm("existingPhotos"))
	photos = append(photos, newPhotos...)

	record, err := h.service.UpdateClient(c.Request.Context(), clientID, clients.ClientUpdate{
		Name:    c.PostForm("name"),
		Address: c.PostForm("address"),
		Photos:  photos,
	})
	if err != nil {
		switch {
		case errors.Is(err, clients.ErrClientNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		case errors.Is(err, clients.ErrNameRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required and cannot be empty"})
		case errors.Is(err, clients.ErrTooManyAttachments):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Too many files - max 15"})
		default:
			h.logger.Error("update client failed", zap.Uint("client_id", clientID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update client"})
		}
		return
	}
	c.JSON(http.StatusOK, clientToPayload(record))
}

type promotePhotoPayload struct {
	Photo string `json:"photo"`
}

func (h *httpHandler) handlePromotePhoto(c *gin.Context) {
	clientID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var request promotePhotoPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	photos, err := h.service.PromotePhoto(c.Request.Context(), clientID, request.Photo)
	if err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
			return
		}
		h.logger.Error("promote photo failed", zap.Uint("client_id", clientID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update photo"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Photo updated", "photos": photos})
}

func (h *httpHandler) handleDeleteClient(c *gin.Context) {
	clientID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteClient(c.Request.Context(), clientID); err != nil {
		h.logger.Error("delete client failed", zap.Uint("client_id", clientID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete client"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleCreatePurchase(c *gin.Context) {
	images, err := h.readAttachments(c, "images")
	if err != nil {
		h.writeAttachmentError(c, err)
		return
	}

	clientID, err := strconv.ParseUint(c.PostForm("client_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase data"})
		return
	}
	price, err := strconv.ParseFloat(c.PostForm("price"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase data"})
		return
	}

	balance := 0.0
	if raw := strings.TrimSpace(c.PostForm("remaining_balance")); raw != "" {
		balance, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid remaining balance"})
			return
		}
	}

	record, err := h.service.CreatePurchase(c.Request.Context(), clients.NewPurchase{
		ClientID:         uint(clientID),
		ItemName:         c.PostForm("item_name"),
		Price:            price,
		RemainingBalance: balance,
		Images:           images,
	})
	if err != nil {
		switch {
		case errors.Is(err, clients.ErrInvalidPurchase):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase data"})
		case errors.Is(err, clients.ErrInvalidBalance):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid remaining balance"})
		case errors.Is(err, clients.ErrTooManyAttachments):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Too many files - max 15"})
		default:
			h.logger.Error("add purchase failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add purchase"})
		}
		return
	}
	c.JSON(http.StatusOK, purchaseToPayload(record))
}

type purchaseJSONPayload struct {
	ItemName         *string  `json:"item_name"`
	Price            *float64 `json:"price"`
	RemainingBalance *float64 `json:"remaining_balance"`
}

func (h *httpHandler) handleUpdatePurchase(c *gin.Context) {
	purchaseID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var update clients.PurchaseUpdate
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		parsed, err := h.parsePurchaseForm(c)
		if err != nil {
			return
		}
		update = parsed
	} else {
		var request purchaseJSONPayload
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		update = clients.PurchaseUpdate{
			ItemName:         request.ItemName,
			Price:            request.Price,
			RemainingBalance: request.RemainingBalance,
		}
	}

	record, err := h.service.UpdatePurchase(c.Request.Context(), purchaseID, update)
	if err != nil {
		switch {
		case errors.Is(err, clients.ErrPurchaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Purchase not found"})
		case errors.Is(err, clients.ErrInvalidPurchase):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase data"})
		case errors.Is(err, clients.ErrBalanceExceedsPrice):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Remaining balance cannot exceed price"})
		case errors.Is(err, clients.ErrInvalidBalance):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid remaining balance"})
		case errors.Is(err, clients.ErrTooManyAttachments):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Too many files - max 15"})
		default:
			h.logger.Error("update purchase failed", zap.Uint("purchase_id", purchaseID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update purchase"})
		}
		return
	}
	c.JSON(http.StatusOK, purchaseToPayload(record))
}

// parsePurchaseForm reads a multipart purchase update; absent fields stay
// nil so the service keeps stored values. Writes the error response itself.
func (h *httpHandler) parsePurchaseForm(c *gin.Context) (clients.PurchaseUpdate, error) {
	newImages, err := h.readAttachments(c, "images")
	if err != nil {
		h.writeAttachmentError(c, err)
		return clients.PurchaseUpdate{}, err
	}

	var update clients.PurchaseUpdate
	update.NewImages = newImages

	if raw, present := formValue(c, "item_name"); present {
		value := raw
		update.ItemName = &value
	}
	if raw, present := formValue(c, "price"); present {
		price, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase data"})
			return clients.PurchaseUpdate{}, parseErr
		}
		update.Price = &price
	}
	if raw, present := formValue(c, "remaining_balance"); present {
		balance, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid remaining balance"})
			return clients.PurchaseUpdate{}, parseErr
		}
		update.RemainingBalance = &balance
	}
	if raw, present := formValue(c, "existingImages"); present {
		kept := decodeBlobField(raw)
		update.ExistingImages = &kept
	}
	return update, nil
}

func (h *httpHandler) handleDeletePurchase(c *gin.Context) {
	purchaseID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeletePurchase(c.Request.Context(), purchaseID); err != nil {
		h.logger.Error("delete purchase failed", zap.Uint("purchase_id", purchaseID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete purchase"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handlePurchaseHistory(c *gin.Context) {
	purchaseID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.service.PurchaseHistory(c.Request.Context(), purchaseID)
	if err != nil {
		h.logger.Error("fetch history failed", zap.Uint("purchase_id", purchaseID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}
	c.JSON(http.StatusOK, historyToPayload(rows))
}

// readAttachments collects the uploaded files of a multipart field as base64
// strings. Non-multipart requests yield no attachments.
func (h *httpHandler) readAttachments(c *gin.Context, field string) ([]string, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	files := form.File[field]
	if len(files) > clients.MaxAttachments {
		return nil, errTooManyFiles
	}

	blobs := make([]string, 0, len(files))
	for _, header := range files {
		if header.Size > maxAttachmentBytes {
			return nil, errFileTooLarge
		}
		blob, err := encodeAttachment(header)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	return blobs, nil
}

func encodeAttachment(header *multipart.FileHeader) (string, error) {
	file, err := header.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxAttachmentBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(raw)) > maxAttachmentBytes {
		return "", errFileTooLarge
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (h *httpHandler) writeAttachmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errTooManyFiles):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many files - max 15"})
	case errors.Is(err, errFileTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "File too large - max 5MB"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	}
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return 0, false
	}
	return uint(value), true
}

func formValue(c *gin.Context, key string) (string, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		return "", false
	}
	values := form.Value[key]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// decodeBlobField parses a JSON array of base64 strings submitted alongside
// the form, defaulting to empty on malformed input.
func decodeBlobField(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	var blobs []string
	if err := json.Unmarshal([]byte(raw), &blobs); err != nil || blobs == nil {
		return []string{}
	}
	return blobs
}

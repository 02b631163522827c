package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/receipt-tracker/internal/categorize"
)

const (
	// maxUploadSize is 50MB to handle high-resolution phone photos
	maxUploadSize = int64(50 << 20)
	maxJSONSize   = int64(1 << 20)

	dateLayout = "2006-01-02"
)

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors to status codes
func writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Receipt not found")
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Error "+action, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadedFile is a file read from a multipart form
type uploadedFile struct {
	name        string
	contentType string
	data        []byte
}

// readUpload parses the multipart form and reads its "file" field. It writes
// the error response itself and returns false on failure.
func readUpload(w http.ResponseWriter, r *http.Request) (*uploadedFile, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
		} else {
			writeError(w, http.StatusBadRequest, "Error parsing form")
		}
		return nil, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		msg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, http.StatusBadRequest, msg)
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "The uploaded file is empty")
		return nil, false
	}

	return &uploadedFile{
		name:        header.Filename,
		contentType: detectContentType(header.Header.Get("Content-Type"), header.Filename),
		data:        data,
	}, true
}

// detectContentType falls back to the file extension when the part has no
// content type. HEIC/HEIF types are preserved for the decoder.
func detectContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleScanReceipt stores and scans an upload, returning an unsaved draft
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	upload, ok := readUpload(w, r)
	if !ok {
		return
	}

	draft, err := s.service.ScanReceipt(r.Context(), upload.name, upload.data, upload.contentType)
	if err != nil {
		writeServiceError(w, err, "scanning receipt")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleCreateReceipt saves a JSON receipt, or uploads a multipart file with
// optional field overrides.
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		s.rateLimited(s.handleUploadReceipt)(w, r)
		return
	}

	var receipt Receipt
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONSize)).Decode(&receipt); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := s.service.CreateReceipt(&receipt)
	if err != nil {
		writeServiceError(w, err, "creating receipt")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	upload, ok := readUpload(w, r)
	if !ok {
		return
	}

	overrides, err := formOverrides(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := s.service.UploadReceipt(r.Context(), upload.name, upload.data, upload.contentType, overrides)
	if err != nil {
		slog.Error("Error processing receipt", "filename", upload.name, "error", err)
		writeServiceError(w, err, "uploading receipt")
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// formOverrides reads user-entered fields from an upload form. Blank fields
// are left to OCR. The total is entered in dollars.
func formOverrides(r *http.Request) (Overrides, error) {
	var o Overrides
	if v := strings.TrimSpace(r.FormValue("merchant")); v != "" {
		o.Merchant = &v
	}
	if v := strings.TrimSpace(r.FormValue("total")); v != "" {
		dollars, err := strconv.ParseFloat(strings.TrimPrefix(v, "$"), 64)
		if err != nil {
			return o, fmt.Errorf("invalid total %q", v)
		}
		cents := toCents(dollars)
		o.Total = &cents
	}
	if v := strings.TrimSpace(r.FormValue("date")); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return o, err
		}
		o.Date = &d
	}
	if v := strings.TrimSpace(r.FormValue("category")); v != "" {
		o.Category = &v
	}
	if v := strings.TrimSpace(r.FormValue("description")); v != "" {
		o.Description = &v
	}
	return o, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339
func parseDate(v string) (time.Time, error) {
	if d, err := time.Parse(dateLayout, v); err == nil {
		return d, nil
	}
	if d, err := time.Parse(time.RFC3339, v); err == nil {
		return d, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", v)
}

// updateRequest is the JSON body of a receipt update. Absent fields are
// left unchanged; the total is in cents.
type updateRequest struct {
	Merchant    *string `json:"merchant"`
	Total       *int    `json:"total"`
	Date        *string `json:"date"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	Items       []Item  `json:"items"`
}

func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	o := Overrides{
		Merchant:    req.Merchant,
		Total:       req.Total,
		Category:    req.Category,
		Description: req.Description,
		Items:       req.Items,
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		o.Date = &d
	}

	receipt, err := s.service.UpdateReceipt(id, o)
	if err != nil {
		writeServiceError(w, err, "updating receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleListReceipts returns receipts matching the query filters
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Category: strings.TrimSpace(q.Get("category")),
		Merchant: strings.TrimSpace(q.Get("merchant")),
	}
	if v := q.Get("from"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid from date %q, expected YYYY-MM-DD", v))
			return
		}
		filter.From = d
	}
	if v := q.Get("to"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid to date %q, expected YYYY-MM-DD", v))
			return
		}
		// include the whole day
		filter.To = d.Add(24*time.Hour - time.Nanosecond)
	}

	receipts, err := s.service.ListReceipts(filter)
	if err != nil {
		writeServiceError(w, err, "listing receipts")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		slog.Warn("Receipt file unavailable", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "deleting receipt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var in categorize.Input
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONSize)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"category": s.service.Categorize(in)})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Categories())
}

// intParam reads a positive integer query parameter
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func (s *Server) handleMonthlyTrends(w http.ResponseWriter, r *http.Request) {
	months, err := intParam(r, "months", DefaultTrendMonths)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trends, err := s.service.MonthlyTrends(months)
	if err != nil {
		writeServiceError(w, err, "computing monthly trends")
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

func (s *Server) handleTopMerchants(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", DefaultMerchantLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	merchants, err := s.service.TopMerchants(limit)
	if err != nil {
		writeServiceError(w, err, "computing top merchants")
		return
	}
	writeJSON(w, http.StatusOK, merchants)
}

func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.service.CategoryBreakdown()
	if err != nil {
		writeServiceError(w, err, "computing category breakdown")
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// multipartBody builds an upload form with a file and extra fields
func multipartBody(filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
	}
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(data, v)).To(Succeed(), string(data))
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		timeSrc := &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, scanner, storage, &mockIDGenerator{ids: []string{"test-id-123"}}, timeSrc)
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		server = NewServer(service, auth)
		ghttpServer = ghttp.NewServer()
		everything := regexp.MustCompile(`^/`)
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, everything, server.ServeHTTP)
		}
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("GET /healthz", func() {
		It("should report ok", func() {
			resp := do("GET", "/healthz", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("status", "ok"))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/receipts", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})

		It("should set headers on normal responses", func() {
			resp := do("GET", "/api/receipts", nil, "")
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/receipts", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "pass")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should leave the health check open", func() {
			resp := do("GET", "/healthz", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /api/receipts/scan", func() {
		It("should return an unsaved draft", func() {
			body, ct := multipartBody("receipt.jpg", []byte("img"), nil)
			resp := do("POST", "/api/receipts/scan", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var draft Receipt
			decodeBody(resp, &draft)
			Expect(draft.ID).To(Equal("test-id-123"))
			Expect(draft.Merchant).To(Equal("Starbucks Coffee"))
			Expect(draft.Category).To(Equal("Food & Dining"))
			Expect(db.receipts).To(BeEmpty())
		})

		It("should reject a form without a file", func() {
			body, ct := multipartBody("", nil, map[string]string{"merchant": "x"})
			resp := do("POST", "/api/receipts/scan", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var e map[string]string
			decodeBody(resp, &e)
			Expect(e["error"]).To(ContainSubstring("No file"))
		})

		It("should reject an empty file", func() {
			body, ct := multipartBody("receipt.jpg", []byte{}, nil)
			resp := do("POST", "/api/receipts/scan", body, ct)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("uploads are rate limited", func() {
			JustBeforeEach(func() {
				server.SetUploadLimit(0.001, 1)
			})

			It("should answer 429 once the burst is spent", func() {
				body, ct := multipartBody("a.jpg", []byte("img"), nil)
				first := do("POST", "/api/receipts/scan", body, ct)
				first.Body.Close()
				Expect(first.StatusCode).To(Equal(http.StatusOK))

				body, ct = multipartBody("b.jpg", []byte("img"), nil)
				second := do("POST", "/api/receipts/scan", body, ct)
				defer second.Body.Close()
				Expect(second.StatusCode).To(Equal(http.StatusTooManyRequests))
			})

			It("should not limit reads", func() {
				for i := 0; i < 3; i++ {
					resp := do("GET", "/api/receipts", nil, "")
					resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
				}
			})
		})
	})

	Describe("POST /api/receipts", func() {
		When("the body is JSON", func() {
			It("should create a manual receipt", func() {
				payload := `{"merchant":"Shell","total":4000,"date":"2024-01-02T00:00:00Z"}`
				resp := do("POST", "/api/receipts", strings.NewReader(payload), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var created Receipt
				decodeBody(resp, &created)
				Expect(created.Category).To(Equal("Transportation"))
				Expect(db.receipts).To(HaveKey(created.ID))
			})

			It("should reject an unknown category", func() {
				payload := `{"merchant":"Shell","total":4000,"category":"Crypto"}`
				resp := do("POST", "/api/receipts", strings.NewReader(payload), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var e map[string]string
				decodeBody(resp, &e)
				Expect(e["error"]).To(ContainSubstring("unknown category"))
			})

			It("should reject malformed JSON", func() {
				resp := do("POST", "/api/receipts", strings.NewReader("{"), "application/json")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the body is a multipart upload", func() {
			It("should merge the form fields over OCR", func() {
				body, ct := multipartBody("receipt.jpg", []byte("img"), map[string]string{
					"merchant": "Shell",
					"total":    "$12.34",
					"date":     "2023-12-24",
				})
				resp := do("POST", "/api/receipts", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var created Receipt
				decodeBody(resp, &created)
				Expect(created.Merchant).To(Equal("Shell"))
				Expect(created.Total).To(Equal(1234))
				Expect(created.Date).To(Equal(time.Date(2023, 12, 24, 0, 0, 0, 0, time.UTC)))
				Expect(db.receipts).To(HaveKey("test-id-123"))
			})

			It("should reject an invalid total", func() {
				body, ct := multipartBody("receipt.jpg", []byte("img"), map[string]string{"total": "lots"})
				resp := do("POST", "/api/receipts", body, ct)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should save an unreadable image with empty fields", func() {
				scanner.scanErr = errors.New("unreadable")
				body, ct := multipartBody("receipt.jpg", []byte("img"), nil)
				resp := do("POST", "/api/receipts", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var created Receipt
				decodeBody(resp, &created)
				Expect(created.Merchant).To(BeEmpty())
				Expect(created.Category).To(Equal("Other"))
				Expect(created.Filename).NotTo(BeEmpty())
			})
		})
	})

	Describe("receipt by ID", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{
				ID:          "r1",
				Merchant:    "Starbucks",
				Total:       500,
				Category:    "Food & Dining",
				Filename:    "r1_a.png",
				ContentType: "image/png",
				Date:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			storage.files["r1_a.png"] = []byte("png bytes")
		})

		It("should get a receipt", func() {
			resp := do("GET", "/api/receipts/r1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var got Receipt
			decodeBody(resp, &got)
			Expect(got.Merchant).To(Equal("Starbucks"))
		})

		It("should 404 unknown receipts", func() {
			resp := do("GET", "/api/receipts/nope", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should serve the file", func() {
			resp := do("GET", "/api/receipts/r1/file", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png bytes")))
		})

		It("should update a receipt", func() {
			payload := `{"merchant":"Shell","category":"","date":"2024-01-03"}`
			resp := do("PUT", "/api/receipts/r1", strings.NewReader(payload), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var got Receipt
			decodeBody(resp, &got)
			Expect(got.Merchant).To(Equal("Shell"))
			Expect(got.Category).To(Equal("Transportation"))
			Expect(got.Date).To(Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))
		})

		It("should reject an update with a bad date", func() {
			resp := do("PUT", "/api/receipts/r1", strings.NewReader(`{"date":"yesterday"}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should delete a receipt", func() {
			resp := do("DELETE", "/api/receipts/r1", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})

		It("should 404 deleting unknown receipts", func() {
			resp := do("DELETE", "/api/receipts/nope", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/receipts", func() {
		BeforeEach(func() {
			db.receipts["a"] = &Receipt{ID: "a", Merchant: "Shell", Category: "Transportation", Date: time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC)}
			db.receipts["b"] = &Receipt{ID: "b", Merchant: "Starbucks", Category: "Food & Dining", Date: time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)}
		})

		It("should list everything newest first", func() {
			resp := do("GET", "/api/receipts", nil, "")
			var got []Receipt
			decodeBody(resp, &got)
			Expect(got).To(HaveLen(2))
			Expect(got[0].ID).To(Equal("b"))
		})

		It("should include the whole to day", func() {
			resp := do("GET", "/api/receipts?from=2024-01-05&to=2024-01-05", nil, "")
			var got []Receipt
			decodeBody(resp, &got)
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("a"))
		})

		It("should filter by category", func() {
			resp := do("GET", "/api/receipts?category=Food+%26+Dining", nil, "")
			var got []Receipt
			decodeBody(resp, &got)
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("b"))
		})

		It("should reject bad dates", func() {
			resp := do("GET", "/api/receipts?from=01/05/2024", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return an empty array, not null", func() {
			db.receipts = map[string]*Receipt{}
			resp := do("GET", "/api/receipts", nil, "")
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(data))).To(Equal("[]"))
		})

		It("should 500 on database errors", func() {
			db.listErr = errors.New("boom")
			resp := do("GET", "/api/receipts", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("categories", func() {
		It("should categorize a JSON input", func() {
			payload := `{"merchant_name":"Random LLC","items":[{"name":"Widget","price":5}]}`
			resp := do("POST", "/api/categorize", strings.NewReader(payload), "application/json")
			var got map[string]string
			decodeBody(resp, &got)
			Expect(got).To(HaveKeyWithValue("category", "Other"))
		})

		It("should list the categories", func() {
			resp := do("GET", "/api/categories", nil, "")
			var got []string
			decodeBody(resp, &got)
			Expect(got).To(HaveLen(15))
			Expect(got[len(got)-1]).To(Equal("Other"))
		})
	})

	Describe("analytics", func() {
		BeforeEach(func() {
			db.receipts["a"] = &Receipt{ID: "a", Merchant: "Shell", Category: "Transportation", Total: 3000, Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)}
			db.receipts["b"] = &Receipt{ID: "b", Merchant: "Starbucks", Category: "Food & Dining", Total: 1000, Date: time.Date(2023, 12, 12, 0, 0, 0, 0, time.UTC)}
		})

		It("should return monthly trends", func() {
			resp := do("GET", "/api/analytics/monthly?months=2", nil, "")
			var got []MonthlyTotal
			decodeBody(resp, &got)
			Expect(got).To(Equal([]MonthlyTotal{
				{Month: "2023-12", Total: 1000, Count: 1},
				{Month: "2024-01", Total: 3000, Count: 1},
			}))
		})

		It("should reject a bad month count", func() {
			resp := do("GET", "/api/analytics/monthly?months=-3", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return top merchants", func() {
			resp := do("GET", "/api/analytics/merchants?limit=1", nil, "")
			var got []MerchantTotal
			decodeBody(resp, &got)
			Expect(got).To(Equal([]MerchantTotal{{Merchant: "Shell", Total: 3000, Count: 1}}))
		})

		It("should return the category breakdown", func() {
			resp := do("GET", "/api/analytics/categories", nil, "")
			var got []CategoryTotal
			decodeBody(resp, &got)
			Expect(got).To(HaveLen(2))
			Expect(got[0].Percentage).To(Equal(75.0))
		})
	})
})

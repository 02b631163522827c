package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-tracker/internal/receipt"
	"github.com/zombor/receipt-tracker/internal/scanning"
)

// transcriber is an OCR engine that returns fixed text
type transcriber struct {
	text  string
	paths []string
}

func (t *transcriber) Recognize(_ context.Context, path string) (*scanning.RawOCROutput, error) {
	t.paths = append(t.paths, path)
	return &scanning.RawOCROutput{Text: t.text, Confidence: 0.88}, nil
}

func (t *transcriber) Close() error {
	return nil
}

func receiptPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		for y := 0; y < 32; y++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 4)})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		tempDir     string
		storagePath string
		db          *receipt.BoltDB
		store       *receipt.LocalStorage
		engine      *transcriber
		server      *receipt.Server
		ghServer    *ghttp.Server
	)

	BeforeEach(func() {
		var err error
		tempDir = GinkgoT().TempDir()
		storagePath = filepath.Join(tempDir, "receipts")

		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = receipt.NewLocalStorage(storagePath)
		Expect(err).NotTo(HaveOccurred())

		engine = &transcriber{text: "Blue Bottle Coffee\n" +
			"03/04/2024\n" +
			"Latte 2 $9.00\n" +
			"Croissant $4.25\n" +
			"Total: $13.25\n"}
		pipeline := scanning.NewPipeline(scanning.NewPreprocessor(0), engine)

		service := receipt.NewService(db, pipeline, store)
		server = receipt.NewServer(service, receipt.BasicAuth{}) // No auth for testing convenience

		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	It("should scan a receipt, save the reviewed draft and report it", func() {
		ghServer.AppendHandlers(
			server.ServeHTTP, // scan
			server.ServeHTTP, // save
			server.ServeHTTP, // analytics
		)

		// --- Step 1: Scan Request ---
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "receipt.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(receiptPNG())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghServer.URL()+"/api/receipts/scan", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("application/json"))

		var draft receipt.Receipt
		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &draft)).To(Succeed())

		Expect(draft.Merchant).To(Equal("Blue Bottle Coffee"))
		Expect(draft.Total).To(Equal(1325))
		Expect(draft.Items).To(ContainElement(receipt.Item{Name: "Latte", Quantity: 2, Price: 900}))
		Expect(draft.Category).To(Equal("Food & Dining"))
		Expect(draft.OCRConfidence).To(Equal(0.88))

		// OCR ran on the preprocessed artifact, which is gone again
		Expect(engine.paths).To(HaveLen(1))
		Expect(engine.paths[0]).To(HaveSuffix(scanning.ArtifactSuffix))
		Expect(engine.paths[0]).NotTo(BeAnExistingFile())

		entries, err := os.ReadDir(storagePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))

		_, err = db.GetReceipt(draft.ID)
		Expect(err).To(MatchError(receipt.ErrNotFound))

		// --- Step 2: Save Request ---
		draft.Merchant = "Blue Bottle"
		saveReqBody, err := json.Marshal(draft)
		Expect(err).NotTo(HaveOccurred())
		saveResp, err := http.Post(ghServer.URL()+"/api/receipts", "application/json", bytes.NewReader(saveReqBody))
		Expect(err).NotTo(HaveOccurred())
		defer saveResp.Body.Close()
		Expect(saveResp.StatusCode).To(Equal(http.StatusCreated))

		saved, err := db.GetReceipt(draft.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Merchant).To(Equal("Blue Bottle"))
		Expect(saved.Filename).To(Equal(draft.Filename))

		// --- Step 3: Analytics ---
		statsResp, err := http.Get(ghServer.URL() + "/api/analytics/categories")
		Expect(err).NotTo(HaveOccurred())
		defer statsResp.Body.Close()

		var breakdown []receipt.CategoryTotal
		Expect(json.NewDecoder(statsResp.Body).Decode(&breakdown)).To(Succeed())
		Expect(breakdown).To(Equal([]receipt.CategoryTotal{
			{Category: "Food & Dining", Total: 1325, Count: 1, Percentage: 100},
		}))
	})
})

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestBatchEntries(t *testing.T) {
	s := newTestServer(t)
	milk := s.createIngredient(t, "Молоко", "1")
	sugar := s.createIngredient(t, "Сахар", "2")

	w, body := s.do(t, http.MethodPost, "/inventory/entries/batch", fmt.Sprintf(
		`{"entries":[{"ingredient_id":%d,"quantity":"0.5"},{"ingredient_id":%d,"quantity":1.25}]}`, milk, sugar))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	if got := len(body["movements"].([]interface{})); got != 2 {
		t.Fatalf("movements = %d", got)
	}

	w, body = s.do(t, http.MethodPost, "/inventory/entries/batch", fmt.Sprintf(
		`{"entries":[{"ingredient_id":%d,"quantity":"1"},{"ingredient_id":404,"quantity":"1"}]}`, milk))
	if w.Code != http.StatusNotFound || body["code"] != "IngredientNotFound" {
		t.Fatalf("unknown ingredient: %d %s", w.Code, w.Body.String())
	}

	w, body = s.do(t, http.MethodPost, "/inventory/entries/batch", `{"entries":[]}`)
	if w.Code != http.StatusBadRequest || body["kind"] != "ValidationError" {
		t.Fatalf("empty batch: %d %s", w.Code, w.Body.String())
	}

	// откат: остаток молока не изменился после неудачной накладной
	w, body = s.do(t, http.MethodGet, fmt.Sprintf("/ingredients/%d", milk), "")
	if w.Code != http.StatusOK || body["current_stock"].(float64) != 1.5 {
		t.Fatalf("milk after batches: %s", w.Body.String())
	}
}

func TestUploadEntriesSheet(t *testing.T) {
	s := newTestServer(t)
	milk := s.createIngredient(t, "Молоко", "1")

	x := excelize.NewFile()
	sheet := x.GetSheetName(0)
	_ = x.SetSheetRow(sheet, "A1", &[]interface{}{"ingredient_id", "quantity", "movement_kind", "note"})
	_ = x.SetSheetRow(sheet, "A2", &[]interface{}{milk, "3", "", "накладная 17"})
	var file bytes.Buffer
	if err := x.Write(&file); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "invoice.xlsx")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(file.Bytes())
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/inventory/entries/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	var decoded struct {
		Ingredients []struct {
			CurrentStock json.Number `json:"current_stock"`
		} `json:"ingredients"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Ingredients) != 1 || decoded.Ingredients[0].CurrentStock != "4.000" {
		t.Fatalf("ingredients = %+v", decoded.Ingredients)
	}

	// без файла
	req = httptest.NewRequest(http.MethodPost, "/inventory/entries/import", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing file: %d %s", w.Code, w.Body.String())
	}
}

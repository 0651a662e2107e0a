package e2e

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestPage_DefaultState(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/page", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if field(body, "page", "originTab") != "single" {
		t.Errorf("expected default tab 'single', got %v", field(body, "page", "originTab"))
	}
	if garments, ok := field(body, "page", "garments").([]interface{}); !ok || len(garments) != 0 {
		t.Errorf("expected empty garment list, got %v", field(body, "page", "garments"))
	}
}

func TestPage_GarmentLifecycle(t *testing.T) {
	ta := setupApp(t)

	for i, name := range []string{"Denim Jacket", "Silk Dress"} {
		body := fmt.Sprintf(`{"id": %d, "name": %q, "image": "https://shop.test/%d.jpg"}`, i+1, name, i+1)
		resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/page/garments", body)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodDelete, "/api/page/garments/0", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	garments, _ := field(body, "page", "garments").([]interface{})
	if len(garments) != 1 || garments[0].(map[string]interface{})["name"] != "Silk Dress" {
		t.Errorf("unexpected garments after removal: %v", garments)
	}

	resp, _ = doAuthRequest(t, ta.app, http.MethodDelete, "/api/page/garments/5", "")
	assertStatus(t, resp, http.StatusNotFound)

	resp, _ = doAuthRequest(t, ta.app, http.MethodDelete, "/api/page/garments/abc", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestPage_OriginTab(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPut, "/api/page/tab", `{"tab": "layered"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if field(parseJSON(t, resp), "page", "originTab") != "layered" {
		t.Error("expected tab to be layered")
	}

	resp, _ = doAuthRequest(t, ta.app, http.MethodPut, "/api/page/tab", `{"tab": "gallery"}`)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestPage_OversizedModelImage(t *testing.T) {
	ta := setupApp(t)

	big := "data:image/png;base64," + strings.Repeat("A", 1500000)
	resp, err := doAuthRequest(t, ta.app, http.MethodPut, "/api/page/model", fmt.Sprintf(`{"image": %q}`, big))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if field(parseJSON(t, resp), "persisted", "admitted") != false {
		t.Error("oversized model image must not be admitted to durable storage")
	}

	// the running process still sees the full value
	resp, _ = doAuthRequest(t, ta.app, http.MethodGet, "/api/page", "")
	if field(parseJSON(t, resp), "page", "modelImage") != big {
		t.Error("expected full model image from the volatile tier")
	}

	resp, _ = doAuthRequest(t, ta.app, http.MethodPut, "/api/page/model", fmt.Sprintf(`{"image": %q}`, pngDataURI))
	if field(parseJSON(t, resp), "persisted", "admitted") != true {
		t.Error("small model image should be admitted")
	}
}

func TestPage_ReplaceAndClear(t *testing.T) {
	ta := setupApp(t)

	body := `{"modelImage": "https://shop.test/model.jpg", "garments": [{"id": 7, "name": "Coat", "image": "https://shop.test/7.jpg"}], "originTab": "layered"}`
	resp, err := doAuthRequest(t, ta.app, http.MethodPut, "/api/page", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	resp, _ = doAuthRequest(t, ta.app, http.MethodDelete, "/api/page", "")
	assertStatus(t, resp, http.StatusNoContent)

	resp, _ = doAuthRequest(t, ta.app, http.MethodGet, "/api/page", "")
	page := parseJSON(t, resp)
	if field(page, "page", "modelImage") != "" || field(page, "page", "originTab") != "single" {
		t.Errorf("expected cleared page, got %v", page)
	}
}

func TestWishlist_Toggle(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/wishlist/42/toggle", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if parseJSON(t, resp)["added"] != true {
		t.Error("first toggle should add the product")
	}

	resp, _ = doAuthRequest(t, ta.app, http.MethodPost, "/api/wishlist/42/toggle", "")
	body := parseJSON(t, resp)
	if body["added"] != false {
		t.Error("second toggle should remove the product")
	}
	if ids, _ := body["productIds"].([]interface{}); len(ids) != 0 {
		t.Errorf("expected empty wishlist, got %v", ids)
	}

	resp, _ = doAuthRequest(t, ta.app, http.MethodPost, "/api/wishlist/nope/toggle", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestHistory_DeleteMissing(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodDelete, "/api/history/does-not-exist", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestHistory_DeleteRecorded(t *testing.T) {
	ta := setupApp(t)

	resp, _ := doAuthRequest(t, ta.app, http.MethodPost, "/api/tryon/start", tryOnBody())
	assertStatus(t, resp, http.StatusAccepted)
	waitForPhase(t, ta.app, "tryon", "succeeded")

	entries, _ := waitForHistory(t, ta.app, 1)["entries"].([]interface{})
	id, _ := entries[0].(map[string]interface{})["id"].(string)

	resp, _ = doAuthRequest(t, ta.app, http.MethodDelete, "/api/history/"+id, "")
	assertStatus(t, resp, http.StatusNoContent)

	resp, _ = doAuthRequest(t, ta.app, http.MethodGet, "/api/history", "")
	if parseJSON(t, resp)["count"] != float64(0) {
		t.Error("expected history to be empty after delete")
	}
}

func TestSafety_CheckGarment(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/safety/garment", `{"garmentDescription": "red cotton t-shirt"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if parseJSON(t, resp)["allowed"] != true {
		t.Error("expected plain garment to be allowed")
	}

	resp, _ = doAuthRequest(t, ta.app, http.MethodPost, "/api/safety/garment", `{"garmentDescription": "vest with a weapon print"}`)
	assertStatus(t, resp, http.StatusOK)
	if parseJSON(t, resp)["allowed"] != false {
		t.Error("expected garment to be blocked")
	}

	resp, _ = doAuthRequest(t, ta.app, http.MethodPost, "/api/safety/garment", `{}`)
	assertStatus(t, resp, http.StatusBadRequest)
}

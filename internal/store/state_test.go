package store

import (
	"context"
	"errors"
	"testing"

	"github.com/vizzle/studio/internal/model"
)

func TestPageStoreDefaults(t *testing.T) {
	pages := NewPageStore(newTestStore(NewMemoryBackend()), "test")

	state, err := pages.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if state.OriginTab != model.OriginTabSingle || len(state.Garments) != 0 || state.ModelImage != "" {
		t.Errorf("unexpected default state %+v", state)
	}
}

func TestPageStoreGarmentOps(t *testing.T) {
	ctx := context.Background()
	pages := NewPageStore(newTestStore(NewMemoryBackend()), "test")

	for i := 1; i <= 3; i++ {
		if _, _, err := pages.AddGarment(ctx, "u", model.GarmentEntry{ID: i, Name: "g"}); err != nil {
			t.Fatal(err)
		}
	}
	state, _, err := pages.AddGarment(ctx, "u", model.GarmentEntry{ID: 2, Name: "updated"})
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Garments) != 4 || state.Garments[1].Name != "g" || state.Garments[3].Name != "updated" {
		t.Errorf("re-adding an id should append it: %+v", state.Garments)
	}

	state, _, err = pages.RemoveGarment(ctx, "u", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Garments) != 3 || state.Garments[0].ID != 2 {
		t.Errorf("unexpected garments after remove: %+v", state.Garments)
	}

	if _, _, err := pages.RemoveGarment(ctx, "u", 5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}

	if _, _, err := pages.SetOriginTab(ctx, "u", model.OriginTabLayered); err != nil {
		t.Fatal(err)
	}
	if err := pages.Clear(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	state, _ = pages.Get(ctx, "u")
	if len(state.Garments) != 0 || state.OriginTab != model.OriginTabSingle {
		t.Errorf("state not cleared: %+v", state)
	}
}

func TestUploadStateStore(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	uploads := NewUploadStateStore(newTestStore(backend), "test")
	big := dataURI(2 * 1024 * 1024)

	asset := &model.UploadedAsset{URL: "https://cdn/h.jpg", PublicID: "h"}
	_, pv, err := uploads.SetSlot(ctx, "u", model.ImageRoleHuman, asset, big)
	if err != nil {
		t.Fatal(err)
	}
	if pv.Admitted {
		t.Error("oversized preview admitted")
	}

	reloaded, err := NewUploadStateStore(newTestStore(backend), "test").Get(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Human.Asset == nil || reloaded.Human.Asset.URL != "https://cdn/h.jpg" {
		t.Error("asset reference should survive reload")
	}
	if reloaded.Human.Preview != "" {
		t.Error("oversized preview survived reload")
	}

	state, _, err := uploads.SetSlot(ctx, "u", model.ImageRoleHuman, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if state.Human.Asset != nil {
		t.Error("slot not cleared")
	}
}

func TestResultStore(t *testing.T) {
	ctx := context.Background()
	results := NewResultStore(newTestStore(NewMemoryBackend()), "test")

	snap := model.JobResultSnapshot{JobID: "j1", Kind: model.JobKindTryOn, Status: model.JobStatusSucceeded, Output: "https://cdn/r.jpg"}
	if _, err := results.Put(ctx, "u", snap); err != nil {
		t.Fatal(err)
	}
	if _, err := results.Put(ctx, "u", model.JobResultSnapshot{JobID: "v1", Kind: model.JobKindVideo, Status: model.JobStatusFailed}); err != nil {
		t.Fatal(err)
	}

	got, err := results.Get(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[model.JobKindTryOn].Output != "https://cdn/r.jpg" {
		t.Errorf("unexpected results %+v", got)
	}

	if _, err := results.Clear(ctx, "u", model.JobKindVideo); err != nil {
		t.Fatal(err)
	}
	got, _ = results.Get(ctx, "u")
	if _, ok := got[model.JobKindVideo]; ok {
		t.Error("video result not cleared")
	}
}

func TestWishlistStore(t *testing.T) {
	ctx := context.Background()
	wishlist := NewWishlistStore(newTestStore(NewMemoryBackend()), "test")

	ids, added, err := wishlist.Toggle(ctx, "u", 7)
	if err != nil || !added || len(ids) != 1 {
		t.Fatalf("toggle on: ids=%v added=%v err=%v", ids, added, err)
	}
	ids, added, err = wishlist.Toggle(ctx, "u", 7)
	if err != nil || added || len(ids) != 0 {
		t.Fatalf("toggle off: ids=%v added=%v err=%v", ids, added, err)
	}

	ids, err = wishlist.Set(ctx, "u", []int{3, 1, 3})
	if err != nil || len(ids) != 2 || ids[0] != 3 || ids[1] != 1 {
		t.Fatalf("set: ids=%v err=%v", ids, err)
	}

	if err := wishlist.Clear(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	ids, _ = wishlist.Get(ctx, "u")
	if len(ids) != 0 {
		t.Errorf("wishlist not cleared: %v", ids)
	}
}

package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/vce-gateway/gateway/internal/intent"
)

type fakeCatalog struct {
	tracks []Track
	err    error
}

func (f fakeCatalog) Search(ctx context.Context, query string) ([]Track, error) {
	return f.tracks, f.err
}

func TestMusicHandlerNilCatalogReturnsDemo(t *testing.T) {
	h := MusicHandler{}
	res, err := h.Handle(context.Background(), "play music", "play music", "", intent.Deps{})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	tracks := res.MetaData.Payload.Params["tracks"].([]Track)
	if len(tracks) != len(demoPlaylist) {
		t.Fatalf("tracks = %d, want demo playlist len %d", len(tracks), len(demoPlaylist))
	}
}

func TestMusicHandlerAuthRequired(t *testing.T) {
	h := MusicHandler{Catalog: fakeCatalog{err: ErrMusicAuthRequired}}
	res, err := h.Handle(context.Background(), "play jazz", "play jazz", "", intent.Deps{})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if res.MetaData.Payload.Cmd != "auth_required" {
		t.Fatalf("Payload.Cmd = %q, want auth_required", res.MetaData.Payload.Cmd)
	}
	if _, ok := res.MetaData.Payload.Params["qr_token"].(string); !ok {
		t.Fatal("expected qr_token in params")
	}
}

func TestMusicHandlerCatalogErrorFallsBackToDemo(t *testing.T) {
	h := MusicHandler{Catalog: fakeCatalog{err: errors.New("boom")}}
	res, _ := h.Handle(context.Background(), "play jazz", "play jazz", "", intent.Deps{})
	tracks := res.MetaData.Payload.Params["tracks"].([]Track)
	if len(tracks) != len(demoPlaylist) {
		t.Fatalf("expected demo playlist fallback on error, got %d tracks", len(tracks))
	}
}

func TestMusicHandlerEmptyResultsFallsBackToDemo(t *testing.T) {
	h := MusicHandler{Catalog: fakeCatalog{tracks: nil}}
	res, _ := h.Handle(context.Background(), "play obscure b-side", "play obscure b-side", "", intent.Deps{})
	tracks := res.MetaData.Payload.Params["tracks"].([]Track)
	if len(tracks) != len(demoPlaylist) {
		t.Fatalf("expected demo playlist fallback on empty results, got %d tracks", len(tracks))
	}
}

func TestMusicHandlerSuccessReturnsCatalogTracks(t *testing.T) {
	want := []Track{{SongID: "1", Title: "Real Song"}}
	h := MusicHandler{Catalog: fakeCatalog{tracks: want}}
	res, _ := h.Handle(context.Background(), "play real song", "play real song", "", intent.Deps{})
	tracks := res.MetaData.Payload.Params["tracks"].([]Track)
	if len(tracks) != 1 || tracks[0].Title != "Real Song" {
		t.Fatalf("tracks = %+v, want real catalog result", tracks)
	}
	if res.UserPrompt != "Playing now." {
		t.Fatalf("UserPrompt = %q", res.UserPrompt)
	}
}

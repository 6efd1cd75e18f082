package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vce-gateway/gateway/internal/httpx"
	"github.com/vce-gateway/gateway/internal/intent"
	"github.com/vce-gateway/gateway/internal/proto"
)

// Track is one playable catalog entry, grounded on original_source's
// device/model.AudioTrack.
type Track struct {
	SongID   string `json:"song_id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Duration int    `json:"duration"`
	StoreURL string `json:"store_url"`
	CoverURL string `json:"cover_url"`
}

// ErrMusicAuthRequired is returned by MusicCatalog.Search when the backend
// needs a fresh OAuth grant, grounded on original_source's QQMusic
// AuthorizedError.
var ErrMusicAuthRequired = errors.New("music: authorization required")

// MusicCatalog abstracts the open/tencent music backends, reimplemented as a
// plain HTTP JSON client per original_source's openapi/music/*.
type MusicCatalog interface {
	Search(ctx context.Context, query string) ([]Track, error)
}

// HTTPMusicCatalog queries a single JSON endpoint returning {"tracks": [...]}.
type HTTPMusicCatalog struct {
	baseURL string
	client  *http.Client
}

// NewHTTPMusicCatalog builds a catalog client against baseURL, pooled at
// poolSize connections.
func NewHTTPMusicCatalog(baseURL string, poolSize int) *HTTPMusicCatalog {
	return &HTTPMusicCatalog{baseURL: baseURL, client: httpx.NewPooledClient(poolSize, 10*time.Second)}
}

func (m *HTTPMusicCatalog) Search(ctx context.Context, query string) ([]Track, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/search?q="+query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("music search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrMusicAuthRequired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("music search status %d", resp.StatusCode)
	}

	var out struct {
		Tracks []Track `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("music search decode: %w", err)
	}
	return out.Tracks, nil
}

// demoPlaylist is the built-in fallback, grounded on original_source's
// open_music.py RESOURCES table.
var demoPlaylist = []Track{
	{SongID: "demo-1", Title: "Morning Chimes", Artist: "Nursery Rhymes", Duration: 43},
	{SongID: "demo-2", Title: "Sounds of Nature", Artist: "Nursery Rhymes", Duration: 71},
	{SongID: "demo-3", Title: "Clapping Game", Artist: "Nursery Rhymes", Duration: 58},
}

// MusicHandler implements intent.Handler for the music intent.
type MusicHandler struct {
	Catalog MusicCatalog
}

var _ intent.Handler = MusicHandler{}

func (h MusicHandler) Handle(ctx context.Context, text, content, history string, deps intent.Deps) (intent.ActionResult, error) {
	if h.Catalog == nil {
		return playlistResult(demoPlaylist, "Here's something from our collection."), nil
	}

	tracks, err := h.Catalog.Search(ctx, content)
	switch {
	case errors.Is(err, ErrMusicAuthRequired):
		token := uuid.NewString()
		cmd := proto.BuildCommand(proto.CommandMusic, "auth_required", map[string]any{"qr_token": token})
		return intent.ActionResult{UserPrompt: "Please scan the code to link your music account.", MetaData: &cmd}, nil
	case err != nil:
		return playlistResult(demoPlaylist, "I couldn't reach the music service, so here's something from our collection."), nil
	case len(tracks) == 0:
		return playlistResult(demoPlaylist, "I couldn't find that, so here's something from our collection."), nil
	default:
		return playlistResult(tracks, "Playing now."), nil
	}
}

func playlistResult(tracks []Track, userPrompt string) intent.ActionResult {
	cmd := proto.BuildCommand(proto.CommandMusic, "play", map[string]any{"tracks": tracks})
	return intent.ActionResult{UserPrompt: userPrompt, MetaData: &cmd}
}
